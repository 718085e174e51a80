package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// nonAlphanumeric matches any character that is not alphanumeric or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// DiscoveryConfig holds a single HA MQTT discovery payload.
type DiscoveryConfig struct {
	Topic   string // Full MQTT topic (homeassistant/...)
	Payload []byte // JSON-encoded config
}

// HADevice is the "device" block in HA discovery payloads.
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// BinarySensorConfig is the HA discovery payload for binary_sensor.
type BinarySensorConfig struct {
	Name        string   `json:"name"`
	ObjectID    string   `json:"object_id"`
	UniqueID    string   `json:"unique_id"`
	StateTopic  string   `json:"state_topic"`
	DeviceClass string   `json:"device_class,omitempty"`
	PayloadOn   string   `json:"payload_on"`
	PayloadOff  string   `json:"payload_off"`
	Device      HADevice `json:"device"`
	Icon        string   `json:"icon,omitempty"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name              string   `json:"name"`
	ObjectID          string   `json:"object_id"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            HADevice `json:"device"`
}

// sensorSpec describes one numeric metric entity of a device.
type sensorSpec struct {
	key  string
	name string
	unit string
	icon string
}

var metricSensors = []sensorSpec{
	{key: "cpu", name: "CPU", unit: "%", icon: "mdi:cpu-64-bit"},
	{key: "memory", name: "Memory", unit: "%", icon: "mdi:memory"},
	{key: "uptime", name: "Uptime", unit: "s", icon: "mdi:timer-outline"},
}

// SafeObjectID sanitizes a string for use as an HA object_id.
// Replaces any non-alphanumeric character (except underscore) with underscore,
// lowercases, and trims leading/trailing underscores.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

func buildHADevice(deviceID, name string) HADevice {
	if name == "" {
		name = deviceID
	}
	return HADevice{
		Identifiers:  []string{"nasguard_" + deviceID},
		Name:         name,
		Model:        "RouterOS",
		Manufacturer: "MikroTik",
		ViaDevice:    "nasguard",
	}
}

// deviceStateTopic is where the bridge publishes a device's state values.
func deviceStateTopic(topicPrefix, deviceID, key string) string {
	return topicPrefix + "/device/" + deviceID + "/" + key
}

// BuildDeviceDiscoveryConfigs creates HA discovery config payloads for a
// network access device: a connectivity binary_sensor plus CPU, memory and
// uptime sensors.
func BuildDeviceDiscoveryConfigs(deviceID, name, topicPrefix, haPrefix string) []DiscoveryConfig {
	if deviceID == "" {
		return nil
	}
	safeID := SafeObjectID(deviceID)
	haDevice := buildHADevice(deviceID, name)

	configs := make([]DiscoveryConfig, 0, 1+len(metricSensors))

	onlineCfg := BinarySensorConfig{
		Name:        haDevice.Name + " Online",
		ObjectID:    "nasguard_" + safeID + "_online",
		UniqueID:    "nasguard_" + safeID + "_online",
		StateTopic:  deviceStateTopic(topicPrefix, deviceID, "online"),
		DeviceClass: "connectivity",
		PayloadOn:   "ON",
		PayloadOff:  "OFF",
		Device:      haDevice,
		Icon:        "mdi:router-network",
	}
	if payload, err := json.Marshal(onlineCfg); err == nil {
		configs = append(configs, DiscoveryConfig{
			Topic:   fmt.Sprintf("%s/binary_sensor/nasguard_%s/online/config", haPrefix, safeID),
			Payload: payload,
		})
	}

	for _, s := range metricSensors {
		cfg := SensorConfig{
			Name:              haDevice.Name + " " + s.name,
			ObjectID:          "nasguard_" + safeID + "_" + s.key,
			UniqueID:          "nasguard_" + safeID + "_" + s.key,
			StateTopic:        deviceStateTopic(topicPrefix, deviceID, s.key),
			UnitOfMeasurement: s.unit,
			StateClass:        "measurement",
			Icon:              s.icon,
			Device:            haDevice,
		}
		payload, err := json.Marshal(cfg)
		if err != nil {
			continue
		}
		configs = append(configs, DiscoveryConfig{
			Topic:   fmt.Sprintf("%s/sensor/nasguard_%s/%s/config", haPrefix, safeID, s.key),
			Payload: payload,
		})
	}
	return configs
}
