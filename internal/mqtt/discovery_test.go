package mqtt

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSafeObjectID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple hostname", "nas-core-01", "nas_core_01"},
		{"UUID", "550e8400-e29b-41d4-a716-446655440000", "550e8400_e29b_41d4_a716_446655440000"},
		{"dots and colons", "00:1a:2b:3c:4d:5e", "00_1a_2b_3c_4d_5e"},
		{"IP address", "192.168.1.1", "192_168_1_1"},
		{"already clean", "mydevice", "mydevice"},
		{"uppercase", "MyDevice", "mydevice"},
		{"leading special chars", "---test", "test"},
		{"trailing special chars", "test---", "test"},
		{"empty string", "", "unknown"},
		{"only special chars", "---", "unknown"},
		{"mixed special", "device@home#1", "device_home_1"},
		{"underscores preserved", "my_device_01", "my_device_01"},
		{"spaces", "my device", "my_device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeObjectID(tt.input)
			if got != tt.want {
				t.Errorf("SafeObjectID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildDeviceDiscoveryConfigs(t *testing.T) {
	configs := BuildDeviceDiscoveryConfigs("dev-001", "Core NAS", "nasguard", "homeassistant")
	if len(configs) != 4 {
		t.Fatalf("BuildDeviceDiscoveryConfigs() returned %d configs, want 4", len(configs))
	}

	for i, cfg := range configs {
		if len(cfg.Payload) == 0 {
			t.Errorf("configs[%d].Payload is empty", i)
		}
	}

	var onlineCfg BinarySensorConfig
	if err := json.Unmarshal(configs[0].Payload, &onlineCfg); err != nil {
		t.Fatalf("unmarshal online config: %v", err)
	}
	if onlineCfg.DeviceClass != "connectivity" {
		t.Errorf("online.DeviceClass = %q, want connectivity", onlineCfg.DeviceClass)
	}
	if onlineCfg.PayloadOn != "ON" || onlineCfg.PayloadOff != "OFF" {
		t.Errorf("online payloads = %q/%q, want ON/OFF", onlineCfg.PayloadOn, onlineCfg.PayloadOff)
	}
	if onlineCfg.StateTopic != "nasguard/device/dev-001/online" {
		t.Errorf("online.StateTopic = %q, want nasguard/device/dev-001/online", onlineCfg.StateTopic)
	}
	if onlineCfg.Device.Name != "Core NAS" {
		t.Errorf("online.Device.Name = %q, want Core NAS", onlineCfg.Device.Name)
	}
	if onlineCfg.Device.ViaDevice != "nasguard" {
		t.Errorf("online.Device.ViaDevice = %q, want nasguard", onlineCfg.Device.ViaDevice)
	}

	var cpuCfg SensorConfig
	if err := json.Unmarshal(configs[1].Payload, &cpuCfg); err != nil {
		t.Fatalf("unmarshal cpu config: %v", err)
	}
	if cpuCfg.UnitOfMeasurement != "%" {
		t.Errorf("cpu.UnitOfMeasurement = %q, want %%", cpuCfg.UnitOfMeasurement)
	}
	if cpuCfg.StateTopic != "nasguard/device/dev-001/cpu" {
		t.Errorf("cpu.StateTopic = %q, want nasguard/device/dev-001/cpu", cpuCfg.StateTopic)
	}
}

func TestBuildDeviceDiscoveryConfigs_NameFallback(t *testing.T) {
	configs := BuildDeviceDiscoveryConfigs("r7", "", "net", "homeassistant")

	var onlineCfg BinarySensorConfig
	if err := json.Unmarshal(configs[0].Payload, &onlineCfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if onlineCfg.Device.Name != "r7" {
		t.Errorf("Device.Name = %q, want r7 (fallback to ID)", onlineCfg.Device.Name)
	}
}

func TestBuildDeviceDiscoveryConfigs_EmptyID(t *testing.T) {
	if configs := BuildDeviceDiscoveryConfigs("", "x", "nasguard", "homeassistant"); configs != nil {
		t.Errorf("BuildDeviceDiscoveryConfigs(\"\") = %v, want nil", configs)
	}
}

func TestBuildDeviceDiscoveryConfigs_CustomPrefixes(t *testing.T) {
	configs := BuildDeviceDiscoveryConfigs("dev-99", "edge", "isp/nas", "ha_custom")

	for _, cfg := range configs {
		if !strings.HasPrefix(cfg.Topic, "ha_custom/") {
			t.Errorf("discovery topic = %q, want ha_custom/ prefix", cfg.Topic)
		}
	}

	var onlineCfg BinarySensorConfig
	if err := json.Unmarshal(configs[0].Payload, &onlineCfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(onlineCfg.StateTopic, "isp/nas/") {
		t.Errorf("state topic = %q, want isp/nas/ prefix", onlineCfg.StateTopic)
	}
}

func TestBuildDeviceDiscoveryConfigs_UniqueIDsAreUnique(t *testing.T) {
	configs := BuildDeviceDiscoveryConfigs("dev-unique", "unique", "nasguard", "homeassistant")

	uniqueIDs := make(map[string]bool)
	for _, cfg := range configs {
		var raw map[string]interface{}
		if err := json.Unmarshal(cfg.Payload, &raw); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		uid, ok := raw["unique_id"].(string)
		if !ok {
			t.Fatal("unique_id missing or not string")
		}
		if uniqueIDs[uid] {
			t.Errorf("duplicate unique_id: %q", uid)
		}
		uniqueIDs[uid] = true
	}
}

func TestBuildDeviceDiscoveryConfigs_TopicFormat(t *testing.T) {
	configs := BuildDeviceDiscoveryConfigs("abc-123", "myhost", "nasguard", "homeassistant")

	expectedTopics := []string{
		"homeassistant/binary_sensor/nasguard_abc_123/online/config",
		"homeassistant/sensor/nasguard_abc_123/cpu/config",
		"homeassistant/sensor/nasguard_abc_123/memory/config",
		"homeassistant/sensor/nasguard_abc_123/uptime/config",
	}

	for i, want := range expectedTopics {
		if configs[i].Topic != want {
			t.Errorf("configs[%d].Topic = %q, want %q", i, configs[i].Topic, want)
		}
	}
}
