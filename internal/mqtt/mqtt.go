package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/HerbHall/nasguard/internal/inventory"
	"github.com/HerbHall/nasguard/internal/monitor"
	"github.com/HerbHall/nasguard/internal/outbox"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// DeviceLookup resolves device display names for HA discovery.
type DeviceLookup interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
}

// Module implements the MQTT bridge plugin. It subscribes to monitor and
// outbox events on the event bus and mirrors them to an MQTT broker,
// optionally announcing devices through Home Assistant auto-discovery.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	client    pahomqtt.Client
	devices   DeviceLookup
	mu        sync.RWMutex
	haEnabled bool
	haPrefix  string

	announcedMu sync.Mutex
	announced   map[string]bool
}

// New creates a new MQTT bridge plugin instance.
func New() *Module {
	return &Module{announced: make(map[string]bool)}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "mqtt",
		Version:     "0.1.0",
		Description: "Mirrors device monitor and outbox events to an MQTT broker",
		Roles:       []string{"notification", "integration"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()

	if deps.Config != nil {
		if u := deps.Config.GetString("broker_url"); u != "" {
			m.cfg.BrokerURL = u
		}
		if u := deps.Config.GetString("username"); u != "" {
			m.cfg.Username = u
		}
		if p := deps.Config.GetString("password"); p != "" {
			m.cfg.Password = p
		}
		if c := deps.Config.GetString("client_id"); c != "" {
			m.cfg.ClientID = c
		}
		if t := deps.Config.GetString("topic_prefix"); t != "" {
			m.cfg.TopicPrefix = t
		}
		if deps.Config.IsSet("qos") {
			m.cfg.QoS = byte(deps.Config.GetInt("qos")) //nolint:gosec // G115: QoS is 0-2
		}
		if deps.Config.IsSet("retain") {
			m.cfg.Retain = deps.Config.GetBool("retain")
		}
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if deps.Config.IsSet("ha_discovery") {
			m.cfg.HADiscovery = deps.Config.GetBool("ha_discovery")
		}
		if p := deps.Config.GetString("ha_discovery_prefix"); p != "" {
			m.cfg.HADiscoveryPrefix = p
		}
	}

	m.haEnabled = m.cfg.HADiscovery
	m.haPrefix = m.cfg.HADiscoveryPrefix

	if deps.Plugins != nil {
		if p, ok := deps.Plugins.Resolve("inventory"); ok {
			if inv, ok := p.(*inventory.Module); ok && inv.Store() != nil {
				m.devices = inv.Store()
			}
		}
	}

	if m.cfg.BrokerURL == "" {
		m.logger.Warn("MQTT broker URL not configured; events will be dropped",
			zap.String("component", "mqtt"),
		)
	}

	m.logger.Info("mqtt module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
		zap.Uint8("qos", m.cfg.QoS),
		zap.Bool("ha_discovery", m.haEnabled),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("mqtt module started (no-op: no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(m.cfg.Timeout)

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		m.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		m.logger.Info("mqtt connected to broker",
			zap.String("broker_url", m.cfg.BrokerURL),
		)
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber. Traffic events are left
// to the WebSocket stream; they fire every poll cycle.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: monitor.Topic(monitor.EventDeviceStatus), Handler: m.publishEvent},
		{Topic: monitor.Topic(monitor.EventDeviceMetrics), Handler: m.publishEvent},
		{Topic: monitor.Topic(monitor.EventSyncCompleted), Handler: m.publishEvent},
		{Topic: outbox.TopicOperationFailed, Handler: m.publishEvent},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{
			Status:  "healthy",
			Message: "no broker configured (no-op mode)",
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "not connected to MQTT broker",
		}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Message: "connected to " + m.cfg.BrokerURL,
	}
}

// mqttTopicFromEvent maps an event bus topic to an MQTT topic path.
// deviceID is empty for events not scoped to a device.
func (m *Module) mqttTopicFromEvent(eventTopic, deviceID string) string {
	switch eventTopic {
	case monitor.Topic(monitor.EventDeviceStatus):
		return deviceStateTopic(m.cfg.TopicPrefix, deviceID, "status")
	case monitor.Topic(monitor.EventDeviceMetrics):
		return deviceStateTopic(m.cfg.TopicPrefix, deviceID, "metrics")
	case monitor.Topic(monitor.EventSyncCompleted):
		return deviceStateTopic(m.cfg.TopicPrefix, deviceID, "sync")
	case outbox.TopicOperationFailed:
		return m.cfg.TopicPrefix + "/operation/failed"
	default:
		return m.cfg.TopicPrefix + "/unknown"
	}
}

func (m *Module) publishEvent(ctx context.Context, event plugin.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil || !m.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		m.logger.Warn("failed to marshal MQTT payload",
			zap.String("topic", event.Topic),
			zap.Error(err),
		)
		return
	}

	de, isDevice := extractDeviceEvent(event.Payload)
	mqttTopic := m.mqttTopicFromEvent(event.Topic, de.DeviceID)
	if err := m.publish(mqttTopic, m.cfg.Retain, payload); err != nil {
		m.logger.Warn("mqtt publish failed",
			zap.String("mqtt_topic", mqttTopic),
			zap.Error(err),
		)
		return
	}

	m.logger.Debug("mqtt event published",
		zap.String("mqtt_topic", mqttTopic),
		zap.String("event_topic", event.Topic),
	)

	if m.haEnabled && isDevice {
		m.publishHAForEvent(ctx, de)
	}
}

// publish sends one message and waits for the broker acknowledgement.
// Callers hold m.mu.
func (m *Module) publish(topic string, retained bool, payload []byte) error {
	token := m.client.Publish(topic, m.cfg.QoS, retained, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// publishHAForEvent announces the device on first sight, then publishes
// the retained state values its HA entities read.
func (m *Module) publishHAForEvent(ctx context.Context, de monitor.DeviceEvent) {
	switch de.Type {
	case monitor.EventDeviceStatus:
		m.announce(ctx, de.DeviceID)
		data, ok := de.Data.(monitor.DeviceStatusData)
		if !ok {
			return
		}
		state := "OFF"
		if data.State == models.ConnectionOnline {
			state = "ON"
		}
		m.publishState(deviceStateTopic(m.cfg.TopicPrefix, de.DeviceID, "online"), state)

	case monitor.EventDeviceMetrics:
		m.announce(ctx, de.DeviceID)
		metrics, ok := de.Data.(models.DeviceMetrics)
		if !ok {
			return
		}
		m.publishState(deviceStateTopic(m.cfg.TopicPrefix, de.DeviceID, "cpu"), strconv.Itoa(metrics.CPULoad))
		m.publishState(deviceStateTopic(m.cfg.TopicPrefix, de.DeviceID, "memory"),
			strconv.FormatFloat(metrics.MemoryUsedPct, 'f', 1, 64))
		m.publishState(deviceStateTopic(m.cfg.TopicPrefix, de.DeviceID, "uptime"),
			strconv.FormatInt(metrics.UptimeSeconds, 10))
	}
}

// announce publishes the discovery configs of a device once per process.
func (m *Module) announce(ctx context.Context, deviceID string) {
	m.announcedMu.Lock()
	if m.announced[deviceID] {
		m.announcedMu.Unlock()
		return
	}
	m.announced[deviceID] = true
	m.announcedMu.Unlock()

	var name string
	if m.devices != nil {
		if dev, err := m.devices.GetDevice(ctx, deviceID); err == nil && dev != nil {
			name = dev.Name
		}
	}
	m.publishHADiscovery(BuildDeviceDiscoveryConfigs(deviceID, name, m.cfg.TopicPrefix, m.haPrefix))
}

// publishHADiscovery publishes a batch of HA discovery config payloads.
func (m *Module) publishHADiscovery(configs []DiscoveryConfig) {
	for i := range configs {
		// Discovery configs are always retained so HA picks them up on restart.
		if err := m.publish(configs[i].Topic, true, configs[i].Payload); err != nil {
			m.logger.Warn("ha discovery publish failed",
				zap.String("topic", configs[i].Topic),
				zap.Error(err),
			)
			continue
		}
		m.logger.Debug("ha discovery published", zap.String("topic", configs[i].Topic))
	}
}

// publishState publishes a retained state value to an MQTT topic.
func (m *Module) publishState(topic, value string) {
	if err := m.publish(topic, true, []byte(value)); err != nil {
		m.logger.Warn("state publish failed",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	m.logger.Debug("state published", zap.String("topic", topic), zap.String("value", value))
}

// extractDeviceEvent attempts to extract a monitor.DeviceEvent from an
// event payload.
func extractDeviceEvent(payload interface{}) (monitor.DeviceEvent, bool) {
	switch v := payload.(type) {
	case monitor.DeviceEvent:
		return v, true
	case *monitor.DeviceEvent:
		if v == nil {
			return monitor.DeviceEvent{}, false
		}
		return *v, true
	default:
		return monitor.DeviceEvent{}, false
	}
}
