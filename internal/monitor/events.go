package monitor

import (
	"context"
	"time"

	"github.com/HerbHall/nasguard/internal/traffic"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
)

// Real-time event types. Each is published on the bus under Topic(type).
const (
	EventDeviceStatus      = "device_status"
	EventDeviceMetrics     = "device_metrics"
	EventInterfaceTraffic  = "interface_traffic"
	EventSubscriberTraffic = "subscriber_traffic"
	EventSyncCompleted     = "sync_completed"
)

// TopicPrefix is shared by every monitor bus topic.
const TopicPrefix = "monitor."

// Topic returns the bus topic for a real-time event type.
func Topic(eventType string) string {
	return TopicPrefix + eventType
}

// EventTypes lists every real-time event type, for subscribers that
// forward all of them.
func EventTypes() []string {
	return []string{
		EventDeviceStatus,
		EventDeviceMetrics,
		EventInterfaceTraffic,
		EventSubscriberTraffic,
		EventSyncCompleted,
	}
}

// DeviceEvent is the payload of every monitor topic.
type DeviceEvent struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// DeviceStatusData is the data of a device_status event.
type DeviceStatusData struct {
	State  models.ConnectionState `json:"state"`
	Reason string                 `json:"reason,omitempty"`
}

// InterfaceTrafficData is the data of an interface_traffic event.
type InterfaceTrafficData struct {
	Interfaces []traffic.InterfaceTraffic `json:"interfaces"`
}

// SubscriberTrafficData is the data of a subscriber_traffic event. Only
// subscribers whose snapshot changed are included.
type SubscriberTrafficData struct {
	Subscribers map[string]models.Snapshot `json:"subscribers"`
}

// SyncCompletedData is the data of a sync_completed event.
type SyncCompletedData struct {
	Completed int  `json:"completed"`
	Retrying  int  `json:"retrying"`
	Failed    int  `json:"failed"`
	Aborted   bool `json:"aborted"`
}

func (m *Monitor) publish(ctx context.Context, eventType, deviceID string, data any) {
	if m.deps.Bus == nil {
		return
	}
	now := m.now()
	m.deps.Bus.PublishAsync(ctx, plugin.Event{
		Topic:     Topic(eventType),
		Source:    "monitor",
		Timestamp: now,
		Payload: DeviceEvent{
			Type:      eventType,
			DeviceID:  deviceID,
			Timestamp: now,
			Data:      data,
		},
	})
}
