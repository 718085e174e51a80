package ws

import (
	"time"
)

// MessageType discriminates server-to-client WebSocket messages. Device
// events reuse the monitor's event type names.
type MessageType string

const (
	MessageDeviceStatus      MessageType = "device_status"
	MessageDeviceMetrics     MessageType = "device_metrics"
	MessageInterfaceTraffic  MessageType = "interface_traffic"
	MessageSubscriberTraffic MessageType = "subscriber_traffic"
	MessageSyncCompleted     MessageType = "sync_completed"
	MessageWatching          MessageType = "watching"
	MessageError             MessageType = "error"
)

// Message is the envelope for all server-to-client messages.
type Message struct {
	Type      MessageType `json:"type"`
	DeviceID  string      `json:"device_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// WatchingData acknowledges a watch request with the resulting watch set
// of the stream's device. Subscribers owned by other devices are listed
// under Elsewhere keyed by owning device.
type WatchingData struct {
	Interfaces  []string            `json:"interfaces"`
	Subscribers []string            `json:"subscribers"`
	Elsewhere   map[string][]string `json:"elsewhere,omitempty"`
}

// ErrorData is the payload for error messages.
type ErrorData struct {
	Error string `json:"error"`
}

// ClientAction is the type of a client-to-server message.
type ClientAction string

const (
	ActionWatchInterfaces    ClientAction = "watch_interfaces"
	ActionUnwatchInterfaces  ClientAction = "unwatch_interfaces"
	ActionWatchSubscribers   ClientAction = "watch_subscribers"
	ActionUnwatchSubscribers ClientAction = "unwatch_subscribers"
)

// ClientMessage is a client-to-server request.
type ClientMessage struct {
	Type        ClientAction `json:"type"`
	Interfaces  []string     `json:"interfaces,omitempty"`
	Subscribers []string     `json:"subscribers,omitempty"`
}
