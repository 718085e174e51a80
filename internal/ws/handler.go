package ws

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/HerbHall/nasguard/internal/monitor"
	"github.com/HerbHall/nasguard/internal/server"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Watcher manages the monitor's per-device watch sets.
type Watcher interface {
	WatchInterfaces(deviceID string, names ...string)
	UnwatchInterfaces(deviceID string, names ...string)
	WatchSubscribers(ctx context.Context, hint string, ids []string) (map[string][]string, error)
	UnwatchDeviceSubscribers(deviceID string, ids ...string)
	Watched(deviceID string) (interfaces, subscribers []string)
}

// Handler provides the per-device real-time event stream.
type Handler struct {
	hub     *Hub
	watcher Watcher
	bus     plugin.EventBus
	pinned  []string
	logger  *zap.Logger
}

var _ server.RouteRegistrar = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithPinnedInterfaces names interfaces that stay watched when the last
// client watching them disconnects.
func WithPinnedInterfaces(names ...string) Option {
	return func(h *Handler) { h.pinned = append(h.pinned, names...) }
}

// NewHandler creates a WebSocket handler and subscribes to monitor events.
func NewHandler(watcher Watcher, bus plugin.EventBus, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		hub:     NewHub(logger),
		watcher: watcher,
		bus:     bus,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.subscribeToEvents()
	return h
}

// Hub returns the handler's connection hub.
func (h *Handler) Hub() *Hub { return h.hub }

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/devices/{device_id}", h.handleDeviceStream)
}

// handleDeviceStream upgrades the connection and streams one device's
// events until the client goes away.
func (h *Handler) handleDeviceStream(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if deviceID == "" {
		server.BadRequest(w, "device_id is required", r.URL.Path)
		return
	}
	if h.watcher == nil {
		server.Unavailable(w, "device monitor not available", r.URL.Path)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(conn, deviceID, h.logger)
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until the client disconnects.
	h.readPump(ctx, client)

	ifaces, subs := h.hub.Unregister(client)
	h.release(deviceID, ifaces, subs)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// readPump decodes client requests and applies them to the monitor.
func (h *Handler) readPump(ctx context.Context, c *Client) {
	for {
		var req ClientMessage
		if err := wsjson.Read(ctx, c.conn, &req); err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) && ctx.Err() == nil {
				h.logger.Debug("websocket read error", zap.String("device_id", c.deviceID), zap.Error(err))
			}
			return
		}
		c.reply(h.apply(ctx, c, req))
	}
}

// apply handles one client request and returns the reply.
func (h *Handler) apply(ctx context.Context, c *Client, req ClientMessage) Message {
	reply := Message{Type: MessageWatching, DeviceID: c.deviceID, Timestamp: time.Now().UTC()}
	var elsewhere map[string][]string

	switch req.Type {
	case ActionWatchInterfaces:
		h.hub.WatchInterfaces(c, req.Interfaces)
		h.watcher.WatchInterfaces(c.deviceID, req.Interfaces...)
	case ActionUnwatchInterfaces:
		released := h.hub.UnwatchInterfaces(c, req.Interfaces)
		h.release(c.deviceID, released, nil)
	case ActionWatchSubscribers:
		byDevice, err := h.watcher.WatchSubscribers(ctx, c.deviceID, req.Subscribers)
		if err != nil {
			h.logger.Warn("watch subscribers failed", zap.String("device_id", c.deviceID), zap.Error(err))
			return errorMessage(c.deviceID, "watch subscribers failed")
		}
		moved := h.hub.WatchSubscribers(c, byDevice)
		h.release(c.deviceID, nil, moved)
		for deviceID, ids := range byDevice {
			if deviceID == c.deviceID {
				continue
			}
			if elsewhere == nil {
				elsewhere = make(map[string][]string)
			}
			elsewhere[deviceID] = ids
		}
	case ActionUnwatchSubscribers:
		released := h.hub.UnwatchSubscribers(c, req.Subscribers)
		h.release(c.deviceID, nil, released)
	default:
		return errorMessage(c.deviceID, "unknown message type "+string(req.Type))
	}

	ifaces, subs := h.watcher.Watched(c.deviceID)
	reply.Data = WatchingData{Interfaces: ifaces, Subscribers: subs, Elsewhere: elsewhere}
	return reply
}

// release unwatches items no client holds anymore, keeping pinned
// interfaces. Subscribers are unwatched on the device that owns them.
func (h *Handler) release(deviceID string, interfaces []string, subscribers map[string][]string) {
	interfaces = slices.DeleteFunc(interfaces, func(name string) bool {
		return slices.Contains(h.pinned, name)
	})
	if len(interfaces) > 0 {
		h.watcher.UnwatchInterfaces(deviceID, interfaces...)
	}
	for owner, ids := range subscribers {
		h.watcher.UnwatchDeviceSubscribers(owner, ids...)
	}
}

func errorMessage(deviceID, text string) Message {
	return Message{
		Type:      MessageError,
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Data:      ErrorData{Error: text},
	}
}

// subscribeToEvents forwards every monitor event to the clients of the
// event's device.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}
	for _, typ := range monitor.EventTypes() {
		h.bus.Subscribe(monitor.Topic(typ), h.forward)
	}
	h.logger.Info("subscribed to monitor events for WebSocket streaming")
}

func (h *Handler) forward(_ context.Context, event plugin.Event) {
	de, ok := event.Payload.(monitor.DeviceEvent)
	if !ok {
		return
	}
	h.hub.Broadcast(de.DeviceID, Message{
		Type:      MessageType(de.Type),
		DeviceID:  de.DeviceID,
		Timestamp: de.Timestamp,
		Data:      de.Data,
	})
}
