package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Client represents a WebSocket client streaming one device.
type Client struct {
	conn     *websocket.Conn
	deviceID string
	send     chan Message
	logger   *zap.Logger

	// Guarded by the hub mutex. interfaces belong to deviceID;
	// subscribers map each watched id to the device that owns it.
	interfaces  map[string]struct{}
	subscribers map[string]string
}

func newClient(conn *websocket.Conn, deviceID string, logger *zap.Logger) *Client {
	return &Client{
		conn:        conn,
		deviceID:    deviceID,
		send:        make(chan Message, 256),
		logger:      logger,
		interfaces:  make(map[string]struct{}),
		subscribers: make(map[string]string),
	}
}

// watchKey identifies one watch in a device's monitor watch set.
type watchKey struct {
	deviceID string
	item     string
}

// Hub manages active WebSocket connections grouped by device and fans
// device events out to them. It also counts how many clients hold each
// watch so a watch is released only when its last holder lets go.
type Hub struct {
	mu          sync.RWMutex
	devices     map[string]map[*Client]struct{}
	interfaces  map[watchKey]int
	subscribers map[watchKey]int
	logger      *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		devices:     make(map[string]map[*Client]struct{}),
		interfaces:  make(map[watchKey]int),
		subscribers: make(map[watchKey]int),
		logger:      logger,
	}
}

// Register adds a client to its device's group.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	group := h.devices[c.deviceID]
	if group == nil {
		group = make(map[*Client]struct{})
		h.devices[c.deviceID] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", zap.String("device_id", c.deviceID))
}

// Unregister removes a client and closes its send channel. It returns the
// client's interfaces and subscribers that no other client holds anymore,
// subscribers grouped by owning device.
func (h *Hub) Unregister(c *Client) (interfaces []string, subscribers map[string][]string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group := h.devices[c.deviceID]
	if _, ok := group[c]; !ok {
		return nil, nil
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.devices, c.deviceID)
	}
	close(c.send)

	for name := range c.interfaces {
		if h.releaseLocked(h.interfaces, watchKey{c.deviceID, name}) {
			interfaces = append(interfaces, name)
		}
	}
	c.interfaces = make(map[string]struct{})
	subscribers = h.dropSubscribersLocked(c, nil)
	h.logger.Debug("websocket client disconnected", zap.String("device_id", c.deviceID))
	return interfaces, subscribers
}

// WatchInterfaces records interfaces of the client's device as held by c.
func (h *Hub) WatchInterfaces(c *Client, names []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range names {
		if _, ok := c.interfaces[name]; ok {
			continue
		}
		c.interfaces[name] = struct{}{}
		h.interfaces[watchKey{c.deviceID, name}]++
	}
}

// UnwatchInterfaces drops c's hold on names and returns those no client
// holds anymore. Names c never watched are ignored.
func (h *Hub) UnwatchInterfaces(c *Client, names []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var released []string
	for _, name := range names {
		if _, ok := c.interfaces[name]; !ok {
			continue
		}
		delete(c.interfaces, name)
		if h.releaseLocked(h.interfaces, watchKey{c.deviceID, name}) {
			released = append(released, name)
		}
	}
	return released
}

// WatchSubscribers records subscribers as held by c under the device that
// owns each of them. When an id c already held has moved to another
// device, c's old hold is dropped; the returned map lists old holds no
// client holds anymore, grouped by device.
func (h *Hub) WatchSubscribers(c *Client, byDevice map[string][]string) map[string][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var released map[string][]string
	for deviceID, ids := range byDevice {
		for _, id := range ids {
			prev, ok := c.subscribers[id]
			if ok && prev == deviceID {
				continue
			}
			if ok && h.releaseLocked(h.subscribers, watchKey{prev, id}) {
				if released == nil {
					released = make(map[string][]string)
				}
				released[prev] = append(released[prev], id)
			}
			c.subscribers[id] = deviceID
			h.subscribers[watchKey{deviceID, id}]++
		}
	}
	return released
}

// UnwatchSubscribers drops c's hold on ids and returns, grouped by owning
// device, those no client holds anymore. Ids c never watched are ignored,
// so one client cannot release another client's watch.
func (h *Hub) UnwatchSubscribers(c *Client, ids []string) map[string][]string {
	if len(ids) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropSubscribersLocked(c, ids)
}

// dropSubscribersLocked releases c's holds on ids, or on all of them when
// ids is nil.
func (h *Hub) dropSubscribersLocked(c *Client, ids []string) map[string][]string {
	if ids == nil {
		for id := range c.subscribers {
			ids = append(ids, id)
		}
	}
	var released map[string][]string
	for _, id := range ids {
		deviceID, ok := c.subscribers[id]
		if !ok {
			continue
		}
		delete(c.subscribers, id)
		if h.releaseLocked(h.subscribers, watchKey{deviceID, id}) {
			if released == nil {
				released = make(map[string][]string)
			}
			released[deviceID] = append(released[deviceID], id)
		}
	}
	return released
}

// releaseLocked decrements a hold count and reports whether it reached
// zero.
func (h *Hub) releaseLocked(counts map[watchKey]int, k watchKey) bool {
	n := counts[k] - 1
	if n > 0 {
		counts[k] = n
		return false
	}
	delete(counts, k)
	return true
}

// Broadcast sends a message to every client of one device.
func (h *Hub) Broadcast(deviceID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.devices[deviceID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("device_id", deviceID),
				zap.String("type", string(msg.Type)))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, group := range h.devices {
		n += len(group)
	}
	return n
}

// DeviceClientCount returns the number of clients streaming deviceID.
func (h *Hub) DeviceClientCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices[deviceID])
}

// writePump sends messages from the client's send channel to the WebSocket.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				// Channel closed by hub (unregister).
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := wsjson.Write(writeCtx, c.conn, msg); err != nil {
				cancel()
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
			cancel()
		}
	}
}

// reply queues a message for this client only. Called from the read loop
// while the client is registered.
func (c *Client) reply(msg Message) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("client send buffer full, dropping reply", zap.String("device_id", c.deviceID))
	}
}
