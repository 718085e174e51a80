package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/nasguard/internal/event"
	"github.com/HerbHall/nasguard/internal/monitor"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWatcher keeps watch sets in memory. Subscribers whose id starts
// with "far-" belong to device r9.
type fakeWatcher struct {
	mu          sync.Mutex
	interfaces  map[string]map[string]bool
	subscribers map[string]map[string]bool
	unwatched   []string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		interfaces:  map[string]map[string]bool{},
		subscribers: map[string]map[string]bool{},
	}
}

func (f *fakeWatcher) set(m map[string]map[string]bool, deviceID string) map[string]bool {
	if m[deviceID] == nil {
		m[deviceID] = map[string]bool{}
	}
	return m[deviceID]
}

func (f *fakeWatcher) WatchInterfaces(deviceID string, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.set(f.interfaces, deviceID)[n] = true
	}
}

func (f *fakeWatcher) UnwatchInterfaces(deviceID string, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		delete(f.set(f.interfaces, deviceID), n)
		f.unwatched = append(f.unwatched, "iface:"+n)
	}
}

func (f *fakeWatcher) WatchSubscribers(_ context.Context, hint string, ids []string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]string{}
	for _, id := range ids {
		owner := hint
		if strings.HasPrefix(id, "far-") {
			owner = "r9"
		}
		f.set(f.subscribers, owner)[id] = true
		out[owner] = append(out[owner], id)
	}
	return out, nil
}

func (f *fakeWatcher) UnwatchDeviceSubscribers(deviceID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.set(f.subscribers, deviceID), id)
		f.unwatched = append(f.unwatched, "sub:"+deviceID+"/"+id)
	}
}

func (f *fakeWatcher) Watched(deviceID string) (interfaces, subscribers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for n := range f.interfaces[deviceID] {
		interfaces = append(interfaces, n)
	}
	for id := range f.subscribers[deviceID] {
		subscribers = append(subscribers, id)
	}
	sort.Strings(interfaces)
	sort.Strings(subscribers)
	return interfaces, subscribers
}

func (f *fakeWatcher) released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.unwatched...)
	sort.Strings(out)
	return out
}

type streamFixture struct {
	watcher *fakeWatcher
	bus     *event.Bus
	handler *Handler
	srv     *httptest.Server
}

func newStreamFixture(t *testing.T, opts ...Option) *streamFixture {
	t.Helper()
	f := &streamFixture{watcher: newFakeWatcher(), bus: event.NewBus(nil)}
	f.handler = NewHandler(f.watcher, f.bus, testLogger(), opts...)
	mux := http.NewServeMux()
	f.handler.RegisterRoutes(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *streamFixture) dial(t *testing.T, deviceID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/v1/ws/devices/" + deviceID
	conn, resp, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// rawMessage mirrors Message with the data left undecoded.
type rawMessage struct {
	Type     MessageType    `json:"type"`
	DeviceID string         `json:"device_id"`
	Data     map[string]any `json:"data"`
}

func request(t *testing.T, conn *websocket.Conn, req ClientMessage) rawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, req))
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg rawMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func TestStream_watch_interfaces_and_forward_events(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t, "r1")

	reply := request(t, conn, ClientMessage{Type: ActionWatchInterfaces, Interfaces: []string{"ether1"}})
	assert.Equal(t, MessageWatching, reply.Type)
	assert.Equal(t, "r1", reply.DeviceID)
	assert.Equal(t, []any{"ether1"}, reply.Data["interfaces"])
	assert.Equal(t, 1, f.handler.Hub().DeviceClientCount("r1"))

	ctx := context.Background()
	publish := func(deviceID string, state models.ConnectionState) {
		require.NoError(t, f.bus.Publish(ctx, plugin.Event{
			Topic: monitor.Topic(monitor.EventDeviceStatus),
			Payload: monitor.DeviceEvent{
				Type:      monitor.EventDeviceStatus,
				DeviceID:  deviceID,
				Timestamp: time.Now(),
				Data:      monitor.DeviceStatusData{State: state},
			},
		}))
	}
	publish("r2", models.ConnectionOffline)
	publish("r1", models.ConnectionOnline)

	msg := read(t, conn)
	assert.Equal(t, MessageDeviceStatus, msg.Type)
	assert.Equal(t, "r1", msg.DeviceID)
	assert.Equal(t, "online", msg.Data["state"])
}

func TestStream_watch_subscribers_reports_other_owners(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t, "r1")

	reply := request(t, conn, ClientMessage{
		Type:        ActionWatchSubscribers,
		Subscribers: []string{"s1", "far-s2"},
	})
	require.Equal(t, MessageWatching, reply.Type)
	assert.Equal(t, []any{"s1"}, reply.Data["subscribers"])
	assert.Equal(t, map[string]any{"r9": []any{"far-s2"}}, reply.Data["elsewhere"])

	reply = request(t, conn, ClientMessage{Type: ActionUnwatchSubscribers, Subscribers: []string{"s1"}})
	assert.Nil(t, reply.Data["subscribers"])
	assert.Equal(t, []string{"sub:r1/s1"}, f.watcher.released())
}

func TestStream_unknown_message(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t, "r1")

	reply := request(t, conn, ClientMessage{Type: "reboot"})
	assert.Equal(t, MessageError, reply.Type)
	assert.Contains(t, reply.Data["error"], "reboot")
}

func TestStream_disconnect_releases_unshared_watches(t *testing.T) {
	f := newStreamFixture(t, WithPinnedInterfaces("ether1"))
	first := f.dial(t, "r1")
	second := f.dial(t, "r1")

	request(t, first, ClientMessage{Type: ActionWatchInterfaces, Interfaces: []string{"ether1", "wlan1", "sfp1"}})
	request(t, first, ClientMessage{Type: ActionWatchSubscribers, Subscribers: []string{"s1"}})
	request(t, second, ClientMessage{Type: ActionWatchInterfaces, Interfaces: []string{"sfp1"}})

	first.Close(websocket.StatusNormalClosure, "bye")

	require.Eventually(t, func() bool {
		return len(f.watcher.released()) == 2
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"iface:wlan1", "sub:r1/s1"}, f.watcher.released())
	assert.Equal(t, 1, f.handler.Hub().DeviceClientCount("r1"))

	ifaces, _ := f.watcher.Watched("r1")
	assert.Equal(t, []string{"ether1", "sfp1"}, ifaces)
}

func TestStream_disconnect_releases_subscribers_on_owning_device(t *testing.T) {
	f := newStreamFixture(t)
	near := f.dial(t, "r1")

	request(t, near, ClientMessage{Type: ActionWatchSubscribers, Subscribers: []string{"far-s2"}})
	_, subs := f.watcher.Watched("r9")
	require.Equal(t, []string{"far-s2"}, subs)

	near.Close(websocket.StatusNormalClosure, "bye")

	require.Eventually(t, func() bool {
		return len(f.watcher.released()) == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"sub:r9/far-s2"}, f.watcher.released())
	_, subs = f.watcher.Watched("r9")
	assert.Empty(t, subs)
}

func TestStream_unwatch_keeps_watch_held_by_other_device_client(t *testing.T) {
	f := newStreamFixture(t)
	owner := f.dial(t, "r9")
	near := f.dial(t, "r1")

	request(t, owner, ClientMessage{Type: ActionWatchSubscribers, Subscribers: []string{"far-s2"}})

	// A client that never watched the id cannot release it.
	request(t, near, ClientMessage{Type: ActionUnwatchSubscribers, Subscribers: []string{"far-s2"}})
	assert.Empty(t, f.watcher.released())

	// Shared hold: the r1 client's unwatch leaves the r9 client's watch.
	request(t, near, ClientMessage{Type: ActionWatchSubscribers, Subscribers: []string{"far-s2"}})
	request(t, near, ClientMessage{Type: ActionUnwatchSubscribers, Subscribers: []string{"far-s2"}})
	assert.Empty(t, f.watcher.released())
	_, subs := f.watcher.Watched("r9")
	assert.Equal(t, []string{"far-s2"}, subs)

	reply := request(t, owner, ClientMessage{Type: ActionUnwatchSubscribers, Subscribers: []string{"far-s2"}})
	assert.Nil(t, reply.Data["subscribers"])
	assert.Equal(t, []string{"sub:r9/far-s2"}, f.watcher.released())
}

func TestStream_without_monitor(t *testing.T) {
	h := NewHandler(nil, nil, testLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ws/devices/r1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
