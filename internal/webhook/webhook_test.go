package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/nasguard/internal/config"
	"github.com/HerbHall/nasguard/internal/monitor"
	"github.com/HerbHall/nasguard/internal/outbox"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"github.com/HerbHall/nasguard/pkg/plugin/plugintest"
	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

// receiver records every alert posted to it. The first failures requests
// are answered with status.
type receiver struct {
	mu       sync.Mutex
	calls    int
	failures int
	status   int
	received []Payload
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.calls++
	if rc.calls <= rc.failures {
		w.WriteHeader(rc.status)
		return
	}
	var p Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.Header.Get("Content-Type") != "application/json" ||
		!strings.HasPrefix(r.Header.Get("User-Agent"), "nasguard-webhook/") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rc.received = append(rc.received, p)
	w.WriteHeader(http.StatusNoContent)
}

func (rc *receiver) snapshot() (int, []Payload) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.calls, append([]Payload(nil), rc.received...)
}

func newModule(t *testing.T, values map[string]any) *Module {
	t.Helper()
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	m := New()
	m.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	if err := m.Init(context.Background(), plugin.Dependencies{
		Logger: zap.NewNop(),
		Config: config.New(v),
	}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m
}

func statusEvent(deviceID string, state models.ConnectionState) plugin.Event {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return plugin.Event{
		Topic:     monitor.Topic(monitor.EventDeviceStatus),
		Source:    "monitor",
		Timestamp: ts,
		Payload: monitor.DeviceEvent{
			Type:      monitor.EventDeviceStatus,
			DeviceID:  deviceID,
			Timestamp: ts,
			Data:      monitor.DeviceStatusData{State: state},
		},
	}
}

func TestSubscriptions_ReturnsExpectedTopics(t *testing.T) {
	m := newModule(t, nil)

	topics := make(map[string]bool)
	for _, s := range m.Subscriptions() {
		topics[s.Topic] = true
	}
	for _, want := range []string{monitor.Topic(monitor.EventDeviceStatus), outbox.TopicOperationFailed} {
		if !topics[want] {
			t.Errorf("missing subscription for topic %q", want)
		}
	}
	if len(topics) != 2 {
		t.Errorf("Subscriptions() returned %d topics, want 2", len(topics))
	}
}

func TestDeviceStatus_AlertsOnTransitionsOnly(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	m := newModule(t, map[string]any{"url": srv.URL})
	ctx := context.Background()

	sequence := []models.ConnectionState{
		models.ConnectionOnline,  // first sighting online: silent
		models.ConnectionOffline, // alert
		models.ConnectionOffline, // repeated reconnect failure: silent
		models.ConnectionOnline,  // alert
		models.ConnectionUnknown, // not an alert kind
	}
	for _, s := range sequence {
		m.handleDeviceStatus(ctx, statusEvent("r1", s))
	}
	// Unseen device going offline alerts immediately.
	m.handleDeviceStatus(ctx, statusEvent("r2", models.ConnectionOffline))

	_, got := rc.snapshot()
	want := []struct{ event, device string }{
		{AlertDeviceOffline, "r1"},
		{AlertDeviceOnline, "r1"},
		{AlertDeviceOffline, "r2"},
	}
	if len(got) != len(want) {
		t.Fatalf("received %d alerts, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Event != w.event || got[i].DeviceID != w.device {
			t.Errorf("alert %d = %s/%s, want %s/%s", i, got[i].Event, got[i].DeviceID, w.event, w.device)
		}
	}
	if got[0].Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("timestamp = %q", got[0].Timestamp)
	}
}

func TestOperationFailed_Delivered(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	m := newModule(t, map[string]any{"url": srv.URL})

	m.handleOperationFailed(context.Background(), plugin.Event{
		Topic:     outbox.TopicOperationFailed,
		Timestamp: time.Now(),
		Payload: models.PendingOperation{
			ID:           "op-1",
			Type:         models.OpSuspend,
			SubscriberID: "s1",
			DeviceID:     "r1",
			Attempts:     5,
			Status:       models.OpFailed,
			Error:        "no such item",
		},
	})

	_, got := rc.snapshot()
	if len(got) != 1 {
		t.Fatalf("received %d alerts, want 1", len(got))
	}
	if got[0].Event != AlertOperationFailed || got[0].DeviceID != "r1" {
		t.Errorf("alert = %+v", got[0])
	}
	data, _ := got[0].Data.(map[string]any)
	if data["id"] != "op-1" || data["error"] != "no such item" {
		t.Errorf("data = %v", data)
	}
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	rc := &receiver{failures: 2, status: http.StatusBadGateway}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	m := newModule(t, map[string]any{"url": srv.URL, "retries": 3})

	m.handleDeviceStatus(context.Background(), statusEvent("r1", models.ConnectionOffline))

	calls, got := rc.snapshot()
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(got) != 1 {
		t.Errorf("received %d alerts, want 1", len(got))
	}
}

func TestDeliver_ClientErrorIsPermanent(t *testing.T) {
	rc := &receiver{failures: 10, status: http.StatusUnauthorized}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	m := newModule(t, map[string]any{"url": srv.URL, "retries": 3})

	m.handleDeviceStatus(context.Background(), statusEvent("r1", models.ConnectionOffline))

	if calls, _ := rc.snapshot(); calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDeliver_GivesUpAfterRetries(t *testing.T) {
	rc := &receiver{failures: 10, status: http.StatusInternalServerError}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	m := newModule(t, map[string]any{"url": srv.URL, "retries": 2})

	m.handleDeviceStatus(context.Background(), statusEvent("r1", models.ConnectionOffline))

	if calls, _ := rc.snapshot(); calls != 3 {
		t.Errorf("calls = %d, want 3 (one attempt plus two retries)", calls)
	}
}

func TestDeliver_SkipsWhenDisabled(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	m := newModule(t, map[string]any{"url": srv.URL, "enabled": false})

	m.handleDeviceStatus(context.Background(), statusEvent("r1", models.ConnectionOffline))

	if calls, _ := rc.snapshot(); calls != 0 {
		t.Error("expected webhook NOT to be called when disabled")
	}
}

func TestDeliver_SkipsWhenNoURL(t *testing.T) {
	m := newModule(t, nil)

	// Should not panic when URL is empty.
	m.handleDeviceStatus(context.Background(), statusEvent("r1", models.ConnectionOffline))
	m.handleOperationFailed(context.Background(), plugin.Event{Payload: models.PendingOperation{ID: "x"}})
}

func TestHandlers_IgnoreForeignPayloads(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	m := newModule(t, map[string]any{"url": srv.URL})
	ctx := context.Background()

	m.handleDeviceStatus(ctx, plugin.Event{Payload: "not an event"})
	m.handleDeviceStatus(ctx, plugin.Event{Payload: monitor.DeviceEvent{DeviceID: "r1", Data: 42}})
	m.handleOperationFailed(ctx, plugin.Event{Payload: &models.PendingOperation{}})

	if calls, _ := rc.snapshot(); calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
