package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/nasguard/internal/monitor"
	"github.com/HerbHall/nasguard/internal/outbox"
	"github.com/HerbHall/nasguard/internal/version"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Alert kinds carried in Payload.Event.
const (
	AlertDeviceOffline   = "device.offline"
	AlertDeviceOnline    = "device.online"
	AlertOperationFailed = "operation.failed"
)

// Config holds the webhook plugin configuration.
type Config struct {
	URL     string
	Timeout time.Duration
	Retries int
	Enabled bool
}

// Module implements the operator alert webhook plugin.
type Module struct {
	logger     *zap.Logger
	cfg        Config
	client     *http.Client
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	states map[string]models.ConnectionState
}

// New creates a new Webhook plugin instance.
func New() *Module {
	return &Module{
		states: make(map[string]models.ConnectionState),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return b
		},
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "webhook",
		Version:     "0.1.0",
		Description: "Posts device connectivity changes and failed operations to a webhook URL",
		Roles:       []string{"notification"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	// Defaults.
	m.cfg = Config{
		Timeout: 10 * time.Second,
		Retries: 3,
		Enabled: true,
	}

	if deps.Config != nil {
		if u := deps.Config.GetString("url"); u != "" {
			m.cfg.URL = u
		}
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if deps.Config.IsSet("retries") {
			m.cfg.Retries = deps.Config.GetInt("retries")
		}
		if deps.Config.IsSet("enabled") {
			m.cfg.Enabled = deps.Config.GetBool("enabled")
		}
	}
	if m.cfg.Retries < 0 {
		m.cfg.Retries = 0
	}

	m.client = &http.Client{Timeout: m.cfg.Timeout}

	if m.cfg.URL == "" {
		m.logger.Info("webhook URL not configured; alerts will be dropped",
			zap.String("component", "webhook"),
		)
	}

	m.logger.Info("webhook module initialized",
		zap.String("url", m.cfg.URL),
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Int("retries", m.cfg.Retries),
		zap.Bool("enabled", m.cfg.Enabled),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("webhook module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("webhook module stopped")
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: monitor.Topic(monitor.EventDeviceStatus), Handler: m.handleDeviceStatus},
		{Topic: outbox.TopicOperationFailed, Handler: m.handleOperationFailed},
	}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string `json:"event"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// handleDeviceStatus alerts on connection state transitions. The monitor
// repeats offline events on every failed reconnect; only the first one
// after a change is delivered. A device first seen online is not an alert.
func (m *Module) handleDeviceStatus(ctx context.Context, event plugin.Event) {
	de, ok := event.Payload.(monitor.DeviceEvent)
	if !ok {
		return
	}
	data, ok := de.Data.(monitor.DeviceStatusData)
	if !ok {
		return
	}

	m.mu.Lock()
	prev, seen := m.states[de.DeviceID]
	m.states[de.DeviceID] = data.State
	m.mu.Unlock()

	if prev == data.State {
		return
	}
	var kind string
	switch data.State {
	case models.ConnectionOffline:
		kind = AlertDeviceOffline
	case models.ConnectionOnline:
		if !seen {
			return
		}
		kind = AlertDeviceOnline
	default:
		return
	}

	m.deliver(ctx, Payload{
		Event:     kind,
		DeviceID:  de.DeviceID,
		Timestamp: de.Timestamp.UTC().Format(time.RFC3339),
		Data:      data,
	})
}

func (m *Module) handleOperationFailed(ctx context.Context, event plugin.Event) {
	op, ok := event.Payload.(models.PendingOperation)
	if !ok {
		return
	}
	m.deliver(ctx, Payload{
		Event:     AlertOperationFailed,
		DeviceID:  op.DeviceID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Data:      op,
	})
}

func (m *Module) deliver(ctx context.Context, p Payload) {
	if !m.cfg.Enabled || m.cfg.URL == "" {
		return
	}

	body, err := json.Marshal(p)
	if err != nil {
		m.logger.Error("failed to marshal webhook payload",
			zap.String("event", p.Event),
			zap.Error(err),
		)
		return
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(m.newBackOff(), uint64(m.cfg.Retries)), ctx)
	err = backoff.Retry(func() error { return m.send(ctx, body) }, b)
	if err != nil {
		m.logger.Warn("webhook delivery failed",
			zap.String("url", m.cfg.URL),
			zap.String("event", p.Event),
			zap.String("device_id", p.DeviceID),
			zap.Error(err),
		)
		return
	}

	m.logger.Debug("webhook delivered",
		zap.String("event", p.Event),
		zap.String("device_id", p.DeviceID),
	)
}

// send posts one body. Client errors are permanent; transport errors and
// server errors are retried.
func (m *Module) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nasguard-webhook/"+version.Short())

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(errors.New("webhook endpoint rejected alert: " + resp.Status))
	}
	return nil
}
