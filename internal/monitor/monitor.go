// Package monitor keeps one long-lived worker per device. Each worker owns
// the device session, reconnects with a fixed backoff, polls interface and
// subscriber traffic for watchers, folds subscriber status into storage
// and triggers outbox drains.
package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/nasguard/internal/inventory"
	"github.com/HerbHall/nasguard/internal/outbox"
	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/internal/traffic"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"go.uber.org/zap"
)

var (
	// ErrImplausibleBatch is returned when a status batch looks like a
	// device glitch rather than a real mass disconnect. Nothing is written.
	ErrImplausibleBatch = errors.New("monitor: implausible status batch discarded")

	// ErrDeviceNotFound ends a worker whose device left inventory.
	ErrDeviceNotFound = errors.New("monitor: device not found")

	// ErrDeviceDisabled ends a worker whose device was disabled.
	ErrDeviceDisabled = errors.New("monitor: device disabled")
)

// State is a worker's position in its lifecycle.
type State string

const (
	StateStopped      State = "stopped"
	StateConnecting   State = "connecting"
	StatePolling      State = "polling"
	StateReconnecting State = "reconnecting"
)

// DeviceStore is the inventory surface the monitor reads and patches.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	ListActiveSubscriberIDs(ctx context.Context, deviceID string) ([]string, error)
	SubscriberDevice(ctx context.Context, ids []string) (map[string]string, error)
	SetConnectionState(ctx context.Context, id string, state models.ConnectionState, at time.Time) error
	UpdateDeviceMetrics(ctx context.Context, id string, m models.DeviceMetrics) error
	ApplyStatusBatch(ctx context.Context, updates []inventory.StatusUpdate) (int, error)
}

// Drainer replays a device's queued mutations.
type Drainer interface {
	Drain(ctx context.Context, deviceID string, m routeros.Mutator) (*outbox.DrainResult, error)
}

// MetricsCollector samples device resource usage out of band.
type MetricsCollector interface {
	Collect(ctx context.Context, dev models.Device) (*models.DeviceMetrics, error)
}

// Prober checks that an address answers before a connect attempt.
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// Deps are the collaborators of a Monitor. Store, Engine and Dialer are
// required; the rest may be nil.
type Deps struct {
	Store  DeviceStore
	Engine *traffic.Engine
	Dialer routeros.Dialer
	Outbox Drainer
	Bus    plugin.EventBus
	SNMP   MetricsCollector
	Prober Prober
	Logger *zap.Logger
}

// WorkerInfo describes one live worker.
type WorkerInfo struct {
	DeviceID   string    `json:"device_id"`
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	Since      time.Time `json:"since"`
	LastError  string    `json:"last_error,omitempty"`
}

// Monitor is the per-device worker registry.
type Monitor struct {
	deps   Deps
	cfg    MonitorConfig
	logger *zap.Logger
	now    func() time.Time
	// tick returns a poll ticker's channel and its stop func.
	tick func(d time.Duration) (<-chan time.Time, func())

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards the worker registry only; it is held for start and stop,
	// never across I/O.
	mu      sync.Mutex
	workers map[string]*worker
	nextGen uint64

	watchMu sync.Mutex
	watches map[string]*watchSet

	drains *drainPool
}

// NewMonitor creates a Monitor. No worker runs until StartMonitoring.
func NewMonitor(deps Deps, cfg MonitorConfig) (*Monitor, error) {
	if deps.Store == nil || deps.Engine == nil || deps.Dialer == nil {
		return nil, errors.New("monitor: store, engine and dialer are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		tick: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
		watches: make(map[string]*watchSet),
	}
	m.drains = newDrainPool(cfg.MaxConcurrentDrains, m.drain)
	return m, nil
}

// StartMonitoring spawns a worker for deviceID and reports whether it did.
// It is a no-op while a live worker exists. A worker that is still
// shutting down is waited for before the new one connects, so a device
// never has two sessions.
func (m *Monitor) StartMonitoring(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return false
	}
	prev := m.workers[deviceID]
	if prev != nil && prev.alive() {
		return false
	}

	m.nextGen++
	ctx, cancel := context.WithCancel(m.ctx)
	w := &worker{
		deviceID:   deviceID,
		generation: m.nextGen,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	w.setState(StateConnecting, m.now())
	m.workers[deviceID] = w

	if len(m.cfg.DefaultInterfaces) > 0 {
		m.watchSet(deviceID).addInterfaces(m.cfg.DefaultInterfaces...)
	}

	m.wg.Add(1)
	go m.run(w, prev)

	m.logger.Info("device worker started",
		zap.String("device_id", deviceID),
		zap.Uint64("generation", w.generation),
	)
	return true
}

// StopMonitoring cancels the device's worker and reports whether one was
// running. The worker closes its session on the way out.
func (m *Monitor) StopMonitoring(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.workers[deviceID]
	if w == nil || !w.alive() {
		return false
	}
	w.cancel()
	m.logger.Info("device worker stopping", zap.String("device_id", deviceID))
	return true
}

// WatchInterfaces adds interface names to the device's watch set and
// makes sure a worker is running.
func (m *Monitor) WatchInterfaces(deviceID string, names ...string) {
	m.watchSet(deviceID).addInterfaces(names...)
	m.StartMonitoring(deviceID)
}

// UnwatchInterfaces removes interface names from the device's watch set.
func (m *Monitor) UnwatchInterfaces(deviceID string, names ...string) {
	m.watchSet(deviceID).removeInterfaces(names...)
}

// WatchSubscribers adds subscribers to the watch set of the device that
// owns them according to storage and starts those workers. hint is the
// device the caller believed owns them and is only used for logging.
// The returned map groups the accepted ids by owning device; unknown ids
// are dropped.
func (m *Monitor) WatchSubscribers(ctx context.Context, hint string, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}
	owners, err := m.deps.Store.SubscriberDevice(ctx, ids)
	if err != nil {
		return nil, err
	}

	byDevice := make(map[string][]string)
	for _, id := range ids {
		deviceID, ok := owners[id]
		if !ok {
			m.logger.Debug("ignoring watch for unknown subscriber", zap.String("subscriber_id", id))
			continue
		}
		if hint != "" && hint != deviceID {
			m.logger.Warn("subscriber watched on wrong device",
				zap.String("subscriber_id", id),
				zap.String("hint", hint),
				zap.String("device_id", deviceID),
			)
		}
		byDevice[deviceID] = append(byDevice[deviceID], id)
	}

	for deviceID, subs := range byDevice {
		m.watchSet(deviceID).addSubscribers(subs...)
		m.StartMonitoring(deviceID)
	}
	return byDevice, nil
}

// UnwatchSubscribers removes ids from every device's watch set.
func (m *Monitor) UnwatchSubscribers(ids ...string) {
	m.watchMu.Lock()
	sets := make([]*watchSet, 0, len(m.watches))
	for _, ws := range m.watches {
		sets = append(sets, ws)
	}
	m.watchMu.Unlock()

	for _, ws := range sets {
		ws.removeSubscribers(ids...)
	}
}

// UnwatchDeviceSubscribers removes ids from one device's watch set only.
func (m *Monitor) UnwatchDeviceSubscribers(deviceID string, ids ...string) {
	m.watchMu.Lock()
	ws := m.watches[deviceID]
	m.watchMu.Unlock()
	if ws != nil {
		ws.removeSubscribers(ids...)
	}
}

// Watched returns the device's watched interfaces and subscribers.
func (m *Monitor) Watched(deviceID string) (interfaces, subscribers []string) {
	m.watchMu.Lock()
	ws := m.watches[deviceID]
	m.watchMu.Unlock()
	if ws == nil {
		return nil, nil
	}
	return ws.snapshot()
}

// LiveSession returns the device's connected session, serialized with
// the worker's own I/O.
func (m *Monitor) LiveSession(deviceID string) (routeros.Session, bool) {
	m.mu.Lock()
	w := m.workers[deviceID]
	m.mu.Unlock()
	if w == nil || !w.alive() {
		return nil, false
	}
	sess := w.getSession()
	if sess == nil || !sess.Connected() {
		return nil, false
	}
	return sess, true
}

// State returns the device's worker state.
func (m *Monitor) State(deviceID string) State {
	m.mu.Lock()
	w := m.workers[deviceID]
	m.mu.Unlock()
	if w == nil {
		return StateStopped
	}
	return w.info().State
}

// Workers lists workers that have not yet exited, ordered by device id.
func (m *Monitor) Workers() []WorkerInfo {
	m.mu.Lock()
	list := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		list = append(list, w)
	}
	m.mu.Unlock()

	out := make([]WorkerInfo, 0, len(list))
	for _, w := range list {
		if w.exited() {
			continue
		}
		out = append(out, w.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Close stops every worker and waits for workers and drains to exit or
// ctx to expire.
func (m *Monitor) Close(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.drains.wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) watchSet(deviceID string) *watchSet {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	ws := m.watches[deviceID]
	if ws == nil {
		ws = newWatchSet()
		m.watches[deviceID] = ws
	}
	return ws
}
