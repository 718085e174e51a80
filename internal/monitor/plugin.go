package monitor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/HerbHall/nasguard/internal/inventory"
	"github.com/HerbHall/nasguard/internal/outbox"
	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/internal/server"
	"github.com/HerbHall/nasguard/internal/traffic"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Option configures a Module before Init.
type Option func(*Module)

// WithDialer overrides the SSH dialer used for device sessions.
func WithDialer(d routeros.Dialer) Option {
	return func(m *Module) { m.dialer = d }
}

// WithMetricsCollector sets the out-of-band metrics source.
func WithMetricsCollector(c MetricsCollector) Option {
	return func(m *Module) { m.snmp = c }
}

// WithProber sets the pre-connect reachability probe.
func WithProber(p Prober) Option {
	return func(m *Module) { m.prober = p }
}

// Module implements the monitor plugin.
type Module struct {
	logger  *zap.Logger
	cfg     MonitorConfig
	dialer  routeros.Dialer
	snmp    MetricsCollector
	prober  Prober
	store   *inventory.Store
	engine  *traffic.Engine
	monitor *Monitor
}

// New creates a new monitor plugin instance.
func New(opts ...Option) *Module {
	m := &Module{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "monitor",
		Version:      "0.1.0",
		Description:  "Per-device session workers, traffic and status sync",
		Dependencies: []string{"inventory", "outbox"},
		Roles:        []string{"monitoring"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin. The inventory store and the outbox are
// located through the plugin resolver.
func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	cfg, err := LoadConfig(deps.Config)
	if err != nil {
		return err
	}
	m.cfg = cfg

	if deps.Plugins != nil {
		if p, ok := deps.Plugins.Resolve("inventory"); ok {
			if inv, ok := p.(*inventory.Module); ok {
				m.store = inv.Store()
			}
		}
	}
	if m.store == nil {
		m.logger.Warn("monitor module initialized without inventory store")
		return nil
	}

	var drainer Drainer
	if p, ok := deps.Plugins.Resolve("outbox"); ok {
		if ob, ok := p.(*outbox.Module); ok && ob.Service() != nil {
			drainer = ob.Service()
		}
	}
	if drainer == nil {
		m.logger.Warn("outbox unavailable, pending operations will not be drained")
	}

	if m.dialer == nil {
		m.dialer = routeros.SSHDialer(m.logger.Named("routeros"), nil)
	}
	m.engine = traffic.NewEngine(m.store,
		traffic.NewMetadataCache(m.cfg.CacheTTL, m.cfg.CacheSize),
		m.logger.Named("traffic"))

	mon, err := NewMonitor(Deps{
		Store:  m.store,
		Engine: m.engine,
		Dialer: m.dialer,
		Outbox: drainer,
		Bus:    deps.Bus,
		SNMP:   m.snmp,
		Prober: m.prober,
		Logger: m.logger,
	}, m.cfg)
	if err != nil {
		return err
	}
	m.monitor = mon

	m.logger.Info("monitor module initialized",
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.Duration("full_sync_interval", m.cfg.FullSyncInterval),
		zap.Int("max_concurrent_drains", m.cfg.MaxConcurrentDrains),
	)
	return nil
}

// Start implements plugin.Plugin. Every enabled device gets a worker.
func (m *Module) Start(ctx context.Context) error {
	if m.monitor == nil {
		return nil
	}
	devices, err := m.store.ListEnabledDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for i := range devices {
		m.monitor.StartMonitoring(devices[i].ID)
	}
	m.logger.Info("monitor started", zap.Int("devices", len(devices)))
	return nil
}

// Stop implements plugin.Plugin.
func (m *Module) Stop(ctx context.Context) error {
	if m.monitor == nil {
		return nil
	}
	if err := m.monitor.Close(ctx); err != nil {
		return fmt.Errorf("stop monitor: %w", err)
	}
	m.logger.Info("monitor module stopped")
	return nil
}

// Monitor returns the worker registry, or nil before Init wired one.
func (m *Module) Monitor() *Monitor {
	return m.monitor
}

// Engine returns the traffic engine shared with the mutation path.
func (m *Module) Engine() *traffic.Engine {
	return m.engine
}

// Health implements plugin.HealthChecker. Workers stuck reconnecting
// degrade the module.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.monitor == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "no inventory store"}
	}
	counts := make(map[State]int)
	for _, w := range m.monitor.Workers() {
		counts[w.State]++
	}
	h := plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"polling":      strconv.Itoa(counts[StatePolling]),
			"connecting":   strconv.Itoa(counts[StateConnecting]),
			"reconnecting": strconv.Itoa(counts[StateReconnecting]),
		},
	}
	if n := counts[StateReconnecting]; n > 0 {
		h.Status = "degraded"
		h.Message = strconv.Itoa(n) + " devices unreachable"
	}
	return h
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/workers", Handler: m.handleListWorkers},
	}
}

func (m *Module) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if m.monitor == nil {
		server.Unavailable(w, "monitor not available", r.URL.Path)
		return
	}
	server.WriteJSON(w, http.StatusOK, m.monitor.Workers())
}
