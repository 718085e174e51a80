// Package outbox is the durable queue of subscriber mutations that could
// not be applied to a device directly. Operations are replayed in creation
// order per device with bounded retries; replay is idempotent at the device.
package outbox

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/nasguard/internal/server"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module implements the outbox plugin.
type Module struct {
	logger  *zap.Logger
	cfg     OutboxConfig
	service *Service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new outbox plugin instance.
func New() *Module {
	return &Module{}
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "outbox",
		Version:     "0.1.0",
		Description: "Durable queue of pending device mutations",
		Roles:       []string{"sync"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("outbox config: %w", err)
		}
	}

	if deps.Store == nil {
		m.logger.Warn("outbox module initialized without a store")
		return nil
	}
	if err := deps.Store.Migrate(ctx, "outbox", migrations()); err != nil {
		return fmt.Errorf("outbox migrations: %w", err)
	}
	m.service = NewService(NewStore(deps.Store.DB()), deps.Bus, m.cfg, m.logger.Named("service"))

	m.logger.Info("outbox module initialized",
		zap.Int("max_attempts", m.cfg.MaxAttempts),
		zap.Float64("ops_per_second", m.cfg.OpsPerSecond),
		zap.Duration("retention_period", m.cfg.RetentionPeriod),
	)
	return nil
}

// Start implements plugin.Plugin.
func (m *Module) Start(_ context.Context) error {
	if m.service == nil {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	if m.cfg.MaintenanceInterval > 0 {
		m.startMaintenance()
	}
	return nil
}

// Stop implements plugin.Plugin.
func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
		m.logger.Info("outbox module stopped")
	}
	return nil
}

// Service returns the outbox service, or nil when no store is configured.
func (m *Module) Service() *Service {
	return m.service
}

// Health implements plugin.HealthChecker. Terminally failed operations
// awaiting an operator degrade the module.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.service == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "no store configured"}
	}
	c, err := m.service.Store().Counts(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	h := plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"pending": strconv.Itoa(c.Pending),
			"failed":  strconv.Itoa(c.Failed),
		},
	}
	if c.Failed > 0 {
		h.Status = "degraded"
		h.Message = strconv.Itoa(c.Failed) + " operations need operator attention"
	}
	return h
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/operations", Handler: m.handleListOperations},
	}
}

// handleListOperations returns queued operations, newest first, filtered
// by device_id and status.
func (m *Module) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if m.service == nil {
		server.Unavailable(w, "outbox store not available", r.URL.Path)
		return
	}
	q := r.URL.Query()
	f := ListFilter{DeviceID: q.Get("device_id"), Limit: 100}
	if st := q.Get("status"); st != "" {
		switch models.OperationStatus(st) {
		case models.OpPending, models.OpCompleted, models.OpFailed:
			f.Status = models.OperationStatus(st)
		default:
			server.BadRequest(w, "status must be pending, completed or failed", r.URL.Path)
			return
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 1000 {
			server.BadRequest(w, "limit must be between 1 and 1000", r.URL.Path)
			return
		}
		f.Limit = n
	}

	ops, err := m.service.Store().List(r.Context(), f)
	if err != nil {
		m.logger.Warn("failed to list operations", zap.Error(err))
		server.InternalError(w, "failed to list operations", r.URL.Path)
		return
	}
	if ops == nil {
		ops = []models.PendingOperation{}
	}
	server.WriteJSON(w, http.StatusOK, ops)
}

// startMaintenance periodically purges terminal operations past the
// retention window.
func (m *Module) startMaintenance() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.runMaintenance()
			}
		}
	}()
}

func (m *Module) runMaintenance() {
	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	n, err := m.service.Purge(ctx, m.cfg.RetentionPeriod)
	if err != nil {
		m.logger.Warn("failed to purge old operations", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("purged old operations", zap.Int64("count", n))
	}
}
