// Package inventory owns the device and subscriber tables. Devices and
// subscribers are created elsewhere; the monitor and the mutation path only
// read them and patch status fields.
package inventory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module implements the inventory plugin.
type Module struct {
	logger *zap.Logger
	cfg    InventoryConfig
	store  *Store
}

// New creates a new inventory plugin instance.
func New() *Module {
	return &Module{}
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "inventory",
		Version:     "0.1.0",
		Description: "Device and subscriber records",
		Required:    true,
		Roles:       []string{"inventory"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("inventory config: %w", err)
		}
	}

	if deps.Store == nil {
		m.logger.Warn("inventory module initialized without a store")
		return nil
	}
	if err := deps.Store.Migrate(ctx, "inventory", migrations()); err != nil {
		return fmt.Errorf("inventory migrations: %w", err)
	}
	m.store = NewStore(deps.Store.DB())

	m.logger.Info("inventory module initialized", zap.Int("seed_devices", len(m.cfg.Devices)))
	return nil
}

// Start implements plugin.Plugin. Configured devices are upserted before
// the monitor starts.
func (m *Module) Start(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	for i := range m.cfg.Devices {
		dc := m.cfg.Devices[i]
		if dc.Address == "" {
			m.logger.Warn("skipping configured device without address", zap.String("device_id", dc.ID))
			continue
		}
		d := &models.Device{
			ID:            dc.ID,
			Name:          dc.Name,
			Address:       dc.Address,
			Port:          dc.Port,
			Username:      dc.Username,
			Password:      dc.Password,
			SNMPCommunity: dc.SNMPCommunity,
			Enabled:       dc.Enabled == nil || *dc.Enabled,
		}
		if err := m.store.UpsertDevice(ctx, d); err != nil {
			return fmt.Errorf("seed device %q: %w", dc.Address, err)
		}
		m.logger.Debug("seeded device", zap.String("device_id", d.ID), zap.String("address", d.Address))
	}
	return nil
}

// Stop implements plugin.Plugin.
func (m *Module) Stop(_ context.Context) error {
	return nil
}

// Store returns the inventory store, or nil before Init wired one.
func (m *Module) Store() *Store {
	return m.store
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.store == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "no store configured"}
	}
	devices, err := m.store.ListEnabledDevices(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	online := 0
	for i := range devices {
		if devices[i].ConnectionState == models.ConnectionOnline {
			online++
		}
	}
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"devices":        strconv.Itoa(len(devices)),
			"devices_online": strconv.Itoa(online),
		},
	}
}
