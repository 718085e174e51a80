package monitor

import (
	"fmt"
	"time"

	"github.com/HerbHall/nasguard/pkg/plugin"
)

// MonitorConfig holds the device monitor configuration.
type MonitorConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	DrainInterval    time.Duration `mapstructure:"drain_interval"`
	FullSyncInterval time.Duration `mapstructure:"full_sync_interval"`
	MetricsInterval  time.Duration `mapstructure:"metrics_interval"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	CycleTimeout     time.Duration `mapstructure:"cycle_timeout"`

	// A status batch larger than FlickerMinBatch whose online fraction is
	// below FlickerMinOnlineRatio is discarded while the session is up.
	FlickerMinBatch       int     `mapstructure:"flicker_min_batch"`
	FlickerMinOnlineRatio float64 `mapstructure:"flicker_min_online_ratio"`

	// ThroughputDeltaBps is the per-direction change that makes a watched
	// subscriber's snapshot worth re-emitting.
	ThroughputDeltaBps  int64         `mapstructure:"throughput_delta_bps"`
	MaxConcurrentDrains int           `mapstructure:"max_concurrent_drains"`
	DefaultInterfaces   []string      `mapstructure:"default_interfaces"`
	ProbeBeforeConnect  bool          `mapstructure:"probe_before_connect"`
	ProbeCount          int           `mapstructure:"probe_count"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`

	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	CacheSize   int           `mapstructure:"cache_size"`
	SNMPEnabled bool          `mapstructure:"snmp_enabled"`
	SNMPPort    int           `mapstructure:"snmp_port"`
	SNMPTimeout time.Duration `mapstructure:"snmp_timeout"`

	// After a failed SNMP sample the device is read over its session until
	// the hold-off expires. The hold-off doubles up to SNMPMaxBackoff.
	SNMPBackoff    time.Duration `mapstructure:"snmp_backoff"`
	SNMPMaxBackoff time.Duration `mapstructure:"snmp_max_backoff"`
}

// DefaultConfig returns sensible defaults for the device monitor.
func DefaultConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:          2 * time.Second,
		DrainInterval:         15 * time.Second,
		FullSyncInterval:      60 * time.Second,
		MetricsInterval:       5 * time.Second,
		ReconnectBackoff:      30 * time.Second,
		ConnectTimeout:        10 * time.Second,
		CycleTimeout:          20 * time.Second,
		FlickerMinBatch:       10,
		FlickerMinOnlineRatio: 0.10,
		ThroughputDeltaBps:    1024,
		MaxConcurrentDrains:   4,
		CacheTTL:              5 * time.Minute,
		CacheSize:             10000,
		SNMPEnabled:           true,
		SNMPPort:              161,
		SNMPTimeout:           3 * time.Second,
		SNMPBackoff:           time.Minute,
		SNMPMaxBackoff:        15 * time.Minute,
		ProbeCount:            2,
		ProbeTimeout:          2 * time.Second,
	}
}

// withDefaults fills zero durations and limits so a partially populated
// config never produces a zero ticker.
func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = d.DrainInterval
	}
	if c.FullSyncInterval <= 0 {
		c.FullSyncInterval = d.FullSyncInterval
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = d.ReconnectBackoff
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = d.CycleTimeout
	}
	if c.MaxConcurrentDrains <= 0 {
		c.MaxConcurrentDrains = d.MaxConcurrentDrains
	}
	if c.SNMPPort <= 0 {
		c.SNMPPort = d.SNMPPort
	}
	if c.SNMPTimeout <= 0 {
		c.SNMPTimeout = d.SNMPTimeout
	}
	if c.SNMPBackoff <= 0 {
		c.SNMPBackoff = d.SNMPBackoff
	}
	if c.SNMPMaxBackoff < c.SNMPBackoff {
		c.SNMPMaxBackoff = max(d.SNMPMaxBackoff, c.SNMPBackoff)
	}
	if c.ProbeCount <= 0 {
		c.ProbeCount = d.ProbeCount
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// LoadConfig decodes the monitor's plugin section over DefaultConfig.
// A nil cfg yields the defaults.
func LoadConfig(cfg plugin.Config) (MonitorConfig, error) {
	c := DefaultConfig()
	if cfg != nil {
		if err := cfg.Unmarshal(&c); err != nil {
			return MonitorConfig{}, fmt.Errorf("monitor config: %w", err)
		}
	}
	return c.withDefaults(), nil
}
