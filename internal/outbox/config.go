package outbox

import "time"

type OutboxConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	OpsPerSecond        float64       `mapstructure:"ops_per_second"`
	RetentionPeriod     time.Duration `mapstructure:"retention_period"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

func DefaultConfig() OutboxConfig {
	return OutboxConfig{
		MaxAttempts:         5,
		OpsPerSecond:        5,
		RetentionPeriod:     30 * 24 * time.Hour,
		MaintenanceInterval: 1 * time.Hour,
	}
}
