package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
// An empty configPath searches for nasguard.yaml in the usual places;
// a missing file is not an error.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/nasguard.db")

	// Plugin defaults
	v.SetDefault("plugins.monitor.poll_interval", "2s")
	v.SetDefault("plugins.monitor.drain_interval", "15s")
	v.SetDefault("plugins.monitor.full_sync_interval", "60s")
	v.SetDefault("plugins.monitor.metrics_interval", "5s")
	v.SetDefault("plugins.monitor.reconnect_backoff", "30s")
	v.SetDefault("plugins.monitor.connect_timeout", "10s")
	v.SetDefault("plugins.monitor.cycle_timeout", "20s")
	v.SetDefault("plugins.monitor.flicker_min_batch", 10)
	v.SetDefault("plugins.monitor.flicker_min_online_ratio", 0.10)
	v.SetDefault("plugins.monitor.throughput_delta_bps", 1024)
	v.SetDefault("plugins.monitor.max_concurrent_drains", 4)
	v.SetDefault("plugins.monitor.default_interfaces", []string{})
	v.SetDefault("plugins.monitor.probe_before_connect", false)
	v.SetDefault("plugins.monitor.cache_ttl", "5m")
	v.SetDefault("plugins.monitor.cache_size", 10000)
	v.SetDefault("plugins.monitor.snmp_enabled", true)
	v.SetDefault("plugins.monitor.snmp_port", 161)
	v.SetDefault("plugins.monitor.snmp_timeout", "3s")
	v.SetDefault("plugins.monitor.probe_count", 2)
	v.SetDefault("plugins.monitor.probe_timeout", "2s")
	v.SetDefault("plugins.monitor.snmp_backoff", "1m")
	v.SetDefault("plugins.monitor.snmp_max_backoff", "15m")
	v.SetDefault("plugins.outbox.max_attempts", 5)
	v.SetDefault("plugins.outbox.ops_per_second", 20)
	v.SetDefault("plugins.outbox.retention_period", "720h")
	v.SetDefault("plugins.outbox.maintenance_interval", "1h")
	v.SetDefault("plugins.mqtt.broker_url", "")
	v.SetDefault("plugins.mqtt.client_id", "nasguard")
	v.SetDefault("plugins.mqtt.topic_prefix", "nasguard")
	v.SetDefault("plugins.mqtt.qos", 1)
	v.SetDefault("plugins.mqtt.retain", false)
	v.SetDefault("plugins.mqtt.timeout", "10s")
	v.SetDefault("plugins.mqtt.ha_discovery", false)
	v.SetDefault("plugins.mqtt.ha_discovery_prefix", "homeassistant")
	v.SetDefault("plugins.webhook.url", "")
	v.SetDefault("plugins.webhook.timeout", "10s")
	v.SetDefault("plugins.webhook.retries", 3)
	v.SetDefault("plugins.webhook.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("nasguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/nasguard")
	}

	// Environment variable support: NG_SERVER_PORT=9090, NG_PLUGINS_MONITOR_POLL_INTERVAL=5s
	v.SetEnvPrefix("NG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}
