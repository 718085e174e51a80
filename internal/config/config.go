// Package config provides a Viper-backed implementation of the plugin.Config interface.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/HerbHall/nasguard/pkg/plugin"
	"github.com/spf13/viper"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig wraps a Viper instance to implement plugin.Config.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a Config backed by the given Viper instance.
// Returns the concrete type; callers assign to plugin.Config where needed.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

func (c *ViperConfig) Get(key string) any {
	return c.v.Get(key)
}

func (c *ViperConfig) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *ViperConfig) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

func (c *ViperConfig) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *ViperConfig) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

func (c *ViperConfig) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

func (c *ViperConfig) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// Sub returns the config subtree at key. A missing section yields an empty
// config so modules fall back to their defaults.
func (c *ViperConfig) Sub(key string) plugin.Config {
	sub := c.v.Sub(key)
	if sub == nil {
		return New(nil)
	}
	return New(sub)
}

// Viper returns the underlying Viper instance for direct access
// (e.g., by the server for top-level config like server.port).
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

// secretSuffixes mark keys whose values never leave the process.
var secretSuffixes = []string{"password", "secret", "token", "community", "passphrase"}

const redacted = "[REDACTED]"

// Redacted returns every effective setting keyed by its dotted path, for the
// startup configuration dump. Values under credential keys are masked. URL
// values (broker and webhook endpoints) lose their password and query.
func (c *ViperConfig) Redacted() map[string]any {
	out := make(map[string]any)
	for _, key := range c.v.AllKeys() {
		out[key] = redactValue(key, c.v.Get(key))
	}
	return out
}

func redactValue(key string, val any) any {
	leaf := key[strings.LastIndex(key, ".")+1:]
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(leaf, suffix) {
			if s, ok := val.(string); ok && s == "" {
				return s
			}
			return redacted
		}
	}
	s, ok := val.(string)
	if !ok || !strings.Contains(s, "://") {
		return val
	}
	u, err := url.Parse(s)
	if err != nil {
		return redacted
	}
	if u.RawQuery != "" {
		u.RawQuery = redacted
	}
	return u.Redacted()
}
