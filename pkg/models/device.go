// Package models holds the records shared between nasguard modules.
package models

import "time"

// ConnectionState is the monitor's view of a device's management session.
type ConnectionState string

const (
	ConnectionUnknown ConnectionState = "unknown"
	ConnectionOnline  ConnectionState = "online"
	ConnectionOffline ConnectionState = "offline"
)

// Device is a network access router that terminates subscriber connections.
// The monitor only ever writes ConnectionState, LastContactAt and the
// metrics fields back.
type Device struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Address         string          `json:"address"`
	Port            int             `json:"port"`
	Username        string          `json:"username"`
	Password        string          `json:"-"`
	SNMPCommunity   string          `json:"-"`
	Enabled         bool            `json:"enabled"`
	ConnectionState ConnectionState `json:"connection_state"`
	LastContactAt   *time.Time      `json:"last_contact_at,omitempty"`
	CPULoad         *int            `json:"cpu_load,omitempty"`
	MemoryUsedPct   *float64        `json:"memory_used_pct,omitempty"`
	Uptime          string          `json:"uptime,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DeviceMetrics is one sample of device resource usage.
type DeviceMetrics struct {
	CPULoad       int       `json:"cpu_load"`
	MemoryUsedPct float64   `json:"memory_used_pct"`
	Uptime        string    `json:"uptime"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CollectedAt   time.Time `json:"collected_at"`
	Source        string    `json:"source"` // "snmp" or "session"
}
