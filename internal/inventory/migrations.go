package inventory

import (
	"database/sql"

	"github.com/HerbHall/nasguard/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create device and subscriber tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS devices (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL DEFAULT '',
						address TEXT NOT NULL,
						port INTEGER NOT NULL DEFAULT 22,
						username TEXT NOT NULL DEFAULT '',
						password TEXT NOT NULL DEFAULT '',
						snmp_community TEXT NOT NULL DEFAULT '',
						enabled INTEGER NOT NULL DEFAULT 1,
						connection_state TEXT NOT NULL DEFAULT 'unknown',
						last_contact_at DATETIME,
						cpu_load INTEGER,
						memory_used_pct REAL,
						uptime TEXT NOT NULL DEFAULT '',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,

					`CREATE TABLE IF NOT EXISTS subscribers (
						id TEXT PRIMARY KEY,
						device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						username TEXT NOT NULL,
						display_name TEXT NOT NULL DEFAULT '',
						ip_address TEXT NOT NULL DEFAULT '',
						mac_address TEXT NOT NULL DEFAULT '',
						queue_name TEXT NOT NULL DEFAULT '',
						interface_name TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'active',
						is_online INTEGER NOT NULL DEFAULT 0,
						last_seen DATETIME,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_subscribers_device_status ON subscribers(device_id, status)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
