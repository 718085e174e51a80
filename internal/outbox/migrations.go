package outbox

import (
	"database/sql"

	"github.com/HerbHall/nasguard/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create pending operations table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS pending_operations (
						id TEXT PRIMARY KEY,
						type TEXT NOT NULL,
						subscriber_id TEXT NOT NULL,
						device_id TEXT NOT NULL,
						payload TEXT NOT NULL DEFAULT '{}',
						attempts INTEGER NOT NULL DEFAULT 0,
						status TEXT NOT NULL DEFAULT 'pending',
						last_attempt_at DATETIME,
						error TEXT NOT NULL DEFAULT '',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_pending_ops_device_status ON pending_operations(device_id, status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_pending_ops_status_updated ON pending_operations(status, updated_at)`,
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
