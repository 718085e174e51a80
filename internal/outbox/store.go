package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/nasguard/pkg/models"
)

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	DeviceID string
	Status   models.OperationStatus
	Limit    int
}

// Counts is the number of operations per status.
type Counts struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Store provides database access for pending operations.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const opColumns = `id, type, subscriber_id, device_id, payload, attempts, status,
	last_attempt_at, error, created_at, updated_at`

// Insert stores a new operation.
func (s *Store) Insert(ctx context.Context, op *models.PendingOperation) error {
	payload := string(op.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_operations (
			id, type, subscriber_id, device_id, payload, attempts, status, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Type), op.SubscriberID, op.DeviceID, payload, op.Attempts,
		string(op.Status), op.Error, op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// ListPending returns a device's pending operations oldest first.
func (s *Store) ListPending(ctx context.Context, deviceID string) ([]models.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+opColumns+` FROM pending_operations
		WHERE device_id = ? AND status = ?
		ORDER BY created_at, rowid`,
		deviceID, string(models.OpPending))
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	defer rows.Close()
	return scanOps(rows)
}

// List returns operations matching f, newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.PendingOperation, error) {
	var where []string
	var args []any
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + opColumns + ` FROM pending_operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()
	return scanOps(rows)
}

// Get returns an operation by ID. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*models.PendingOperation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+opColumns+` FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	defer rows.Close()
	ops, err := scanOps(rows)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return &ops[0], nil
}

// RecordAttempt persists the outcome of one dispatch.
func (s *Store) RecordAttempt(ctx context.Context, op *models.PendingOperation) error {
	var last any
	if op.LastAttemptAt != nil {
		last = *op.LastAttemptAt
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_operations
		SET attempts = ?, status = ?, error = ?, last_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		op.Attempts, string(op.Status), op.Error, last, op.UpdatedAt, op.ID,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Counts returns the number of operations in each status.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM pending_operations GROUP BY status`)
	if err != nil {
		return c, fmt.Errorf("count operations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return c, fmt.Errorf("scan count: %w", err)
		}
		switch models.OperationStatus(st) {
		case models.OpPending:
			c.Pending = n
		case models.OpCompleted:
			c.Completed = n
		case models.OpFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// DeleteTerminalBefore purges completed and failed operations last updated
// before cutoff. Pending operations are never purged.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_operations
		WHERE status IN (?, ?) AND updated_at < ?`,
		string(models.OpCompleted), string(models.OpFailed), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old operations: %w", err)
	}
	return res.RowsAffected()
}

func scanOps(rows *sql.Rows) ([]models.PendingOperation, error) {
	var out []models.PendingOperation
	for rows.Next() {
		var (
			op      models.PendingOperation
			typ     string
			st      string
			payload string
			last    sql.NullTime
		)
		if err := rows.Scan(&op.ID, &typ, &op.SubscriberID, &op.DeviceID, &payload, &op.Attempts,
			&st, &last, &op.Error, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Type = models.OperationType(typ)
		op.Status = models.OperationStatus(st)
		op.Payload = []byte(payload)
		if last.Valid {
			t := last.Time
			op.LastAttemptAt = &t
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
