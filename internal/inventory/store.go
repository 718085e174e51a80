package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/google/uuid"
)

// maxBatchParams keeps IN lists under SQLite's bound-parameter limit.
const maxBatchParams = 500

// StatusUpdate is one subscriber's folded poll result. A nil LastSeen
// leaves the stored value untouched.
type StatusUpdate struct {
	SubscriberID string
	IsOnline     bool
	LastSeen     *time.Time
}

// Store provides database access for devices and subscribers.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// -- Devices --

const deviceColumns = `id, name, address, port, username, password, snmp_community, enabled,
	connection_state, last_contact_at, cpu_load, memory_used_pct, uptime, created_at, updated_at`

// UpsertDevice inserts d or updates its configuration. Monitor-owned fields
// (connection state, contact time, metrics) are not overwritten on update.
// An empty ID is assigned a new UUID.
func (s *Store) UpsertDevice(ctx context.Context, d *models.Device) error {
	now := s.now()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.ConnectionState == "" {
		d.ConnectionState = models.ConnectionUnknown
	}
	if d.Port == 0 {
		d.Port = 22
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (
			id, name, address, port, username, password, snmp_community, enabled,
			connection_state, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			port = excluded.port,
			username = excluded.username,
			password = excluded.password,
			snmp_community = excluded.snmp_community,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, d.Address, d.Port, d.Username, d.Password, d.SNMPCommunity, boolInt(d.Enabled),
		string(d.ConnectionState), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// GetDevice returns a device by ID. Returns nil, nil if not found.
func (s *Store) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// ListEnabledDevices returns every enabled device ordered by ID.
func (s *Store) ListEnabledDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// SetConnectionState records the monitor's view of a device. When state is
// online the last contact time is set to at.
func (s *Store) SetConnectionState(ctx context.Context, id string, state models.ConnectionState, at time.Time) error {
	var err error
	if state == models.ConnectionOnline {
		_, err = s.db.ExecContext(ctx,
			`UPDATE devices SET connection_state = ?, last_contact_at = ?, updated_at = ? WHERE id = ?`,
			string(state), at.UTC(), s.now(), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE devices SET connection_state = ?, updated_at = ? WHERE id = ?`,
			string(state), s.now(), id)
	}
	if err != nil {
		return fmt.Errorf("set connection state: %w", err)
	}
	return nil
}

// UpdateDeviceMetrics stores the latest resource sample and counts it as
// contact with the device.
func (s *Store) UpdateDeviceMetrics(ctx context.Context, id string, m models.DeviceMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices
		SET cpu_load = ?, memory_used_pct = ?, uptime = ?, last_contact_at = ?, updated_at = ?
		WHERE id = ?`,
		m.CPULoad, m.MemoryUsedPct, m.Uptime, m.CollectedAt.UTC(), s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("update device metrics: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(sc scanner) (*models.Device, error) {
	var (
		d       models.Device
		enabled int
		state   string
		contact sql.NullTime
		cpu     sql.NullInt64
		memUsed sql.NullFloat64
	)
	err := sc.Scan(
		&d.ID, &d.Name, &d.Address, &d.Port, &d.Username, &d.Password, &d.SNMPCommunity, &enabled,
		&state, &contact, &cpu, &memUsed, &d.Uptime, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Enabled = enabled != 0
	d.ConnectionState = models.ConnectionState(state)
	if contact.Valid {
		t := contact.Time
		d.LastContactAt = &t
	}
	if cpu.Valid {
		v := int(cpu.Int64)
		d.CPULoad = &v
	}
	if memUsed.Valid {
		v := memUsed.Float64
		d.MemoryUsedPct = &v
	}
	return &d, nil
}

// -- Subscribers --

const subscriberColumns = `id, device_id, username, display_name, ip_address, mac_address,
	queue_name, interface_name, status, is_online, last_seen, created_at, updated_at`

// UpsertSubscriber inserts sub or updates its identity and status. The
// is_online and last_seen fields are left to ApplyStatusBatch on update.
func (s *Store) UpsertSubscriber(ctx context.Context, sub *models.Subscriber) error {
	now := s.now()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.Status == "" {
		sub.Status = models.SubscriberActive
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	var lastSeen any
	if sub.LastSeen != nil {
		lastSeen = sub.LastSeen.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (
			id, device_id, username, display_name, ip_address, mac_address,
			queue_name, interface_name, status, is_online, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			username = excluded.username,
			display_name = excluded.display_name,
			ip_address = excluded.ip_address,
			mac_address = excluded.mac_address,
			queue_name = excluded.queue_name,
			interface_name = excluded.interface_name,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		sub.ID, sub.DeviceID, sub.Username, sub.DisplayName, sub.IPAddress, sub.MACAddress,
		sub.QueueName, sub.InterfaceName, string(sub.Status), boolInt(sub.IsOnline), lastSeen,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

// GetSubscriber returns a subscriber by ID. Returns nil, nil if not found.
func (s *Store) GetSubscriber(ctx context.Context, id string) (*models.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = ?`, id)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

// SubscriberDevice maps each known subscriber id to its owning device.
// Unknown ids are omitted.
func (s *Store) SubscriberDevice(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	err := forChunks(ids, func(chunk []string) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, device_id FROM subscribers WHERE id IN (`+placeholders(len(chunk))+`)`,
			anyArgs(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, deviceID string
			if err := rows.Scan(&id, &deviceID); err != nil {
				return err
			}
			out[id] = deviceID
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("subscriber devices: %w", err)
	}
	return out, nil
}

// ListActiveSubscriberIDs returns the ids of a device's active (not
// suspended) subscribers.
func (s *Store) ListActiveSubscriberIDs(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM subscribers WHERE device_id = ? AND status = ? ORDER BY id`,
		deviceID, string(models.SubscriberActive))
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadSubscriberMeta batch-loads metadata for ids. Missing ids are omitted.
func (s *Store) LoadSubscriberMeta(ctx context.Context, ids []string) (map[string]models.SubscriberMeta, error) {
	out := make(map[string]models.SubscriberMeta, len(ids))
	err := forChunks(ids, func(chunk []string) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, device_id, username, display_name, ip_address, mac_address,
				queue_name, interface_name, status
			FROM subscribers WHERE id IN (`+placeholders(len(chunk))+`)`,
			anyArgs(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m models.SubscriberMeta
			var st string
			if err := rows.Scan(&m.ID, &m.DeviceID, &m.Username, &m.DisplayName, &m.IPAddress,
				&m.MACAddress, &m.QueueName, &m.InterfaceName, &st); err != nil {
				return err
			}
			m.Status = models.SubscriberStatus(st)
			out[m.ID] = m
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load subscriber metadata: %w", err)
	}
	return out, nil
}

// SetSubscriberStatus patches the administrative status. Returns false if
// the subscriber does not exist.
func (s *Store) SetSubscriberStatus(ctx context.Context, id string, status models.SubscriberStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now(), id)
	if err != nil {
		return false, fmt.Errorf("set subscriber status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set subscriber status: %w", err)
	}
	return n > 0, nil
}

// ApplyStatusBatch folds a full poll into storage in one transaction and
// returns the number of rows changed.
func (s *Store) ApplyStatusBatch(ctx context.Context, updates []StatusUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin status batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE subscribers
		SET is_online = ?, last_seen = COALESCE(?, last_seen), updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare status batch: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	changed := 0
	for _, u := range updates {
		var lastSeen any
		if u.LastSeen != nil {
			lastSeen = u.LastSeen.UTC()
		}
		res, err := stmt.ExecContext(ctx, boolInt(u.IsOnline), lastSeen, now, u.SubscriberID)
		if err != nil {
			return 0, fmt.Errorf("update subscriber %s: %w", u.SubscriberID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changed++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit status batch: %w", err)
	}
	return changed, nil
}

func scanSubscriber(sc scanner) (*models.Subscriber, error) {
	var (
		sub      models.Subscriber
		st       string
		online   int
		lastSeen sql.NullTime
	)
	err := sc.Scan(
		&sub.ID, &sub.DeviceID, &sub.Username, &sub.DisplayName, &sub.IPAddress, &sub.MACAddress,
		&sub.QueueName, &sub.InterfaceName, &st, &online, &lastSeen, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = models.SubscriberStatus(st)
	sub.IsOnline = online != 0
	if lastSeen.Valid {
		t := lastSeen.Time
		sub.LastSeen = &t
	}
	return &sub, nil
}

func forChunks(ids []string, fn func([]string) error) error {
	for start := 0; start < len(ids); start += maxBatchParams {
		end := min(start+maxBatchParams, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anyArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
