package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/HerbHall/nasguard/internal/inventory"
	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/internal/status"
	"github.com/HerbHall/nasguard/internal/timefmt"
	"github.com/HerbHall/nasguard/internal/traffic"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// fullSync resolves every active subscriber of the device and folds the
// result into storage. Secrets are fetched best-effort; they only feed
// last-seen values.
func (m *Monitor) fullSync(ctx context.Context, w *worker, sess routeros.Session, tables traffic.Tables, log *zap.Logger) (int, error) {
	ids, err := m.deps.Store.ListActiveSubscriberIDs(ctx, w.deviceID)
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	secrets, err := sess.Secrets(ctx)
	if err != nil {
		if routeros.IsConnectivityError(err) {
			return 0, err
		}
		log.Debug("secrets unavailable, last-seen by username skipped", zap.Error(err))
		secrets = nil
	}
	tables.Secrets = secrets

	res, err := m.deps.Engine.Resolve(ctx, sess, ids, tables)
	if err != nil {
		return 0, err
	}
	return m.syncStatus(ctx, w.deviceID, sess.Connected(), res)
}

// syncStatus writes one resolution to storage in a single batch. A large
// batch that is almost entirely offline while the session is up is a
// device glitch, not a mass disconnect, and is discarded whole.
func (m *Monitor) syncStatus(ctx context.Context, deviceID string, connected bool, res *traffic.Resolution) (int, error) {
	total := len(res.Snapshots)
	if total == 0 {
		return 0, nil
	}
	online := 0
	for _, snap := range res.Snapshots {
		if status.ResolveOnline(snap) {
			online++
		}
	}

	ratio := float64(online) / float64(total)
	if connected && total > m.cfg.FlickerMinBatch && ratio < m.cfg.FlickerMinOnlineRatio {
		flickerRejections.Inc()
		m.logger.Warn("discarding implausible status batch",
			zap.String("device_id", deviceID),
			zap.Int("total", total),
			zap.Int("online", online),
		)
		return 0, ErrImplausibleBatch
	}

	now := m.now()
	updates := make([]inventory.StatusUpdate, 0, total)
	for id, snap := range res.Snapshots {
		isOnline, seen, ok := status.Fold(res.Meta[id], snap, res.LastSeen, now)
		u := inventory.StatusUpdate{SubscriberID: id, IsOnline: isOnline}
		if ok {
			u.LastSeen = &seen
		}
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].SubscriberID < updates[j].SubscriberID })

	n, err := m.deps.Store.ApplyStatusBatch(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("apply status batch: %w", err)
	}
	return n, nil
}

// collectMetrics samples the device over SNMP when it has a community,
// falling back to the session's system resource. A failed SNMP sample
// holds SNMP off for that device with an exponentially growing window.
func (m *Monitor) collectMetrics(ctx context.Context, w *worker, sess routeros.Session) error {
	dev := w.getDevice()

	var metrics *models.DeviceMetrics
	if m.cfg.SNMPEnabled && m.deps.SNMP != nil && dev.SNMPCommunity != "" {
		if now := m.now(); now.Before(w.snmpRetryAt) {
			m.logger.Debug("snmp held off after failure",
				zap.String("device_id", w.deviceID), zap.Time("retry_at", w.snmpRetryAt))
		} else if sample, err := m.deps.SNMP.Collect(ctx, dev); err != nil {
			wait := m.snmpBackoff(w).NextBackOff()
			w.snmpRetryAt = now.Add(wait)
			m.logger.Debug("snmp collection failed, using session",
				zap.String("device_id", w.deviceID), zap.Duration("retry_in", wait), zap.Error(err))
		} else {
			if w.snmpBackoff != nil {
				w.snmpBackoff.Reset()
			}
			w.snmpRetryAt = time.Time{}
			metrics = sample
		}
	}
	if metrics == nil {
		res, err := sess.Resource(ctx)
		if err != nil {
			return err
		}
		sample := resourceMetrics(res)
		metrics = &sample
	}
	if metrics.CollectedAt.IsZero() {
		metrics.CollectedAt = m.now()
	}

	if err := m.deps.Store.UpdateDeviceMetrics(ctx, w.deviceID, *metrics); err != nil {
		return err
	}
	m.publish(ctx, EventDeviceMetrics, w.deviceID, *metrics)
	return nil
}

// snmpBackoff returns the worker's SNMP retry schedule, creating it on
// first failure. It never stops on elapsed time.
func (m *Monitor) snmpBackoff(w *worker) *backoff.ExponentialBackOff {
	if w.snmpBackoff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = m.cfg.SNMPBackoff
		b.MaxInterval = m.cfg.SNMPMaxBackoff
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		w.snmpBackoff = b
	}
	return w.snmpBackoff
}

func resourceMetrics(r *routeros.SystemResource) models.DeviceMetrics {
	up, _ := timefmt.ParseDuration(r.Uptime)
	return models.DeviceMetrics{
		CPULoad:       r.CPULoad,
		MemoryUsedPct: r.MemoryUsedPct(),
		Uptime:        r.Uptime,
		UptimeSeconds: int64(up.Seconds()),
		Source:        "session",
	}
}
