package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/internal/traffic"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// worker is one device's monitoring goroutine.
type worker struct {
	deviceID   string
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	mu        sync.Mutex
	state     State
	since     time.Time
	lastErr   string
	session   *lockedSession
	device    models.Device
	connState models.ConnectionState

	// SNMP is held off until snmpRetryAt after a failure. Both fields are
	// owned by the worker goroutine and survive reconnects.
	snmpRetryAt time.Time
	snmpBackoff *backoff.ExponentialBackOff
}

// alive reports whether the worker is neither cancelled nor exited.
func (w *worker) alive() bool {
	return w.ctx.Err() == nil && !w.exited()
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *worker) setState(s State, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == s {
		return
	}
	if w.state != "" && w.state != StateStopped {
		workersGauge.WithLabelValues(string(w.state)).Dec()
	}
	if s != StateStopped {
		workersGauge.WithLabelValues(string(s)).Inc()
	}
	w.state = s
	w.since = at
}

func (w *worker) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		w.lastErr = ""
		return
	}
	w.lastErr = err.Error()
}

func (w *worker) info() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerInfo{
		DeviceID:   w.deviceID,
		State:      w.state,
		Generation: w.generation,
		Since:      w.since,
		LastError:  w.lastErr,
	}
}

func (w *worker) getSession() *lockedSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

func (w *worker) setSession(s *lockedSession) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = s
}

func (w *worker) getDevice() models.Device {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.device
}

// run is the worker goroutine: connect, poll until the session drops,
// reconnect, until cancelled or the device goes away.
func (m *Monitor) run(w *worker, prev *worker) {
	defer m.wg.Done()
	defer close(w.done)
	defer func() { w.setState(StateStopped, m.now()) }()

	log := m.logger.With(zap.String("device_id", w.deviceID), zap.Uint64("generation", w.generation))

	if prev != nil {
		select {
		case <-prev.done:
		case <-w.ctx.Done():
			return
		}
	}

	rates := traffic.NewRateTracker()
	for {
		sess, err := m.connect(w, log)
		if err != nil {
			w.setErr(err)
			switch {
			case w.ctx.Err() != nil:
				log.Info("device worker stopped")
			case errors.Is(err, ErrDeviceNotFound), errors.Is(err, ErrDeviceDisabled):
				log.Info("device worker ending", zap.Error(err))
			default:
				log.Warn("device worker ending", zap.Error(err))
			}
			return
		}

		m.poll(w, sess, rates, log)

		w.setSession(nil)
		if err := sess.Close(); err != nil {
			log.Debug("session close failed", zap.Error(err))
		}
		if w.ctx.Err() != nil {
			log.Info("device worker stopped")
			return
		}
		w.setState(StateReconnecting, m.now())
		m.markOffline(w, "connection lost", log)
	}
}

// connect retries connectOnce with a constant backoff bound to the worker
// context. A missing or disabled device is a permanent error.
func (m *Monitor) connect(w *worker, log *zap.Logger) (*lockedSession, error) {
	b := backoff.WithContext(backoff.NewConstantBackOff(m.cfg.ReconnectBackoff), w.ctx)
	notify := func(err error, next time.Duration) {
		log.Warn("device connect failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
	}
	return backoff.RetryNotifyWithData(func() (*lockedSession, error) {
		return m.connectOnce(w, log)
	}, b, notify)
}

func (m *Monitor) connectOnce(w *worker, log *zap.Logger) (*lockedSession, error) {
	dev, err := m.deps.Store.GetDevice(w.ctx, w.deviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if dev == nil {
		return nil, backoff.Permanent(ErrDeviceNotFound)
	}
	if !dev.Enabled {
		return nil, backoff.Permanent(ErrDeviceDisabled)
	}

	w.mu.Lock()
	w.device = *dev
	if w.connState == "" {
		w.connState = dev.ConnectionState
	}
	w.mu.Unlock()

	if m.cfg.ProbeBeforeConnect && m.deps.Prober != nil {
		if err := m.deps.Prober.Probe(w.ctx, dev.Address); err != nil {
			connectFailures.Inc()
			w.setErr(err)
			m.markOffline(w, "unreachable", log)
			return nil, fmt.Errorf("probe %s: %w", dev.Address, err)
		}
	}

	sess := m.deps.Dialer.NewSession()
	ctx, cancel := context.WithTimeout(w.ctx, m.cfg.ConnectTimeout)
	defer cancel()
	err = sess.Connect(ctx, routeros.Target{
		Address:  dev.Address,
		Port:     dev.Port,
		Username: dev.Username,
		Password: dev.Password,
		Timeout:  m.cfg.ConnectTimeout,
	})
	if err != nil {
		_ = sess.Close()
		connectFailures.Inc()
		w.setErr(err)
		m.markOffline(w, "connect failed", log)
		return nil, fmt.Errorf("connect %s: %w", dev.Address, err)
	}

	locked := newLockedSession(sess)
	w.setSession(locked)
	w.setErr(nil)
	m.markOnline(w, log)
	log.Info("device connected", zap.String("address", dev.Address))
	return locked, nil
}

// markOnline persists the online state with a fresh contact time and
// announces it.
func (m *Monitor) markOnline(w *worker, log *zap.Logger) {
	now := m.now()
	if err := m.deps.Store.SetConnectionState(w.ctx, w.deviceID, models.ConnectionOnline, now); err != nil {
		log.Warn("failed to persist connection state", zap.Error(err))
	}
	w.mu.Lock()
	w.connState = models.ConnectionOnline
	w.mu.Unlock()
	m.publish(w.ctx, EventDeviceStatus, w.deviceID, DeviceStatusData{State: models.ConnectionOnline})
}

// markOffline announces the device offline on every failure and persists
// the state on transition only.
func (m *Monitor) markOffline(w *worker, reason string, log *zap.Logger) {
	if w.ctx.Err() != nil {
		return
	}
	w.mu.Lock()
	transition := w.connState != models.ConnectionOffline
	w.connState = models.ConnectionOffline
	w.mu.Unlock()

	if transition {
		if err := m.deps.Store.SetConnectionState(w.ctx, w.deviceID, models.ConnectionOffline, m.now()); err != nil {
			log.Warn("failed to persist connection state", zap.Error(err))
		}
	}
	m.publish(w.ctx, EventDeviceStatus, w.deviceID, DeviceStatusData{
		State:  models.ConnectionOffline,
		Reason: reason,
	})
}

// pollSchedule tracks when the slower periodic tasks last ran.
type pollSchedule struct {
	lastDrain   time.Time
	lastFull    time.Time
	lastMetrics time.Time

	// emitted is the last snapshot sent per watched subscriber.
	emitted map[string]models.Snapshot
}

// poll runs cycles until the session drops or the worker is cancelled.
func (m *Monitor) poll(w *worker, sess *lockedSession, rates *traffic.RateTracker, log *zap.Logger) {
	w.setState(StatePolling, m.now())
	sched := &pollSchedule{emitted: make(map[string]models.Snapshot)}

	ticks, stop := m.tick(m.cfg.PollInterval)
	defer stop()

	for {
		err := m.cycle(w, sess, rates, sched, log)
		w.setErr(err)
		if w.ctx.Err() != nil {
			return
		}
		if !sess.Connected() || routeros.IsConnectivityError(err) {
			log.Warn("device session lost", zap.Error(err))
			return
		}

		select {
		case <-w.ctx.Done():
			return
		case <-ticks:
		}
	}
}

// cycle is one poll tick. A failed table read fails the cycle; the slower
// tasks are retried on the next tick.
func (m *Monitor) cycle(w *worker, sess *lockedSession, rates *traffic.RateTracker, sched *pollSchedule, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(w.ctx, m.cfg.CycleTimeout)
	defer cancel()
	now := m.now()

	if now.Sub(sched.lastDrain) >= m.cfg.DrainInterval {
		sched.lastDrain = now
		m.drains.trigger(w.ctx, w.deviceID, sess)
	}

	ifaces, err := routeros.FetchInterfaces(ctx, sess)
	if err != nil {
		return m.cycleFailed(err, "fetch interfaces", log)
	}
	ifaces = rates.Annotate(ifaces)
	queues, err := routeros.FetchQueues(ctx, sess)
	if err != nil {
		return m.cycleFailed(err, "fetch queues", log)
	}

	watchedIfaces, watchedSubs := m.watchSet(w.deviceID).snapshot()
	if len(watchedIfaces) > 0 {
		m.publish(ctx, EventInterfaceTraffic, w.deviceID, InterfaceTrafficData{
			Interfaces: traffic.SelectInterfaces(ifaces, watchedIfaces),
		})
	}

	tables := traffic.Tables{Interfaces: ifaces, Queues: queues}
	if err := m.emitSubscriberTraffic(ctx, w, sess, watchedSubs, tables, sched); err != nil {
		return m.cycleFailed(err, "resolve watched subscribers", log)
	}

	if now.Sub(sched.lastFull) >= m.cfg.FullSyncInterval {
		n, err := m.fullSync(ctx, w, sess, tables, log)
		switch {
		case err == nil:
			sched.lastFull = now
			log.Debug("status sync applied", zap.Int("subscribers", n))
		case errors.Is(err, ErrImplausibleBatch):
			sched.lastFull = now
		default:
			return m.cycleFailed(err, "full sync", log)
		}
	}

	if now.Sub(sched.lastMetrics) >= m.cfg.MetricsInterval {
		if err := m.collectMetrics(ctx, w, sess); err != nil {
			return m.cycleFailed(err, "collect metrics", log)
		}
		sched.lastMetrics = now
	}

	pollCycles.WithLabelValues("ok").Inc()
	return nil
}

func (m *Monitor) cycleFailed(err error, step string, log *zap.Logger) error {
	pollCycles.WithLabelValues("error").Inc()
	log.Warn("poll cycle failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%s: %w", step, err)
}

// emitSubscriberTraffic resolves watched subscribers and publishes the
// ones whose snapshot moved since it was last sent.
func (m *Monitor) emitSubscriberTraffic(ctx context.Context, w *worker, sess *lockedSession, ids []string, tables traffic.Tables, sched *pollSchedule) error {
	if len(ids) == 0 {
		clear(sched.emitted)
		return nil
	}
	res, err := m.deps.Engine.Resolve(ctx, sess, ids, tables)
	if err != nil {
		return err
	}

	watched := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		watched[id] = struct{}{}
	}
	for id := range sched.emitted {
		if _, ok := watched[id]; !ok {
			delete(sched.emitted, id)
		}
	}

	changed := make(map[string]models.Snapshot)
	for id, snap := range res.Snapshots {
		prev, seen := sched.emitted[id]
		if !seen || traffic.Changed(prev, snap, m.cfg.ThroughputDeltaBps) {
			changed[id] = snap
			sched.emitted[id] = snap
		}
	}
	if len(changed) > 0 {
		m.publish(ctx, EventSubscriberTraffic, w.deviceID, SubscriberTrafficData{Subscribers: changed})
	}
	return nil
}
