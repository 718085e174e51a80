package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/HerbHall/nasguard/internal/outbox"
	"github.com/HerbHall/nasguard/internal/routeros"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// drainPool runs outbox drains off the poll loop. At most one drain per
// device is queued or running, and at most limit run at once.
type drainPool struct {
	sem *semaphore.Weighted
	run func(ctx context.Context, deviceID string, m routeros.Mutator)

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func newDrainPool(limit int, run func(ctx context.Context, deviceID string, m routeros.Mutator)) *drainPool {
	return &drainPool{
		sem:      semaphore.NewWeighted(int64(limit)),
		run:      run,
		inflight: make(map[string]struct{}),
	}
}

// trigger schedules a drain for deviceID and reports whether one was
// scheduled. A drain already queued or running for the device absorbs
// the trigger.
func (p *drainPool) trigger(ctx context.Context, deviceID string, m routeros.Mutator) bool {
	p.mu.Lock()
	if _, busy := p.inflight[deviceID]; busy {
		p.mu.Unlock()
		return false
	}
	p.inflight[deviceID] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.done(deviceID)

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		p.run(ctx, deviceID, m)
	}()
	return true
}

func (p *drainPool) done(deviceID string) {
	p.mu.Lock()
	delete(p.inflight, deviceID)
	p.mu.Unlock()
}

func (p *drainPool) busy(deviceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[deviceID]
	return ok
}

func (p *drainPool) wait() {
	p.wg.Wait()
}

// drain replays the device's pending operations over the worker session.
func (m *Monitor) drain(ctx context.Context, deviceID string, mut routeros.Mutator) {
	if m.deps.Outbox == nil {
		return
	}
	res, err := m.deps.Outbox.Drain(ctx, deviceID, mut)
	if err != nil && !errors.Is(err, outbox.ErrDrainAborted) {
		if ctx.Err() == nil {
			m.logger.Warn("outbox drain failed", zap.String("device_id", deviceID), zap.Error(err))
		}
		return
	}
	if res == nil {
		return
	}
	if res.Completed+res.Retrying+res.Failed == 0 && !res.Aborted {
		return
	}
	m.publish(ctx, EventSyncCompleted, deviceID, SyncCompletedData{
		Completed: res.Completed,
		Retrying:  res.Retrying,
		Failed:    res.Failed,
		Aborted:   res.Aborted,
	})
}
