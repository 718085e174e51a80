package monitor

import (
	"context"
	"sync"

	"github.com/HerbHall/nasguard/internal/routeros"
)

var _ routeros.Session = (*lockedSession)(nil)

// lockedSession serializes I/O on a worker's session so the drain task
// and the poll loop never talk to the device at the same time. Connected
// is answered without the lock so a long drain does not stall readers.
type lockedSession struct {
	mu    sync.Mutex
	inner routeros.Session
}

func newLockedSession(s routeros.Session) *lockedSession {
	return &lockedSession{inner: s}
}

func (l *lockedSession) Connect(ctx context.Context, t routeros.Target) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Connect(ctx, t)
}

func (l *lockedSession) Connected() bool {
	return l.inner.Connected()
}

func (l *lockedSession) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Close()
}

func (l *lockedSession) Print(ctx context.Context, path string, fields ...string) ([]routeros.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Print(ctx, path, fields...)
}

func (l *lockedSession) ActiveSessions(ctx context.Context) ([]routeros.ActiveSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.ActiveSessions(ctx)
}

func (l *lockedSession) ARPTable(ctx context.Context) ([]routeros.ARPEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.ARPTable(ctx)
}

func (l *lockedSession) Leases(ctx context.Context) ([]routeros.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Leases(ctx)
}

func (l *lockedSession) Secrets(ctx context.Context) ([]routeros.Secret, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Secrets(ctx)
}

func (l *lockedSession) Resource(ctx context.Context) (*routeros.SystemResource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Resource(ctx)
}

func (l *lockedSession) CreateService(ctx context.Context, svc routeros.ServiceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.CreateService(ctx, svc)
}

func (l *lockedSession) UpdateService(ctx context.Context, svc routeros.ServiceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.UpdateService(ctx, svc)
}

func (l *lockedSession) SuspendService(ctx context.Context, svc routeros.ServiceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.SuspendService(ctx, svc)
}

func (l *lockedSession) RestoreService(ctx context.Context, svc routeros.ServiceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.RestoreService(ctx, svc)
}

func (l *lockedSession) DeleteService(ctx context.Context, svc routeros.ServiceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.DeleteService(ctx, svc)
}
