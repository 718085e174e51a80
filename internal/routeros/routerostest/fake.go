// Package routerostest provides an in-memory routeros.Session for tests.
package routerostest

import (
	"context"
	"strconv"
	"sync"

	"github.com/HerbHall/nasguard/internal/routeros"
)

// Compile-time interface guard.
var _ routeros.Session = (*Session)(nil)

// Operation names accepted by SetErr and Count.
const (
	OpConnect        = "Connect"
	OpActiveSessions = "ActiveSessions"
	OpARPTable       = "ARPTable"
	OpLeases         = "Leases"
	OpSecrets        = "Secrets"
	OpResource       = "Resource"
	OpCreate         = "CreateService"
	OpUpdate         = "UpdateService"
	OpSuspend        = "SuspendService"
	OpRestore        = "RestoreService"
	OpDelete         = "DeleteService"
)

// OpPrint returns the operation name for a Print of path.
func OpPrint(path string) string { return "Print:" + path }

// Mutation is one applied service change.
type Mutation struct {
	Op      string
	Service routeros.ServiceRecord
}

// Session is a scriptable fake device. The zero value is usable and
// starts disconnected.
type Session struct {
	mu        sync.Mutex
	connected bool
	closed    int

	active    []routeros.ActiveSession
	arp       []routeros.ARPEntry
	leases    []routeros.Lease
	secrets   []routeros.Secret
	resource  *routeros.SystemResource
	printed   map[string][]routeros.Record
	errs      map[string]error
	calls     map[string]int
	mutations []Mutation

	// OnMutate, when set, decides the result of every mutation. It runs
	// with the session lock held and must not call back into the session.
	OnMutate func(op string, svc routeros.ServiceRecord) error
}

// New returns a fake session already connected.
func New() *Session {
	return &Session{connected: true}
}

// SetActive replaces the active-session table.
func (s *Session) SetActive(rows ...routeros.ActiveSession) { s.with(func() { s.active = rows }) }

// SetARP replaces the ARP table.
func (s *Session) SetARP(rows ...routeros.ARPEntry) { s.with(func() { s.arp = rows }) }

// SetLeases replaces the lease table.
func (s *Session) SetLeases(rows ...routeros.Lease) { s.with(func() { s.leases = rows }) }

// SetSecrets replaces the PPP secret table.
func (s *Session) SetSecrets(rows ...routeros.Secret) { s.with(func() { s.secrets = rows }) }

// SetResource sets the system resource answer.
func (s *Session) SetResource(r *routeros.SystemResource) { s.with(func() { s.resource = r }) }

// SetPrint sets the records returned by Print for path.
func (s *Session) SetPrint(path string, rows ...routeros.Record) {
	s.with(func() {
		if s.printed == nil {
			s.printed = make(map[string][]routeros.Record)
		}
		s.printed[path] = rows
	})
}

// SetInterfaces sets the interface table from name/rx/tx byte counters.
func (s *Session) SetInterfaces(rows ...routeros.Interface) {
	records := make([]routeros.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, InterfaceRecord(r.Name, r.RxBytes, r.TxBytes))
	}
	s.SetPrint(routeros.PathInterfaces, records...)
}

// SetErr makes op fail with err until cleared with a nil err.
func (s *Session) SetErr(op string, err error) {
	s.with(func() {
		if s.errs == nil {
			s.errs = make(map[string]error)
		}
		if err == nil {
			delete(s.errs, op)
			return
		}
		s.errs[op] = err
	})
}

// Disconnect simulates the transport dropping.
func (s *Session) Disconnect() { s.with(func() { s.connected = false }) }

// Count returns how many times op was called.
func (s *Session) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Mutations returns the applied mutations in order.
func (s *Session) Mutations() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mutation(nil), s.mutations...)
}

// Closed returns how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) with(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// enter records a call and returns the scripted error for op, or
// ErrNotConnected when disconnected.
func (s *Session) enter(op string) error {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[op]++
	if err := s.errs[op]; err != nil {
		return err
	}
	if !s.connected {
		return routeros.ErrNotConnected
	}
	return nil
}

// Connect marks the session connected unless OpConnect is scripted to fail.
func (s *Session) Connect(_ context.Context, _ routeros.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[OpConnect]++
	if err := s.errs[OpConnect]; err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closed++
	return nil
}

func (s *Session) Print(_ context.Context, path string, _ ...string) ([]routeros.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPrint(path)); err != nil {
		return nil, err
	}
	return append([]routeros.Record(nil), s.printed[path]...), nil
}

func (s *Session) ActiveSessions(context.Context) ([]routeros.ActiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpActiveSessions); err != nil {
		return nil, err
	}
	return append([]routeros.ActiveSession(nil), s.active...), nil
}

func (s *Session) ARPTable(context.Context) ([]routeros.ARPEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpARPTable); err != nil {
		return nil, err
	}
	return append([]routeros.ARPEntry(nil), s.arp...), nil
}

func (s *Session) Leases(context.Context) ([]routeros.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpLeases); err != nil {
		return nil, err
	}
	return append([]routeros.Lease(nil), s.leases...), nil
}

func (s *Session) Secrets(context.Context) ([]routeros.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSecrets); err != nil {
		return nil, err
	}
	return append([]routeros.Secret(nil), s.secrets...), nil
}

func (s *Session) Resource(context.Context) (*routeros.SystemResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpResource); err != nil {
		return nil, err
	}
	if s.resource == nil {
		return &routeros.SystemResource{}, nil
	}
	r := *s.resource
	return &r, nil
}

func (s *Session) CreateService(ctx context.Context, svc routeros.ServiceRecord) error {
	return s.mutate(OpCreate, svc)
}

func (s *Session) UpdateService(ctx context.Context, svc routeros.ServiceRecord) error {
	return s.mutate(OpUpdate, svc)
}

func (s *Session) SuspendService(ctx context.Context, svc routeros.ServiceRecord) error {
	return s.mutate(OpSuspend, svc)
}

func (s *Session) RestoreService(ctx context.Context, svc routeros.ServiceRecord) error {
	return s.mutate(OpRestore, svc)
}

func (s *Session) DeleteService(ctx context.Context, svc routeros.ServiceRecord) error {
	return s.mutate(OpDelete, svc)
}

func (s *Session) mutate(op string, svc routeros.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(op); err != nil {
		return err
	}
	if s.OnMutate != nil {
		if err := s.OnMutate(op, svc); err != nil {
			return err
		}
	}
	s.mutations = append(s.mutations, Mutation{Op: op, Service: svc})
	return nil
}

// InterfaceRecord builds an /interface row.
func InterfaceRecord(name string, rxBytes, txBytes int64) routeros.Record {
	return routeros.Record{
		"name":     name,
		"type":     "ether",
		"running":  "true",
		"disabled": "false",
		"rx-byte":  strconv.FormatInt(rxBytes, 10),
		"tx-byte":  strconv.FormatInt(txBytes, 10),
	}
}

// QueueRecord builds a /queue simple row. rate is "upload/download".
func QueueRecord(name, target, rate string, disabled bool) routeros.Record {
	d := "false"
	if disabled {
		d = "true"
	}
	return routeros.Record{
		"name":      name,
		"target":    target,
		"max-limit": "10M/20M",
		"rate":      rate,
		"disabled":  d,
	}
}
