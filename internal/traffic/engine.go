// Package traffic resolves per-subscriber online status and throughput
// from one device's bulk tables. It never writes to storage; the monitor
// decides what to do with a Resolution.
package traffic

import (
	"context"
	"fmt"
	"strings"

	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/pkg/models"
	"go.uber.org/zap"
)

// Tables carries device tables the caller already fetched this cycle. A
// nil slice means "not fetched"; the engine then fetches it itself. An
// empty non-nil slice is a valid, empty table.
type Tables struct {
	Interfaces []routeros.Interface
	Queues     []routeros.Queue

	// Secrets, when supplied, contribute last-logged-out values keyed by
	// username. They are never fetched by the engine.
	Secrets []routeros.Secret
}

// Resolution is the outcome of one resolve call.
type Resolution struct {
	// Snapshots has one entry per requested id that still exists.
	Snapshots map[string]models.Snapshot
	// Meta is the metadata each snapshot was resolved against.
	Meta map[string]models.SubscriberMeta
	// LastSeen maps IP, lowercase username and uppercase MAC to the
	// device-reported last-seen string.
	LastSeen map[string]string
}

// Engine resolves subscriber state against device tables.
type Engine struct {
	loader MetadataLoader
	cache  *MetadataCache
	logger *zap.Logger
}

// NewEngine returns an engine loading metadata misses through loader.
func NewEngine(loader MetadataLoader, cache *MetadataCache, logger *zap.Logger) *Engine {
	if cache == nil {
		cache = NewMetadataCache(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{loader: loader, cache: cache, logger: logger}
}

// Cache returns the engine's metadata cache.
func (e *Engine) Cache() *MetadataCache { return e.cache }

// Resolve fetches what it needs from r and resolves every id. Any failed
// table fetch fails the whole call with no partial result.
func (e *Engine) Resolve(ctx context.Context, r routeros.Reader, ids []string, tables Tables) (*Resolution, error) {
	metas, err := e.metadata(ctx, ids)
	if err != nil {
		return nil, err
	}

	if tables.Queues == nil {
		if tables.Queues, err = routeros.FetchQueues(ctx, r); err != nil {
			return nil, err
		}
	}
	if tables.Interfaces == nil && len(metas) > 0 {
		if tables.Interfaces, err = routeros.FetchInterfaces(ctx, r); err != nil {
			return nil, err
		}
	}
	active, err := r.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	arp, err := r.ARPTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	leases, err := r.Leases(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}

	ix := buildIndexes(active, arp, leases, tables)
	res := &Resolution{
		Snapshots: make(map[string]models.Snapshot, len(metas)),
		Meta:      metas,
		LastSeen:  ix.lastSeen,
	}
	for id, meta := range metas {
		res.Snapshots[id] = ix.resolve(meta)
	}
	return res, nil
}

// metadata returns cached metadata for ids, loading misses in one batch.
func (e *Engine) metadata(ctx context.Context, ids []string) (map[string]models.SubscriberMeta, error) {
	metas, misses := e.cache.Lookup(ids)
	if len(misses) == 0 {
		return metas, nil
	}
	if e.loader == nil {
		return nil, fmt.Errorf("resolve: no metadata loader for %d subscribers", len(misses))
	}
	loaded, err := e.loader.LoadSubscriberMeta(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("load subscriber metadata: %w", err)
	}
	fresh := make([]models.SubscriberMeta, 0, len(loaded))
	for id, m := range loaded {
		metas[id] = m
		fresh = append(fresh, m)
	}
	e.cache.Put(fresh...)
	if missing := len(misses) - len(loaded); missing > 0 {
		e.logger.Debug("subscribers not found in storage", zap.Int("count", missing))
	}
	return metas, nil
}

type indexes struct {
	activeUsers map[string]struct{}
	arpIPs      map[string]struct{}
	leaseIPs    map[string]struct{}
	queueByName map[string]routeros.Queue
	queueByIP   map[string]routeros.Queue
	ifaceByName map[string]routeros.Interface
	lastSeen    map[string]string
}

func buildIndexes(active []routeros.ActiveSession, arp []routeros.ARPEntry, leases []routeros.Lease, t Tables) *indexes {
	ix := &indexes{
		activeUsers: make(map[string]struct{}, len(active)),
		arpIPs:      make(map[string]struct{}, len(arp)),
		leaseIPs:    make(map[string]struct{}, len(leases)),
		queueByName: make(map[string]routeros.Queue, len(t.Queues)),
		queueByIP:   make(map[string]routeros.Queue, len(t.Queues)),
		ifaceByName: make(map[string]routeros.Interface, len(t.Interfaces)),
		lastSeen:    make(map[string]string),
	}
	for _, a := range active {
		if u := models.NormalizeUsername(a.Name); u != "" {
			ix.activeUsers[u] = struct{}{}
		}
	}
	for _, e := range arp {
		if e.Usable() {
			ix.arpIPs[e.Address] = struct{}{}
		}
	}
	for _, l := range leases {
		if l.Bound() && l.Address != "" {
			ix.leaseIPs[l.Address] = struct{}{}
		}
		if !knownLastSeen(l.LastSeen) {
			continue
		}
		if l.Address != "" {
			ix.lastSeen[l.Address] = l.LastSeen
		}
		if mac := models.NormalizeMAC(l.MACAddress); mac != "" {
			ix.lastSeen[mac] = l.LastSeen
		}
	}
	for _, s := range t.Secrets {
		if u := models.NormalizeUsername(s.Name); u != "" && knownLastSeen(s.LastLoggedOut) {
			ix.lastSeen[u] = s.LastLoggedOut
		}
	}
	for _, q := range t.Queues {
		if n := normalizeName(q.Name); n != "" {
			putQueue(ix.queueByName, n, q)
		}
		for _, ip := range q.Target {
			putQueue(ix.queueByIP, ip, q)
		}
	}
	for _, ifc := range t.Interfaces {
		ix.ifaceByName[normalizeName(ifc.Name)] = ifc
	}
	return ix
}

// putQueue indexes q under key. When two queues share a key the enabled
// one wins; among equals the first seen is kept.
func putQueue(m map[string]routeros.Queue, key string, q routeros.Queue) {
	if prev, ok := m[key]; ok && (!prev.Disabled || q.Disabled) {
		return
	}
	m[key] = q
}

func knownLastSeen(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "never")
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// usernameVariants lists the queue names RouterOS gives a PPPoE user's
// dynamic queue, most specific first.
func usernameVariants(username string) []string {
	u := models.NormalizeUsername(username)
	if u == "" {
		return nil
	}
	return []string{"<pppoe-" + u + ">", "pppoe-" + u, u}
}

func (ix *indexes) resolve(m models.SubscriberMeta) models.Snapshot {
	snap := models.Snapshot{Status: models.StatusOffline, Method: models.MethodNone}

	ip := strings.TrimSpace(m.IPAddress)
	switch {
	case has(ix.activeUsers, models.NormalizeUsername(m.Username)):
		snap.Status, snap.Method = models.StatusOnline, models.MethodActiveSession
	case ip != "" && has(ix.arpIPs, ip):
		snap.Status, snap.Method = models.StatusOnline, models.MethodARP
	case ip != "" && has(ix.leaseIPs, ip):
		snap.Status, snap.Method = models.StatusOnline, models.MethodDHCPLease
	}
	if !snap.Online() {
		return snap
	}
	snap.UploadBps, snap.DownloadBps = ix.throughput(m, ip)
	return snap
}

func has(set map[string]struct{}, key string) bool {
	if key == "" {
		return false
	}
	_, ok := set[key]
	return ok
}

// throughput matches a queue by technical name, username variants, display
// name and finally target IP, then falls back to the subscriber's dynamic
// interface. Disabled queues are skipped.
func (ix *indexes) throughput(m models.SubscriberMeta, ip string) (up, down int64) {
	names := make([]string, 0, 5)
	if n := normalizeName(m.QueueName); n != "" {
		names = append(names, n)
	}
	names = append(names, usernameVariants(m.Username)...)
	if n := normalizeName(m.DisplayName); n != "" {
		names = append(names, n)
	}
	for _, n := range names {
		if q, ok := ix.queueByName[n]; ok && !q.Disabled {
			return q.UploadBps, q.DownloadBps
		}
	}
	if q, ok := ix.queueByIP[ip]; ok && ip != "" && !q.Disabled {
		return q.UploadBps, q.DownloadBps
	}

	ifaces := make([]string, 0, 2)
	if n := normalizeName(m.InterfaceName); n != "" {
		ifaces = append(ifaces, n)
	}
	if vs := usernameVariants(m.Username); len(vs) > 0 {
		ifaces = append(ifaces, vs[0])
	}
	for _, n := range ifaces {
		if ifc, ok := ix.ifaceByName[n]; ok {
			// Router receive is subscriber upload.
			return ifc.RxBps, ifc.TxBps
		}
	}
	return 0, 0
}

// Changed reports whether cur differs materially from prev: a status flip,
// or a throughput move beyond threshold bits per second in either
// direction.
func Changed(prev, cur models.Snapshot, threshold int64) bool {
	if prev.Status != cur.Status {
		return true
	}
	return abs(cur.UploadBps-prev.UploadBps) > threshold || abs(cur.DownloadBps-prev.DownloadBps) > threshold
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
