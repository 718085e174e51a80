package traffic

import (
	"sync"
	"time"

	"github.com/HerbHall/nasguard/internal/routeros"
)

type counterSample struct {
	rx, tx int64
	at     time.Time
}

// RateTracker turns interface byte counters into bits per second between
// successive samples. Each device worker owns one.
type RateTracker struct {
	mu   sync.Mutex
	last map[string]counterSample
	now  func() time.Time
}

// NewRateTracker returns an empty tracker.
func NewRateTracker() *RateTracker {
	return &RateTracker{last: make(map[string]counterSample), now: time.Now}
}

// Annotate sets RxBps and TxBps on ifaces in place and returns them. The
// first sample of an interface, and a sample after a counter reset, report
// zero. Interfaces missing from ifaces are forgotten.
func (t *RateTracker) Annotate(ifaces []routeros.Interface) []routeros.Interface {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	seen := make(map[string]struct{}, len(ifaces))
	for i := range ifaces {
		ifc := &ifaces[i]
		seen[ifc.Name] = struct{}{}

		prev, ok := t.last[ifc.Name]
		t.last[ifc.Name] = counterSample{rx: ifc.RxBytes, tx: ifc.TxBytes, at: now}

		ifc.RxBps, ifc.TxBps = 0, 0
		elapsed := now.Sub(prev.at).Seconds()
		if !ok || elapsed <= 0 || ifc.RxBytes < prev.rx || ifc.TxBytes < prev.tx {
			continue
		}
		ifc.RxBps = int64(float64(ifc.RxBytes-prev.rx) * 8 / elapsed)
		ifc.TxBps = int64(float64(ifc.TxBytes-prev.tx) * 8 / elapsed)
	}
	for name := range t.last {
		if _, ok := seen[name]; !ok {
			delete(t.last, name)
		}
	}
	return ifaces
}

// InterfaceTraffic is the aggregate throughput of one watched interface.
type InterfaceTraffic struct {
	Name    string `json:"name"`
	RxBps   int64  `json:"rx_bps"`
	TxBps   int64  `json:"tx_bps"`
	Running bool   `json:"running"`
}

// SelectInterfaces returns the traffic of the named interfaces, in the order
// of names. Names the device does not report are skipped.
func SelectInterfaces(ifaces []routeros.Interface, names []string) []InterfaceTraffic {
	byName := make(map[string]routeros.Interface, len(ifaces))
	for _, ifc := range ifaces {
		byName[ifc.Name] = ifc
	}
	out := make([]InterfaceTraffic, 0, len(names))
	for _, n := range names {
		ifc, ok := byName[n]
		if !ok {
			continue
		}
		out = append(out, InterfaceTraffic{Name: ifc.Name, RxBps: ifc.RxBps, TxBps: ifc.TxBps, Running: ifc.Running})
	}
	return out
}
