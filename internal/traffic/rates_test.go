package traffic

import (
	"testing"
	"time"

	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/stretchr/testify/assert"
)

func TestRateTracker(t *testing.T) {
	tr := NewRateTracker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	first := tr.Annotate([]routeros.Interface{{Name: "ether1", RxBytes: 1000, TxBytes: 2000}})
	assert.Zero(t, first[0].RxBps, "first sample has no rate")

	now = now.Add(2 * time.Second)
	second := tr.Annotate([]routeros.Interface{{Name: "ether1", RxBytes: 3000, TxBytes: 2500}})
	assert.Equal(t, int64(8000), second[0].RxBps)
	assert.Equal(t, int64(2000), second[0].TxBps)

	now = now.Add(time.Second)
	reset := tr.Annotate([]routeros.Interface{{Name: "ether1", RxBytes: 10, TxBytes: 10}})
	assert.Zero(t, reset[0].RxBps, "counter reset reports zero")

	now = now.Add(time.Second)
	after := tr.Annotate([]routeros.Interface{{Name: "ether1", RxBytes: 1010, TxBytes: 10}})
	assert.Equal(t, int64(8000), after[0].RxBps)
}

func TestRateTracker_forgets_missing(t *testing.T) {
	tr := NewRateTracker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Annotate([]routeros.Interface{{Name: "<pppoe-a>", RxBytes: 100}})
	now = now.Add(time.Second)
	tr.Annotate(nil)
	now = now.Add(time.Second)
	got := tr.Annotate([]routeros.Interface{{Name: "<pppoe-a>", RxBytes: 500}})
	assert.Zero(t, got[0].RxBps, "interface that went away starts over")
}

func TestSelectInterfaces(t *testing.T) {
	ifaces := []routeros.Interface{
		{Name: "ether1", RxBps: 1, TxBps: 2, Running: true},
		{Name: "sfp1", RxBps: 3, TxBps: 4},
	}
	got := SelectInterfaces(ifaces, []string{"sfp1", "missing", "ether1"})
	assert.Equal(t, []InterfaceTraffic{
		{Name: "sfp1", RxBps: 3, TxBps: 4},
		{Name: "ether1", RxBps: 1, TxBps: 2, Running: true},
	}, got)
}
