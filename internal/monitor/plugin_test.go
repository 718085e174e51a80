package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HerbHall/nasguard/internal/config"
	"github.com/HerbHall/nasguard/internal/outbox"
	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/internal/routeros/routerostest"
	"github.com/HerbHall/nasguard/internal/testutil"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"github.com/HerbHall/nasguard/pkg/plugin/plugintest"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type resolver map[string]plugin.Plugin

func (r resolver) Resolve(name string) (plugin.Plugin, bool) {
	p, ok := r[name]
	return p, ok
}

func (r resolver) ResolveByRole(string) []plugin.Plugin { return nil }

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

func TestModule_workers_route_without_monitor(t *testing.T) {
	m := New()
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}))

	rec := httptest.NewRecorder()
	m.handleListWorkers(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitor/workers", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", m.Health(context.Background()).Status)
}

func TestModule_starts_devices_and_drains_outbox(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewStore(t)
	inv := newInventory(t, db)
	ob := outbox.New()
	require.NoError(t, ob.Init(ctx, plugin.Dependencies{Logger: zap.NewNop(), Store: db}))

	dev := testutil.NewDevice(testutil.WithDeviceID("r1"))
	require.NoError(t, inv.Store().UpsertDevice(ctx, &dev))
	off := testutil.NewDevice(testutil.WithDeviceID("r2"), testutil.Disabled())
	require.NoError(t, inv.Store().UpsertDevice(ctx, &off))
	_, err := ob.Service().Enqueue(ctx, models.OpSuspend, "s1", "r1", routeros.ServiceRecord{Username: "alice"})
	require.NoError(t, err)

	v := viper.New()
	v.Set("poll_interval", "10ms")
	v.Set("reconnect_backoff", "10ms")
	dialer := &fakeDialer{}
	bus := &recordingBus{}
	m := New(WithDialer(dialer))
	require.NoError(t, m.Init(ctx, plugin.Dependencies{
		Config:  config.New(v),
		Logger:  zap.NewNop(),
		Bus:     bus,
		Plugins: resolver{"inventory": inv, "outbox": ob},
	}))
	assert.Equal(t, 10*time.Millisecond, m.cfg.PollInterval)
	require.NotNil(t, m.Engine())

	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		return dialer.count() == 1 && len(dialer.session(0).Mutations()) == 1
	}, 3*time.Second, 5*time.Millisecond)
	mut := dialer.session(0).Mutations()[0]
	assert.Equal(t, routerostest.OpSuspend, mut.Op)
	assert.Equal(t, "alice", mut.Service.Username)

	require.Eventually(t, func() bool { return len(bus.ofType(EventSyncCompleted)) == 1 },
		3*time.Second, 5*time.Millisecond)
	summary := bus.ofType(EventSyncCompleted)[0]
	assert.Equal(t, "r1", summary.DeviceID)
	assert.Equal(t, 1, summary.Data.(SyncCompletedData).Completed)

	require.Eventually(t, func() bool { return m.Monitor().State("r1") == StatePolling },
		3*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateStopped, m.Monitor().State("r2"), "disabled devices get no worker")

	rec := httptest.NewRecorder()
	m.handleListWorkers(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitor/workers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var workers []WorkerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workers))
	require.Len(t, workers, 1)
	assert.Equal(t, "r1", workers[0].DeviceID)
	assert.Equal(t, StatePolling, workers[0].State)

	h := m.Health(ctx)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "1", h.Details["polling"])

	require.NoError(t, m.Stop(ctx))
	assert.Empty(t, m.Monitor().Workers())
}
