package inventory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/HerbHall/nasguard/internal/testutil"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.NewStore(t)
	require.NoError(t, db.Migrate(context.Background(), "inventory", migrations()))
	return NewStore(db.DB())
}

func seed(t *testing.T, s *Store, d models.Device, subs ...models.Subscriber) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertDevice(ctx, &d))
	for i := range subs {
		require.NoError(t, s.UpsertSubscriber(ctx, &subs[i]))
	}
}

func TestDevice_roundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d := testutil.NewDevice(testutil.WithDeviceID("r1"), testutil.WithCommunity("public"))
	require.NoError(t, s.UpsertDevice(ctx, &d))

	got, err := s.GetDevice(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "192.0.2.1", got.Address)
	assert.Equal(t, "public", got.SNMPCommunity)
	assert.True(t, got.Enabled)
	assert.Equal(t, models.ConnectionUnknown, got.ConnectionState)
	assert.Nil(t, got.LastContactAt)
	assert.Nil(t, got.CPULoad)

	missing, err := s.GetDevice(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertDevice_keeps_monitor_fields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	d := testutil.NewDevice(testutil.WithDeviceID("r1"))
	require.NoError(t, s.UpsertDevice(ctx, &d))
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SetConnectionState(ctx, "r1", models.ConnectionOnline, at))

	d.Address = "192.0.2.2"
	d.ConnectionState = models.ConnectionUnknown
	require.NoError(t, s.UpsertDevice(ctx, &d))

	got, err := s.GetDevice(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.2", got.Address)
	assert.Equal(t, models.ConnectionOnline, got.ConnectionState)
	require.NotNil(t, got.LastContactAt)
	assert.True(t, got.LastContactAt.Equal(at))
}

func TestSetConnectionState_offline_keeps_contact(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("r1")))

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SetConnectionState(ctx, "r1", models.ConnectionOnline, at))
	require.NoError(t, s.SetConnectionState(ctx, "r1", models.ConnectionOffline, at.Add(time.Hour)))

	got, err := s.GetDevice(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionOffline, got.ConnectionState)
	require.NotNil(t, got.LastContactAt)
	assert.True(t, got.LastContactAt.Equal(at))
}

func TestUpdateDeviceMetrics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("r1")))

	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateDeviceMetrics(ctx, "r1", models.DeviceMetrics{
		CPULoad: 42, MemoryUsedPct: 61.5, Uptime: "3d4h", CollectedAt: at,
	}))

	got, err := s.GetDevice(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.CPULoad)
	require.NotNil(t, got.MemoryUsedPct)
	assert.Equal(t, 42, *got.CPULoad)
	assert.InDelta(t, 61.5, *got.MemoryUsedPct, 0.001)
	assert.Equal(t, "3d4h", got.Uptime)
	assert.True(t, got.LastContactAt.Equal(at))
}

func TestListEnabledDevices(t *testing.T) {
	s := testStore(t)
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("b")))
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("a")))
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("c"), testutil.Disabled()))

	got, err := s.ListEnabledDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestSubscriber_queries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("r1")),
		testutil.NewSubscriber("r1", testutil.WithSubscriberID("s1"), testutil.WithUsername("alice")),
		testutil.NewSubscriber("r1", testutil.WithSubscriberID("s2"), testutil.Suspended()),
	)
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("r2")),
		testutil.NewSubscriber("r2", testutil.WithSubscriberID("s3")),
	)

	ids, err := s.ListActiveSubscriberIDs(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	owners, err := s.SubscriberDevice(ctx, []string{"s1", "s3", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"s1": "r1", "s3": "r2"}, owners)

	metas, err := s.LoadSubscriberMeta(ctx, []string{"s1", "s2", "ghost"})
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "alice", metas["s1"].Username)
	assert.Equal(t, models.SubscriberSuspended, metas["s2"].Status)

	sub, err := s.GetSubscriber(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.False(t, sub.IsOnline)
	assert.Nil(t, sub.LastSeen)
}

func TestLoadSubscriberMeta_chunks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	d := testutil.NewDevice(testutil.WithDeviceID("r1"))
	var subs []models.Subscriber
	var ids []string
	for i := 0; i < maxBatchParams+20; i++ {
		id := fmt.Sprintf("s%04d", i)
		ids = append(ids, id)
		subs = append(subs, testutil.NewSubscriber("r1", testutil.WithSubscriberID(id)))
	}
	seed(t, s, d, subs...)

	metas, err := s.LoadSubscriberMeta(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, metas, len(ids))
}

func TestSetSubscriberStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("r1")),
		testutil.NewSubscriber("r1", testutil.WithSubscriberID("s1")))

	ok, err := s.SetSubscriberStatus(ctx, "s1", models.SubscriberSuspended)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetSubscriberStatus(ctx, "ghost", models.SubscriberSuspended)
	require.NoError(t, err)
	assert.False(t, ok)

	sub, err := s.GetSubscriber(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriberSuspended, sub.Status)
}

func TestApplyStatusBatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	earlier := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s, testutil.NewDevice(testutil.WithDeviceID("r1")),
		testutil.NewSubscriber("r1", testutil.WithSubscriberID("s1")),
		testutil.NewSubscriber("r1", testutil.WithSubscriberID("s2"), testutil.WithOnline(true),
			func(sub *models.Subscriber) { sub.LastSeen = &earlier }),
	)

	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	n, err := s.ApplyStatusBatch(ctx, []StatusUpdate{
		{SubscriberID: "s1", IsOnline: true, LastSeen: &now},
		{SubscriberID: "s2", IsOnline: false},
		{SubscriberID: "ghost", IsOnline: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s1, err := s.GetSubscriber(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s1.IsOnline)
	require.NotNil(t, s1.LastSeen)
	assert.True(t, s1.LastSeen.Equal(now))

	s2, err := s.GetSubscriber(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, s2.IsOnline)
	require.NotNil(t, s2.LastSeen)
	assert.True(t, s2.LastSeen.Equal(earlier), "nil last_seen leaves the stored value")
}

func TestApplyStatusBatch_empty(t *testing.T) {
	s := testStore(t)
	n, err := s.ApplyStatusBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
