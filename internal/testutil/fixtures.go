// Package testutil provides fixture builders and an in-memory store for
// package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/nasguard/internal/store"
	"github.com/HerbHall/nasguard/pkg/models"
)

// NewStore returns an in-memory SQLite store closed at the end of the test.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// NewDevice returns an enabled Device with sensible defaults, suitable for
// test fixtures. Override individual fields with options.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.Device{
		ID:              uuid.New().String(),
		Name:            "test-router",
		Address:         "192.0.2.1",
		Port:            22,
		Username:        "admin",
		Password:        "secret",
		Enabled:         true,
		ConnectionState: models.ConnectionUnknown,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithDeviceID sets the device ID.
func WithDeviceID(id string) func(*models.Device) {
	return func(d *models.Device) { d.ID = id }
}

// WithAddress sets the device management address.
func WithAddress(addr string) func(*models.Device) {
	return func(d *models.Device) { d.Address = addr }
}

// WithCommunity sets the device SNMP community.
func WithCommunity(c string) func(*models.Device) {
	return func(d *models.Device) { d.SNMPCommunity = c }
}

// Disabled marks the device disabled.
func Disabled() func(*models.Device) {
	return func(d *models.Device) { d.Enabled = false }
}

// NewSubscriber returns an active, offline Subscriber on deviceID.
func NewSubscriber(deviceID string, opts ...func(*models.Subscriber)) models.Subscriber {
	id := uuid.New().String()
	s := models.Subscriber{
		ID:        id,
		DeviceID:  deviceID,
		Username:  "user-" + id[:8],
		IPAddress: "10.0.0.10",
		Status:    models.SubscriberActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithSubscriberID sets the subscriber ID.
func WithSubscriberID(id string) func(*models.Subscriber) {
	return func(s *models.Subscriber) { s.ID = id }
}

// WithUsername sets the technical username.
func WithUsername(u string) func(*models.Subscriber) {
	return func(s *models.Subscriber) { s.Username = u }
}

// WithSubscriberIP sets the bound IP address.
func WithSubscriberIP(ip string) func(*models.Subscriber) {
	return func(s *models.Subscriber) { s.IPAddress = ip }
}

// WithSubscriberMAC sets the hardware address.
func WithSubscriberMAC(mac string) func(*models.Subscriber) {
	return func(s *models.Subscriber) { s.MACAddress = mac }
}

// WithOnline sets is_online.
func WithOnline(online bool) func(*models.Subscriber) {
	return func(s *models.Subscriber) { s.IsOnline = online }
}

// Suspended marks the subscriber suspended.
func Suspended() func(*models.Subscriber) {
	return func(s *models.Subscriber) { s.Status = models.SubscriberSuspended }
}
