package models

import (
	"strings"
	"time"
)

// SubscriberStatus is the administrative state of a subscriber's service.
type SubscriberStatus string

const (
	SubscriberActive    SubscriberStatus = "active"
	SubscriberSuspended SubscriberStatus = "suspended"
)

// Subscriber is a customer connection served by exactly one device.
type Subscriber struct {
	ID            string           `json:"id"`
	DeviceID      string           `json:"device_id"`
	Username      string           `json:"username"`
	DisplayName   string           `json:"display_name,omitempty"`
	IPAddress     string           `json:"ip_address,omitempty"`
	MACAddress    string           `json:"mac_address,omitempty"`
	QueueName     string           `json:"queue_name,omitempty"`
	InterfaceName string           `json:"interface_name,omitempty"`
	Status        SubscriberStatus `json:"status"`
	IsOnline      bool             `json:"is_online"`
	LastSeen      *time.Time       `json:"last_seen,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// SubscriberMeta is the subset of a subscriber the traffic engine needs to
// match it against device tables. Cached with a TTL.
type SubscriberMeta struct {
	ID            string           `json:"id"`
	DeviceID      string           `json:"device_id"`
	Username      string           `json:"username"`
	DisplayName   string           `json:"display_name,omitempty"`
	IPAddress     string           `json:"ip_address,omitempty"`
	MACAddress    string           `json:"mac_address,omitempty"`
	QueueName     string           `json:"queue_name,omitempty"`
	InterfaceName string           `json:"interface_name,omitempty"`
	Status        SubscriberStatus `json:"status"`
}

// Meta projects a Subscriber onto its cached metadata.
func (s *Subscriber) Meta() SubscriberMeta {
	return SubscriberMeta{
		ID:            s.ID,
		DeviceID:      s.DeviceID,
		Username:      s.Username,
		DisplayName:   s.DisplayName,
		IPAddress:     s.IPAddress,
		MACAddress:    s.MACAddress,
		QueueName:     s.QueueName,
		InterfaceName: s.InterfaceName,
		Status:        s.Status,
	}
}

// NormalizeUsername lowercases and trims a username for table lookups.
func NormalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

// NormalizeMAC uppercases and trims a MAC address for table lookups.
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}
