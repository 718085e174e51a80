package models

// OnlineStatus is a resolved per-subscriber connectivity verdict.
type OnlineStatus string

const (
	StatusOnline  OnlineStatus = "online"
	StatusOffline OnlineStatus = "offline"
)

// DetectionMethod records which device table proved a subscriber online.
type DetectionMethod string

const (
	MethodActiveSession DetectionMethod = "active_session"
	MethodARP           DetectionMethod = "arp"
	MethodDHCPLease     DetectionMethod = "dhcp_lease"
	MethodNone          DetectionMethod = "none"
)

// Snapshot is the point-in-time state of one subscriber. Never persisted as-is.
type Snapshot struct {
	Status      OnlineStatus    `json:"status"`
	UploadBps   int64           `json:"upload_bps"`
	DownloadBps int64           `json:"download_bps"`
	Method      DetectionMethod `json:"method"`
}

// Online reports whether the snapshot resolved the subscriber as connected.
func (s Snapshot) Online() bool {
	return s.Status == StatusOnline
}
