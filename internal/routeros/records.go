package routeros

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

// Record is one row of a print, keyed by property name. Flags printed in
// front of the properties are kept under the ".flags" key.
type Record map[string]string

// Get returns the property value or "".
func (r Record) Get(key string) string { return r[key] }

// HasFlag reports whether the row carried the given single-letter flag.
func (r Record) HasFlag(flag byte) bool {
	return strings.IndexByte(r[".flags"], flag) >= 0
}

// Bool interprets yes/true properties.
func (r Record) Bool(key string) bool {
	switch strings.ToLower(r[key]) {
	case "yes", "true":
		return true
	}
	return false
}

// Int64 parses an integer property; absent or malformed values are zero.
func (r Record) Int64(key string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(r[key]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ActiveSession is a row of /ppp active.
type ActiveSession struct {
	ID       string
	Name     string
	Service  string
	CallerID string
	Address  string
	Uptime   string
}

// ARPEntry is a row of /ip arp.
type ARPEntry struct {
	Address    string
	MACAddress string
	Interface  string
	Status     string
	Invalid    bool
	Disabled   bool
}

// Usable reports whether the entry proves a live neighbour: it has an
// address, is not invalid or disabled, and is not failed or incomplete.
func (e ARPEntry) Usable() bool {
	if e.Address == "" || e.Invalid || e.Disabled {
		return false
	}
	switch strings.ToLower(e.Status) {
	case "failed", "incomplete":
		return false
	}
	return true
}

// Lease is a row of /ip dhcp-server lease.
type Lease struct {
	Address    string
	MACAddress string
	HostName   string
	Status     string
	LastSeen   string
	Disabled   bool
}

// Bound reports whether the lease is currently held by a client.
func (l Lease) Bound() bool {
	return !l.Disabled && strings.EqualFold(l.Status, "bound")
}

// Interface is a row of /interface with counters, annotated with rates by
// the caller that tracks samples over time.
type Interface struct {
	Name     string
	Type     string
	Running  bool
	Disabled bool
	RxBytes  int64
	TxBytes  int64
	RxBps    int64
	TxBps    int64
}

// Queue is a row of /queue simple. Upload/download are the parsed current
// rate, from the target's point of view.
type Queue struct {
	Name        string
	Target      []string // bare IPs, prefix length stripped
	MaxLimit    string
	UploadBps   int64
	DownloadBps int64
	Disabled    bool
}

// Secret is a row of /ppp secret.
type Secret struct {
	ID            string
	Name          string
	Service       string
	Profile       string
	RemoteAddress string
	Comment       string
	Disabled      bool
	LastLoggedOut string
}

// SystemResource is /system resource.
type SystemResource struct {
	CPULoad     int
	FreeMemory  int64
	TotalMemory int64
	Uptime      string
	Version     string
	BoardName   string
}

// MemoryUsedPct returns used memory as a percentage of total.
func (r *SystemResource) MemoryUsedPct() float64 {
	if r == nil || r.TotalMemory <= 0 {
		return 0
	}
	return float64(r.TotalMemory-r.FreeMemory) / float64(r.TotalMemory) * 100
}

// ServiceRecord is the device-side description of a subscriber's service,
// the payload every mutation takes.
type ServiceRecord struct {
	Username      string `json:"username"`
	Password      string `json:"password,omitempty"`
	Service       string `json:"service,omitempty"` // defaults to pppoe
	Profile       string `json:"profile,omitempty"`
	RemoteAddress string `json:"remote_address,omitempty"`
	Comment       string `json:"comment,omitempty"`
	Disabled      bool   `json:"disabled,omitempty"`
}

// ErrInvalidServiceRecord is returned for a service record whose values
// the device would not accept.
var ErrInvalidServiceRecord = errors.New("routeros: invalid service record")

// ServiceTypes are the PPP secret service values a record may carry.
var ServiceTypes = []string{"any", "pppoe", "pptp", "l2tp", "ovpn", "sstp"}

// Validate checks the fields rendered without free-text quoting: Service
// must be one of ServiceTypes and RemoteAddress a bare IP address.
func (s ServiceRecord) Validate() error {
	if s.Service != "" && !slices.Contains(ServiceTypes, s.Service) {
		return fmt.Errorf("%w: unknown service %q", ErrInvalidServiceRecord, s.Service)
	}
	if s.RemoteAddress != "" {
		addr, err := netip.ParseAddr(s.RemoteAddress)
		if err != nil || addr.Zone() != "" {
			return fmt.Errorf("%w: remote address %q is not an IP address", ErrInvalidServiceRecord, s.RemoteAddress)
		}
	}
	return nil
}

func decodeActiveSession(r Record) ActiveSession {
	return ActiveSession{
		ID:       r.Get(".id"),
		Name:     r.Get("name"),
		Service:  r.Get("service"),
		CallerID: r.Get("caller-id"),
		Address:  r.Get("address"),
		Uptime:   r.Get("uptime"),
	}
}

func decodeARP(r Record) ARPEntry {
	return ARPEntry{
		Address:    r.Get("address"),
		MACAddress: r.Get("mac-address"),
		Interface:  r.Get("interface"),
		Status:     r.Get("status"),
		Invalid:    r.HasFlag('I') || r.Bool("invalid"),
		Disabled:   r.HasFlag('X') || r.Bool("disabled"),
	}
}

func decodeLease(r Record) Lease {
	return Lease{
		Address:    r.Get("address"),
		MACAddress: r.Get("mac-address"),
		HostName:   r.Get("host-name"),
		Status:     r.Get("status"),
		LastSeen:   r.Get("last-seen"),
		Disabled:   r.HasFlag('X') || r.Bool("disabled"),
	}
}

func decodeSecret(r Record) Secret {
	return Secret{
		ID:            r.Get(".id"),
		Name:          r.Get("name"),
		Service:       r.Get("service"),
		Profile:       r.Get("profile"),
		RemoteAddress: r.Get("remote-address"),
		Comment:       r.Get("comment"),
		Disabled:      r.HasFlag('X') || r.Bool("disabled"),
		LastLoggedOut: r.Get("last-logged-out"),
	}
}

func decodeResource(r Record) *SystemResource {
	return &SystemResource{
		CPULoad:     int(r.Int64("cpu-load")),
		FreeMemory:  parseBytes(r.Get("free-memory")),
		TotalMemory: parseBytes(r.Get("total-memory")),
		Uptime:      r.Get("uptime"),
		Version:     r.Get("version"),
		BoardName:   r.Get("board-name"),
	}
}

func decodeInterface(r Record) Interface {
	return Interface{
		Name:     r.Get("name"),
		Type:     r.Get("type"),
		Running:  r.HasFlag('R') || r.Bool("running"),
		Disabled: r.HasFlag('X') || r.Bool("disabled"),
		RxBytes:  r.Int64("rx-byte"),
		TxBytes:  r.Int64("tx-byte"),
	}
}

func decodeQueue(r Record) Queue {
	q := Queue{
		Name:     r.Get("name"),
		MaxLimit: r.Get("max-limit"),
		Disabled: r.HasFlag('X') || r.Bool("disabled"),
	}
	for _, t := range strings.Split(r.Get("target"), ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if i := strings.IndexByte(t, '/'); i >= 0 {
			t = t[:i]
		}
		q.Target = append(q.Target, t)
	}
	if up, down, ok := ParseRate(r.Get("rate")); ok {
		q.UploadBps, q.DownloadBps = up, down
	}
	return q
}
