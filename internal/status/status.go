// Package status holds the small decision functions that turn a resolved
// snapshot into the durable is_online and last_seen fields.
package status

import (
	"strings"
	"time"

	"github.com/HerbHall/nasguard/internal/timefmt"
	"github.com/HerbHall/nasguard/pkg/models"
)

// ResolveOnline projects the snapshot's verdict.
func ResolveOnline(s models.Snapshot) bool {
	return s.Online()
}

// LastSeenKeys returns the keys ResolveLastSeen tries for sub, in priority
// order: bound IP, lowercase username, uppercase MAC. Empty keys are skipped.
func LastSeenKeys(sub models.SubscriberMeta) []string {
	keys := make([]string, 0, 3)
	if ip := strings.TrimSpace(sub.IPAddress); ip != "" {
		keys = append(keys, ip)
	}
	if u := models.NormalizeUsername(sub.Username); u != "" {
		keys = append(keys, u)
	}
	if mac := models.NormalizeMAC(sub.MACAddress); mac != "" {
		keys = append(keys, mac)
	}
	return keys
}

// ResolveLastSeen looks sub up in the device-reported last-seen strings and
// parses the first hit. A hit that does not parse ("never") ends the search
// with no result rather than falling through to a lower priority key.
func ResolveLastSeen(sub models.SubscriberMeta, lastSeen map[string]string, now time.Time) (time.Time, bool) {
	for _, k := range LastSeenKeys(sub) {
		raw, ok := lastSeen[k]
		if !ok {
			continue
		}
		return timefmt.Parse(raw, now)
	}
	return time.Time{}, false
}

// Fold computes the durable fields for one subscriber from its snapshot.
// Online subscribers are seen now. Offline subscribers take the
// device-reported value when there is one; otherwise ok is false and the
// stored last_seen must be left untouched.
func Fold(sub models.SubscriberMeta, snap models.Snapshot, lastSeen map[string]string, now time.Time) (online bool, seen time.Time, ok bool) {
	if ResolveOnline(snap) {
		return true, now, true
	}
	seen, ok = ResolveLastSeen(sub, lastSeen, now)
	return false, seen, ok
}
