package routeros

import (
	"testing"
)

func TestParseTerse(t *testing.T) {
	out := "Flags: X - disabled\r\n" +
		" 0   name=alice service=pppoe caller-id=AA:BB:CC:00:11:22 address=10.20.0.5 uptime=1h2m3s\r\n" +
		" 1 X name=bob service=pppoe comment=\"moved to \\\"tower 2\\\"\" profile=10M\r\n" +
		" 2   name=carol comment=corner shop profile=5M\r\n" +
		"\r\n"

	records := parseTerse(out)
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}

	tests := []struct {
		idx   int
		key   string
		want  string
	}{
		{0, "name", "alice"},
		{0, "address", "10.20.0.5"},
		{0, ".index", "0"},
		{1, "comment", `moved to "tower 2"`},
		{1, ".flags", "X"},
		{1, "profile", "10M"},
		{2, "comment", "corner shop"},
		{2, "profile", "5M"},
	}
	for _, tt := range tests {
		if got := records[tt.idx].Get(tt.key); got != tt.want {
			t.Errorf("records[%d][%q] = %q, want %q", tt.idx, tt.key, got, tt.want)
		}
	}
	if !records[1].HasFlag('X') || records[0].HasFlag('X') {
		t.Error("X flag misattributed")
	}
}

func TestParseProperties(t *testing.T) {
	out := `                   uptime: 3w2d4h5m6s
                  version: 7.12 (stable)
                 cpu-load: 17
              free-memory: 768.0MiB
             total-memory: 1024.0MiB
               board-name: CCR2004-1G-12S+2XS
`
	res := decodeResource(parseProperties(out))
	if res.CPULoad != 17 {
		t.Errorf("CPULoad = %d, want 17", res.CPULoad)
	}
	if res.Version != "7.12 (stable)" {
		t.Errorf("Version = %q", res.Version)
	}
	if got := res.MemoryUsedPct(); got != 25 {
		t.Errorf("MemoryUsedPct = %v, want 25", got)
	}
	if res.Uptime != "3w2d4h5m6s" {
		t.Errorf("Uptime = %q", res.Uptime)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice", `"alice"`},
		{`pa"ss`, `"pa\"ss"`},
		{"$secret", `"\$secret"`},
		{`back\slash`, `"back\\slash"`},
	}
	for _, tt := range tests {
		if got := quote(tt.in); got != tt.want {
			t.Errorf("quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDecoders(t *testing.T) {
	arp := []struct {
		rec  Record
		want bool
	}{
		{Record{"address": "10.0.0.1", "status": "reachable"}, true},
		{Record{"address": "10.0.0.2", "status": "failed"}, false},
		{Record{"address": "10.0.0.3", "status": "incomplete"}, false},
		{Record{"address": "10.0.0.4", ".flags": "I"}, false},
		{Record{"address": "10.0.0.5", ".flags": "DC"}, true},
		{Record{"status": "reachable"}, false},
	}
	for _, tt := range arp {
		if got := decodeARP(tt.rec).Usable(); got != tt.want {
			t.Errorf("ARP %v usable = %v, want %v", tt.rec, got, tt.want)
		}
	}

	lease := decodeLease(Record{"address": "10.0.0.9", "status": "bound", "last-seen": "5m"})
	if !lease.Bound() || lease.LastSeen != "5m" {
		t.Errorf("lease = %+v", lease)
	}
	if decodeLease(Record{"address": "10.0.0.9", "status": "waiting"}).Bound() {
		t.Error("waiting lease reported bound")
	}

	q := decodeQueue(Record{"name": "<pppoe-alice>", "target": "10.0.0.5/32,10.0.1.5/32", "rate": "1.5M/20M", "disabled": "true"})
	if len(q.Target) != 2 || q.Target[0] != "10.0.0.5" {
		t.Errorf("targets = %v", q.Target)
	}
	if q.UploadBps != 1_500_000 || q.DownloadBps != 20_000_000 || !q.Disabled {
		t.Errorf("queue = %+v", q)
	}
}

func TestCliPath(t *testing.T) {
	if got := cliPath("/ip/dhcp-server/lease"); got != "/ip dhcp-server lease" {
		t.Errorf("cliPath = %q", got)
	}
}
