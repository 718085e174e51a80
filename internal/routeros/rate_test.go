package routeros

import "testing"

func TestParseRate(t *testing.T) {
	tests := []struct {
		in       string
		up, down int64
		ok       bool
	}{
		{"12000/340000", 12000, 340000, true},
		{"1.5M/20M", 1_500_000, 20_000_000, true},
		{"512k/1G", 512_000, 1_000_000_000, true},
		{"0/0", 0, 0, true},
		{" 10M / 5M ", 10_000_000, 5_000_000, true},
		{"", 0, 0, false},
		{"10M", 0, 0, false},
		{"abc/10M", 0, 0, false},
		{"-1/10", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			up, down, ok := ParseRate(tt.in)
			if ok != tt.ok || up != tt.up || down != tt.down {
				t.Errorf("ParseRate(%q) = (%d, %d, %v), want (%d, %d, %v)",
					tt.in, up, down, ok, tt.up, tt.down, tt.ok)
			}
		})
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1.0KiB", 1024},
		{"2.0MiB", 2 << 20},
		{"1GiB", 1 << 30},
		{"junk", 0},
	}
	for _, tt := range tests {
		if got := parseBytes(tt.in); got != tt.want {
			t.Errorf("parseBytes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
