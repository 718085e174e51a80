package routeros

import (
	"strconv"
	"strings"
)

// ParseRate parses an "upload/download" pair such as "1.5M/20M" or
// "12000/340000" into bits per second. Either side may carry a k, M or G
// suffix. ok is false when the value is not a pair of rates.
func ParseRate(s string) (upload, download int64, ok bool) {
	up, down, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		return 0, 0, false
	}
	u, uok := parseBits(up)
	d, dok := parseBits(down)
	if !uok || !dok {
		return 0, 0, false
	}
	return u, d, true
}

func parseBits(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1e3
	case 'M':
		mult = 1e6
	case 'G':
		mult = 1e9
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int64(f * mult), true
}

// parseBytes parses memory sizes printed as "12345", "245.3MiB" or "1024KiB".
func parseBytes(s string) int64 {
	s = strings.TrimSpace(s)
	units := []struct {
		suffix string
		mult   float64
	}{
		{"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10}, {"B", 1},
	}
	mult := 1.0
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSuffix(s, u.suffix)
			mult = u.mult
			break
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f * mult)
}
