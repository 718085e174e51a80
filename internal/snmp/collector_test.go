package snmp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/HerbHall/nasguard/pkg/models"
)

func TestNewGoSNMP(t *testing.T) {
	c := NewCollector(1161, 2*time.Second, nil)
	g := c.newGoSNMP(context.Background(), models.Device{Address: "10.0.0.1", SNMPCommunity: "public"})

	if g.Target != "10.0.0.1" {
		t.Errorf("target = %q, want %q", g.Target, "10.0.0.1")
	}
	if g.Port != 1161 {
		t.Errorf("port = %d, want 1161", g.Port)
	}
	if g.Version != gosnmp.Version2c {
		t.Errorf("version = %v, want Version2c", g.Version)
	}
	if g.Community != "public" {
		t.Errorf("community = %q, want %q", g.Community, "public")
	}
	if g.Timeout != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", g.Timeout)
	}
}

func TestNewCollector_Defaults(t *testing.T) {
	c := NewCollector(0, 0, nil)
	if c.port != 161 {
		t.Errorf("port = %d, want 161", c.port)
	}
	if c.timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", c.timeout)
	}
}

func TestCollect_NoCommunity(t *testing.T) {
	c := NewCollector(0, 0, nil)
	_, err := c.Collect(context.Background(), models.Device{Address: "10.0.0.1"})
	if !errors.Is(err, ErrNoCommunity) {
		t.Fatalf("err = %v, want ErrNoCommunity", err)
	}
}

func TestParsePDUUpTime(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  time.Duration
	}{
		{"uint32", uint32(9378400), 93784 * time.Second},
		{"uint", uint(100), time.Second},
		{"int", 250, 2500 * time.Millisecond},
		{"nil", nil, 0},
		{"string", "x", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePDUUpTime(gosnmp.SnmpPDU{Value: tt.value})
			if got != tt.want {
				t.Errorf("parsePDUUpTime(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParsePDUInt(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  int
	}{
		{"int", 42, 42},
		{"int64", int64(7), 7},
		{"uint", uint(8), 8},
		{"uint32", uint32(65536), 65536},
		{"uint64", uint64(12), 12},
		{"bytes", []byte("1"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePDUInt(gosnmp.SnmpPDU{Value: tt.value}); got != tt.want {
				t.Errorf("parsePDUInt(%v) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestAverageLoad(t *testing.T) {
	tests := []struct {
		name string
		pdus []gosnmp.SnmpPDU
		want int
	}{
		{"empty", nil, 0},
		{"single", []gosnmp.SnmpPDU{{Value: 12}}, 12},
		{"four cores", []gosnmp.SnmpPDU{{Value: 10}, {Value: 20}, {Value: 30}, {Value: 40}}, 25},
		{"skips missing", []gosnmp.SnmpPDU{{Value: 50}, {Type: gosnmp.NoSuchInstance}}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := averageLoad(tt.pdus); got != tt.want {
				t.Errorf("averageLoad() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMemoryUsedPct(t *testing.T) {
	table := []gosnmp.SnmpPDU{
		{Name: "." + OIDStorageType + ".65536", Value: "." + OIDStorageRAM},
		{Name: "." + OIDStorageType + ".131072", Value: ".1.3.6.1.2.1.25.2.1.4"},
		{Name: "." + OIDStorageSize + ".65536", Value: 1024},
		{Name: "." + OIDStorageSize + ".131072", Value: 16384},
		{Name: "." + OIDStorageUsed + ".65536", Value: 768},
		{Name: "." + OIDStorageUsed + ".131072", Value: 16000},
	}
	if got := memoryUsedPct(table); got != 75 {
		t.Errorf("memoryUsedPct() = %v, want 75", got)
	}

	noRAM := table[1:2]
	if got := memoryUsedPct(noRAM); got != 0 {
		t.Errorf("memoryUsedPct(no ram) = %v, want 0", got)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{500 * time.Millisecond, "0s"},
		{93784 * time.Second, "1d2h3m4s"},
		{9 * 24 * time.Hour, "1w2d"},
		{time.Hour + 5*time.Second, "1h5s"},
	}
	for _, tt := range tests {
		if got := FormatUptime(tt.in); got != tt.want {
			t.Errorf("FormatUptime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractOIDIndex(t *testing.T) {
	tests := []struct {
		oid  string
		want int
	}{
		{OIDStorageSize + ".65536", 65536},
		{"1.3.6.", -1},
		{"nodots", -1},
		{"1.3.x", -1},
	}
	for _, tt := range tests {
		if got := extractOIDIndex(tt.oid); got != tt.want {
			t.Errorf("extractOIDIndex(%q) = %d, want %d", tt.oid, got, tt.want)
		}
	}
}
