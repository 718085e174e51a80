// Package snmp samples device resource usage over SNMPv2c, as an out of
// band alternative to asking the management session.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"

	"github.com/HerbHall/nasguard/pkg/models"
)

// ErrNoCommunity is returned for a device without an SNMP community.
var ErrNoCommunity = errors.New("snmp: device has no community")

// Collector queries uptime, CPU load and memory usage.
type Collector struct {
	port    uint16
	timeout time.Duration
	retries int
	logger  *zap.Logger
	now     func() time.Time
}

// NewCollector creates a Collector talking to port (161 when zero).
func NewCollector(port int, timeout time.Duration, logger *zap.Logger) *Collector {
	if port <= 0 || port > 65535 {
		port = 161
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		port:    uint16(port),
		timeout: timeout,
		retries: 1,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *Collector) newGoSNMP(ctx context.Context, dev models.Device) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    dev.Address,
		Port:      c.port,
		Community: dev.SNMPCommunity,
		Version:   gosnmp.Version2c,
		Timeout:   c.timeout,
		Retries:   c.retries,
		MaxOids:   gosnmp.MaxOids,
	}
}

// Collect samples dev. Uptime is required; CPU and memory are best-effort
// since not every device exposes HOST-RESOURCES-MIB.
func (c *Collector) Collect(ctx context.Context, dev models.Device) (*models.DeviceMetrics, error) {
	if dev.SNMPCommunity == "" {
		return nil, ErrNoCommunity
	}
	g := c.newGoSNMP(ctx, dev)
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", dev.Address, err)
	}
	defer func() { _ = g.Conn.Close() }()

	result, err := g.Get([]string{OIDSysUpTime})
	if err != nil {
		return nil, fmt.Errorf("SNMP GET sysUpTime: %w", err)
	}
	var uptime time.Duration
	for _, pdu := range result.Variables {
		if trimOID(pdu.Name) == OIDSysUpTime {
			uptime = parsePDUUpTime(pdu)
		}
	}

	m := &models.DeviceMetrics{
		Uptime:        FormatUptime(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		CollectedAt:   c.now(),
		Source:        "snmp",
	}

	if pdus, err := g.BulkWalkAll(OIDProcessorLoad); err == nil {
		m.CPULoad = averageLoad(pdus)
	} else {
		c.logger.Debug("SNMP walk hrProcessorLoad failed", zap.String("target", dev.Address), zap.Error(err))
	}
	if pdus, err := g.BulkWalkAll(OIDStorageTable); err == nil {
		m.MemoryUsedPct = memoryUsedPct(pdus)
	} else {
		c.logger.Debug("SNMP walk hrStorageTable failed", zap.String("target", dev.Address), zap.Error(err))
	}

	c.logger.Debug("SNMP metrics collected",
		zap.String("target", dev.Address),
		zap.Int("cpu_load", m.CPULoad),
		zap.Float64("memory_used_pct", m.MemoryUsedPct),
		zap.String("uptime", m.Uptime),
	)
	return m, nil
}

// averageLoad averages hrProcessorLoad across processors.
func averageLoad(pdus []gosnmp.SnmpPDU) int {
	total, n := 0, 0
	for _, pdu := range pdus {
		if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
			continue
		}
		total += parsePDUInt(pdu)
		n++
	}
	if n == 0 {
		return 0
	}
	return total / n
}

// memoryUsedPct finds the RAM row of hrStorageTable and returns used/size.
func memoryUsedPct(pdus []gosnmp.SnmpPDU) float64 {
	type row struct {
		ram        bool
		size, used int
	}
	rows := make(map[int]*row)
	for _, pdu := range pdus {
		name := trimOID(pdu.Name)
		idx := extractOIDIndex(name)
		if idx < 0 {
			continue
		}
		r := rows[idx]
		if r == nil {
			r = &row{}
			rows[idx] = r
		}
		switch extractOIDPrefix(name) {
		case OIDStorageType:
			r.ram = trimOID(parsePDUString(pdu)) == OIDStorageRAM
		case OIDStorageSize:
			r.size = parsePDUInt(pdu)
		case OIDStorageUsed:
			r.used = parsePDUInt(pdu)
		}
	}
	for _, r := range rows {
		if r.ram && r.size > 0 {
			return float64(r.used) / float64(r.size) * 100
		}
	}
	return 0
}

// FormatUptime renders d the way RouterOS prints uptime, e.g. "1w2d3h4m5s".
func FormatUptime(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	secs := int64(d / time.Second)
	units := []struct {
		suffix string
		size   int64
	}{
		{"w", 7 * 24 * 3600},
		{"d", 24 * 3600},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}
	var b strings.Builder
	for _, u := range units {
		if n := secs / u.size; n > 0 {
			b.WriteString(strconv.FormatInt(n, 10))
			b.WriteString(u.suffix)
			secs -= n * u.size
		}
	}
	if b.Len() == 0 {
		return "0s"
	}
	return b.String()
}

func trimOID(oid string) string {
	return strings.TrimPrefix(oid, ".")
}

// parsePDUString extracts a string value from an SNMP PDU.
func parsePDUString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
}

// parsePDUUpTime converts TimeTicks (hundredths of a second).
func parsePDUUpTime(pdu gosnmp.SnmpPDU) time.Duration {
	switch v := pdu.Value.(type) {
	case uint32:
		return time.Duration(v) * 10 * time.Millisecond
	case uint:
		return time.Duration(int64(v)) * 10 * time.Millisecond //nolint:gosec // G115: TimeTicks fits in int64
	case int:
		return time.Duration(v) * 10 * time.Millisecond
	default:
		return 0
	}
}

// parsePDUInt extracts an integer value from an SNMP PDU.
func parsePDUInt(pdu gosnmp.SnmpPDU) int {
	switch v := pdu.Value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint:
		return int(v) //nolint:gosec // G115: storage sizes and loads fit in int
	case uint32:
		return int(v)
	case uint64:
		return int(v) //nolint:gosec // G115: storage sizes and loads fit in int
	default:
		return 0
	}
}

// extractOIDIndex returns the last numeric segment of oid, or -1.
func extractOIDIndex(oid string) int {
	lastDot := strings.LastIndex(oid, ".")
	if lastDot < 0 || lastDot == len(oid)-1 {
		return -1
	}
	idx, err := strconv.Atoi(oid[lastDot+1:])
	if err != nil {
		return -1
	}
	return idx
}

// extractOIDPrefix returns oid without its last segment.
func extractOIDPrefix(oid string) string {
	lastDot := strings.LastIndex(oid, ".")
	if lastDot < 0 {
		return oid
	}
	return oid[:lastDot]
}
