// Package probe checks whether a device answers ICMP echo before the
// monitor spends a full connect timeout on it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

var (
	// ErrUnreachable is returned when no echo reply arrived.
	ErrUnreachable = errors.New("probe: host unreachable")

	// ErrNoAddress is returned for an empty address.
	ErrNoAddress = errors.New("probe: empty address")
)

// Config holds ping parameters.
type Config struct {
	Count   int           `mapstructure:"probe_count"`
	Timeout time.Duration `mapstructure:"probe_timeout"`
}

// Prober pings a host.
type Prober struct {
	count      int
	timeout    time.Duration
	privileged bool
	logger     *zap.Logger
}

// New creates a Prober. Zero values fall back to 2 packets within 2s.
func New(cfg Config, logger *zap.Logger) *Prober {
	if cfg.Count <= 0 {
		cfg.Count = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		count:      cfg.Count,
		timeout:    cfg.Timeout,
		privileged: runtime.GOOS == "windows",
		logger:     logger,
	}
}

// Probe returns nil when address answered at least one echo request.
func (p *Prober) Probe(ctx context.Context, address string) error {
	if address == "" {
		return ErrNoAddress
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pinger, err := probing.NewPinger(address)
	if err != nil {
		return fmt.Errorf("create pinger: %w", err)
	}
	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(p.privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ping %s: %w", address, err)
	}

	stats := pinger.Statistics()
	p.logger.Debug("probe finished",
		zap.String("address", address),
		zap.Int("sent", stats.PacketsSent),
		zap.Int("received", stats.PacketsRecv),
		zap.Duration("avg_rtt", stats.AvgRtt),
	)
	if stats.PacketsRecv == 0 {
		return fmt.Errorf("%w: %s", ErrUnreachable, address)
	}
	return nil
}
