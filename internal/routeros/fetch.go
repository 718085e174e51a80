package routeros

import (
	"context"
	"fmt"
)

// Paths and projections for the tables fetched through Print.
const (
	PathInterfaces = "/interface"
	PathQueues     = "/queue/simple"
)

var (
	interfaceFields = []string{"name", "type", "running", "disabled", "rx-byte", "tx-byte"}
	queueFields     = []string{"name", "target", "max-limit", "rate", "disabled"}
)

// FetchInterfaces prints the interface table and decodes it.
func FetchInterfaces(ctx context.Context, p Printer) ([]Interface, error) {
	records, err := p.Print(ctx, PathInterfaces, interfaceFields...)
	if err != nil {
		return nil, fmt.Errorf("fetch interfaces: %w", err)
	}
	out := make([]Interface, 0, len(records))
	for _, r := range records {
		out = append(out, decodeInterface(r))
	}
	return out, nil
}

// FetchQueues prints the simple queue table and decodes it.
func FetchQueues(ctx context.Context, p Printer) ([]Queue, error) {
	records, err := p.Print(ctx, PathQueues, queueFields...)
	if err != nil {
		return nil, fmt.Errorf("fetch queues: %w", err)
	}
	out := make([]Queue, 0, len(records))
	for _, r := range records {
		out = append(out, decodeQueue(r))
	}
	return out, nil
}
