package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/pkg/models"
	"github.com/HerbHall/nasguard/pkg/plugin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrDrainAborted is returned when the device connection failed mid-drain.
// Operations not yet dispatched remain pending untouched.
var ErrDrainAborted = errors.New("outbox: drain aborted, device unreachable")

// Event topics published by the outbox.
const (
	TopicSyncCompleted   = "outbox.sync.completed"
	TopicOperationFailed = "outbox.operation.failed"
)

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nasguard",
	Subsystem: "outbox",
	Name:      "operations_total",
	Help:      "Outbox operation dispatch outcomes.",
}, []string{"result"})

// DrainResult summarizes one drain call.
type DrainResult struct {
	DeviceID  string `json:"device_id"`
	Completed int    `json:"completed"`
	Retrying  int    `json:"retrying"`
	Failed    int    `json:"failed"`
	Aborted   bool   `json:"aborted"`
}

// Service queues mutations that could not reach a device and replays
// them once it is reachable.
type Service struct {
	store       *Store
	bus         plugin.EventBus
	logger      *zap.Logger
	limiter     *rate.Limiter
	maxAttempts int
	now         func() time.Time
}

// NewService creates a Service over store. bus may be nil.
func NewService(store *Store, bus plugin.EventBus, cfg OutboxConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig().MaxAttempts
	}
	limit, burst := rate.Inf, 1
	if cfg.OpsPerSecond > 0 {
		limit = rate.Limit(cfg.OpsPerSecond)
		burst = max(1, int(cfg.OpsPerSecond))
	}
	return &Service{
		store:       store,
		bus:         bus,
		logger:      logger,
		limiter:     rate.NewLimiter(limit, burst),
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying operation store.
func (s *Service) Store() *Store { return s.store }

// Enqueue appends a pending operation carrying svc for later replay.
func (s *Service) Enqueue(ctx context.Context, typ models.OperationType, subscriberID, deviceID string, svc routeros.ServiceRecord) (*models.PendingOperation, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("enqueue: unknown operation type %q", typ)
	}
	payload, err := json.Marshal(svc)
	if err != nil {
		return nil, fmt.Errorf("enqueue: encode payload: %w", err)
	}
	now := s.now()
	op := &models.PendingOperation{
		ID:           uuid.New().String(),
		Type:         typ,
		SubscriberID: subscriberID,
		DeviceID:     deviceID,
		Payload:      payload,
		Status:       models.OpPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Insert(ctx, op); err != nil {
		return nil, err
	}
	s.logger.Info("operation queued",
		zap.String("operation_id", op.ID),
		zap.String("type", string(typ)),
		zap.String("subscriber_id", subscriberID),
		zap.String("device_id", deviceID),
	)
	return op, nil
}

// Drain replays a device's pending operations oldest first against m.
// A connectivity failure stops the drain and returns ErrDrainAborted;
// the operation that hit it is not charged an attempt.
func (s *Service) Drain(ctx context.Context, deviceID string, m routeros.Mutator) (*DrainResult, error) {
	ops, err := s.store.ListPending(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	res := &DrainResult{DeviceID: deviceID}
	if len(ops) == 0 {
		return res, nil
	}

	for i := range ops {
		op := &ops[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return res, fmt.Errorf("drain %s: %w", deviceID, err)
		}

		applyErr := s.apply(ctx, m, op)
		if applyErr != nil && routeros.IsConnectivityError(applyErr) {
			res.Aborted = true
			operationsTotal.WithLabelValues("aborted").Inc()
			s.logger.Warn("drain aborted, device unreachable",
				zap.String("device_id", deviceID),
				zap.String("operation_id", op.ID),
				zap.Int("remaining", len(ops)-i),
				zap.Error(applyErr),
			)
			s.publishSummary(ctx, res)
			return res, fmt.Errorf("%w: %v", ErrDrainAborted, applyErr)
		}

		if err := s.record(ctx, op, applyErr); err != nil {
			return res, err
		}
		switch op.Status {
		case models.OpCompleted:
			res.Completed++
		case models.OpFailed:
			res.Failed++
		default:
			res.Retrying++
		}
	}

	s.publishSummary(ctx, res)
	s.logger.Info("outbox drained",
		zap.String("device_id", deviceID),
		zap.Int("completed", res.Completed),
		zap.Int("retrying", res.Retrying),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// apply dispatches op to the matching mutation.
func (s *Service) apply(ctx context.Context, m routeros.Mutator, op *models.PendingOperation) error {
	var svc routeros.ServiceRecord
	if err := json.Unmarshal(op.Payload, &svc); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	switch op.Type {
	case models.OpCreate:
		return m.CreateService(ctx, svc)
	case models.OpUpdate:
		return m.UpdateService(ctx, svc)
	case models.OpSuspend:
		return m.SuspendService(ctx, svc)
	case models.OpActivate:
		return m.RestoreService(ctx, svc)
	case models.OpDelete:
		return m.DeleteService(ctx, svc)
	}
	return fmt.Errorf("unknown operation type %q", op.Type)
}

// record charges one attempt to op and persists the outcome.
func (s *Service) record(ctx context.Context, op *models.PendingOperation, applyErr error) error {
	now := s.now()
	op.Attempts++
	op.LastAttemptAt = &now
	op.UpdatedAt = now

	switch {
	case applyErr == nil:
		op.Status = models.OpCompleted
		op.Error = ""
		operationsTotal.WithLabelValues("completed").Inc()
	case op.Attempts >= s.maxAttempts:
		op.Status = models.OpFailed
		op.Error = applyErr.Error()
		operationsTotal.WithLabelValues("failed").Inc()
	default:
		op.Error = applyErr.Error()
		operationsTotal.WithLabelValues("retry").Inc()
	}

	if err := s.store.RecordAttempt(ctx, op); err != nil {
		return err
	}

	if op.Status == models.OpFailed {
		s.logger.Error("operation failed permanently",
			zap.String("operation_id", op.ID),
			zap.String("type", string(op.Type)),
			zap.String("subscriber_id", op.SubscriberID),
			zap.String("device_id", op.DeviceID),
			zap.Int("attempts", op.Attempts),
			zap.String("error", op.Error),
		)
		if s.bus != nil {
			s.bus.PublishAsync(ctx, plugin.Event{
				Topic:   TopicOperationFailed,
				Source:  "outbox",
				Payload: *op,
			})
		}
	} else if applyErr != nil {
		s.logger.Warn("operation attempt failed",
			zap.String("operation_id", op.ID),
			zap.Int("attempts", op.Attempts),
			zap.Error(applyErr),
		)
	}
	return nil
}

func (s *Service) publishSummary(ctx context.Context, res *DrainResult) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(ctx, plugin.Event{
		Topic:   TopicSyncCompleted,
		Source:  "outbox",
		Payload: *res,
	})
}

// Purge deletes terminal operations older than retention.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteTerminalBefore(ctx, s.now().Add(-retention))
}
