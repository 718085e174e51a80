// Package provision applies administrative subscriber mutations. A
// mutation goes to the device over its live session when there is one and
// falls back to the outbox otherwise, so callers never see a device outage
// as a failure.
package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/pkg/models"
	"go.uber.org/zap"
)

// Result messages reported to the caller.
const (
	MessageApplied = "applied"
	MessageQueued  = "queued, pending device sync"
)

var (
	// ErrSubscriberNotFound is returned for an unknown subscriber.
	ErrSubscriberNotFound = errors.New("provision: subscriber not found")

	// ErrInvalidOperation is returned for an unknown operation type.
	ErrInvalidOperation = errors.New("provision: invalid operation type")
)

// SubscriberStore reads subscribers and patches their administrative status.
type SubscriberStore interface {
	GetSubscriber(ctx context.Context, id string) (*models.Subscriber, error)
	SetSubscriberStatus(ctx context.Context, id string, status models.SubscriberStatus) (bool, error)
}

// SessionSource hands out a device's live session.
type SessionSource interface {
	LiveSession(deviceID string) (routeros.Session, bool)
}

// Queue durably records a mutation for later replay.
type Queue interface {
	Enqueue(ctx context.Context, typ models.OperationType, subscriberID, deviceID string, svc routeros.ServiceRecord) (*models.PendingOperation, error)
}

// Invalidator drops cached subscriber metadata.
type Invalidator interface {
	Invalidate(ids ...string)
}

// Request is one mutation of one subscriber. Service.Username defaults to
// the subscriber's username.
type Request struct {
	SubscriberID string                 `json:"subscriber_id"`
	Type         models.OperationType   `json:"type"`
	Service      routeros.ServiceRecord `json:"service"`
}

// Result tells the caller whether the mutation reached the device.
type Result struct {
	Queued      bool   `json:"queued"`
	OperationID string `json:"operation_id,omitempty"`
	DeviceID    string `json:"device_id"`
	Message     string `json:"message"`
}

// Dispatcher routes mutations to live sessions or the outbox.
type Dispatcher struct {
	store    SubscriberStore
	sessions SessionSource
	queue    Queue
	cache    Invalidator
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher. sessions and cache may be nil.
func NewDispatcher(store SubscriberStore, sessions SessionSource, queue Queue, cache Invalidator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, sessions: sessions, queue: queue, cache: cache, logger: logger}
}

// Apply validates the service record, patches the stored status, then
// tries the device. Any failure to reach or update the device queues the
// mutation instead.
func (d *Dispatcher) Apply(ctx context.Context, req Request) (*Result, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, req.Type)
	}
	sub, err := d.store.GetSubscriber(ctx, req.SubscriberID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriberNotFound
	}

	svc := req.Service
	if svc.Username == "" {
		svc.Username = sub.Username
	}
	if svc.RemoteAddress == "" && req.Type == models.OpCreate {
		svc.RemoteAddress = sub.IPAddress
	}

	// Rejected records never touch storage or the outbox.
	if err := svc.Validate(); err != nil {
		return nil, err
	}

	if status, ok := targetStatus(req.Type); ok && status != sub.Status {
		if _, err := d.store.SetSubscriberStatus(ctx, sub.ID, status); err != nil {
			return nil, fmt.Errorf("patch subscriber status: %w", err)
		}
	}
	if d.cache != nil {
		d.cache.Invalidate(sub.ID)
	}

	log := d.logger.With(
		zap.String("subscriber_id", sub.ID),
		zap.String("device_id", sub.DeviceID),
		zap.String("type", string(req.Type)),
	)

	if d.sessions != nil {
		if sess, ok := d.sessions.LiveSession(sub.DeviceID); ok {
			err := apply(ctx, sess, req.Type, svc)
			if err == nil {
				log.Info("mutation applied")
				return &Result{DeviceID: sub.DeviceID, Message: MessageApplied}, nil
			}
			log.Warn("mutation failed on live session, queueing", zap.Error(err))
		}
	}

	op, err := d.queue.Enqueue(ctx, req.Type, sub.ID, sub.DeviceID, svc)
	if err != nil {
		return nil, fmt.Errorf("queue mutation: %w", err)
	}
	log.Info("mutation queued", zap.String("operation_id", op.ID))
	return &Result{
		Queued:      true,
		OperationID: op.ID,
		DeviceID:    sub.DeviceID,
		Message:     MessageQueued,
	}, nil
}

// targetStatus is the administrative status a mutation leaves behind.
func targetStatus(t models.OperationType) (models.SubscriberStatus, bool) {
	switch t {
	case models.OpSuspend:
		return models.SubscriberSuspended, true
	case models.OpActivate, models.OpCreate:
		return models.SubscriberActive, true
	}
	return "", false
}

func apply(ctx context.Context, m routeros.Mutator, t models.OperationType, svc routeros.ServiceRecord) error {
	switch t {
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
	return fmt.Errorf("%w: %q", ErrInvalidOperation, t)
}
