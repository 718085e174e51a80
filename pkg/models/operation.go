package models

import (
	"encoding/json"
	"time"
)

// OperationType names an administrative mutation replayed against a device.
type OperationType string

const (
	OpCreate   OperationType = "create"
	OpUpdate   OperationType = "update"
	OpSuspend  OperationType = "suspend"
	OpActivate OperationType = "activate"
	OpDelete   OperationType = "delete"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpSuspend, OpActivate, OpDelete:
		return true
	}
	return false
}

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

const (
	OpPending   OperationStatus = "pending"
	OpCompleted OperationStatus = "completed"
	OpFailed    OperationStatus = "failed"
)

// PendingOperation is a durable record of a mutation that could not be
// applied directly. Replay is idempotent so duplicates are tolerated.
type PendingOperation struct {
	ID            string          `json:"id"`
	Type          OperationType   `json:"type"`
	SubscriberID  string          `json:"subscriber_id"`
	DeviceID      string          `json:"device_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Attempts      int             `json:"attempts"`
	Status        OperationStatus `json:"status"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
