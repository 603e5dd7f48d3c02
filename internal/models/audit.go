package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry - неизменяемая запись о переходе состояния или движении средств.
// CorrelationID связывает все записи одной операции.
type AuditEntry struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	CorrelationID uuid.UUID       `db:"correlation_id" json:"correlation_id"`
	OrderID       *uuid.UUID      `db:"order_id" json:"order_id,omitempty"`
	ActorID       *uuid.UUID      `db:"actor_id" json:"actor_id,omitempty"`
	Action        string          `db:"action" json:"action"`
	Details       json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Действия аудита
const (
	AuditActionOrderCreated       = "order.created"
	AuditActionServiceCompleted   = "order.service_completed"
	AuditActionConfirmed          = "order.confirmed"
	AuditActionCancelled          = "order.cancelled"
	AuditActionDisputeOpened      = "order.dispute_opened"
	AuditActionDisputeResponse    = "order.dispute_response"
	AuditActionDisputeResolved    = "order.dispute_resolved"
	AuditActionNegotiationExpired = "negotiation.expired"
)
