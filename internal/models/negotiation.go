package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NegotiationStatus - закрытый тип статуса переговоров.
type NegotiationStatus string

const (
	NegotiationStatusPending  NegotiationStatus = "pending"
	NegotiationStatusAccepted NegotiationStatus = "accepted"
	NegotiationStatusDeclined NegotiationStatus = "declined"
	NegotiationStatusExpired  NegotiationStatus = "expired"
)

// События истории переговоров
const (
	NegotiationEventCreated      = "created"
	NegotiationEventExpiringSoon = "expiring_soon"
	NegotiationEventExpired      = "expired"
	NegotiationEventAccepted     = "accepted"
	NegotiationEventDeclined     = "declined"
)

// Negotiation представляет согласованное, но ещё не оплаченное предложение.
// Принятие переговоров порождает заказ и резервирует средства обеих сторон.
type Negotiation struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	RequesterID uuid.UUID         `db:"requester_id" json:"requester_id"`
	ProviderID  uuid.UUID         `db:"provider_id" json:"provider_id"`
	Title       string            `db:"title" json:"title"`
	Description string            `db:"description" json:"description"`
	Value       decimal.Decimal   `db:"value" json:"value"`
	Status      NegotiationStatus `db:"status" json:"status"`
	ExpiresAt   time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// NegotiationHistory - запись в журнале событий по переговорам.
// Используется в том числе для дедупликации предупреждений об истечении.
type NegotiationHistory struct {
	ID            uuid.UUID `db:"id" json:"id"`
	NegotiationID uuid.UUID `db:"negotiation_id" json:"negotiation_id"`
	Event         string    `db:"event" json:"event"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
