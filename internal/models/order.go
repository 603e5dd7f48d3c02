package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus - закрытый тип статуса заказа.
type OrderStatus string

const (
	OrderStatusAwaitingExecution OrderStatus = "awaiting_execution"
	OrderStatusServiceExecuted   OrderStatus = "service_executed"
	OrderStatusDisputed          OrderStatus = "disputed"
	OrderStatusConfirmed         OrderStatus = "confirmed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusResolved          OrderStatus = "resolved"
)

// IsTerminal сообщает, является ли статус конечным.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusCancelled, OrderStatusResolved:
		return true
	}
	return false
}

// DisputeWinner - сторона, в пользу которой разрешён спор.
type DisputeWinner string

const (
	DisputeWinnerRequester DisputeWinner = "requester"
	DisputeWinnerProvider  DisputeWinner = "provider"
)

// ParseDisputeWinner валидирует строковое значение победителя спора.
func ParseDisputeWinner(raw string) (DisputeWinner, bool) {
	switch DisputeWinner(raw) {
	case DisputeWinnerRequester:
		return DisputeWinnerRequester, true
	case DisputeWinnerProvider:
		return DisputeWinnerProvider, true
	}
	return "", false
}

// Order описывает оплачиваемую сделку между заказчиком и исполнителем.
// Три снимка комиссий фиксируются при создании заказа и больше не меняются:
// последующие изменения глобальных настроек не затрагивают существующие заказы.
type Order struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	NegotiationID uuid.UUID       `db:"negotiation_id" json:"negotiation_id"`
	RequesterID   uuid.UUID       `db:"requester_id" json:"requester_id"`
	ProviderID    uuid.UUID       `db:"provider_id" json:"provider_id"`
	Title         string          `db:"title" json:"title"`
	Description   string          `db:"description" json:"description"`
	Value         decimal.Decimal `db:"value" json:"value"`
	Status        OrderStatus     `db:"status" json:"status"`

	ServiceDeadline      *time.Time `db:"service_deadline" json:"service_deadline,omitempty"`
	CompletedAt          *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ConfirmationDeadline *time.Time `db:"confirmation_deadline" json:"confirmation_deadline,omitempty"`
	ConfirmedAt          *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	AutoConfirmed        bool       `db:"auto_confirmed" json:"auto_confirmed"`

	CancelledBy        *uuid.UUID       `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string          `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancellationFee    *decimal.Decimal `db:"cancellation_fee" json:"cancellation_fee,omitempty"`

	DisputeOpenedBy         *uuid.UUID     `db:"dispute_opened_by" json:"dispute_opened_by,omitempty"`
	DisputeOpenedAt         *time.Time     `db:"dispute_opened_at" json:"dispute_opened_at,omitempty"`
	DisputeReason           *string        `db:"dispute_reason" json:"dispute_reason,omitempty"`
	DisputeProviderResponse *string        `db:"dispute_provider_response" json:"dispute_provider_response,omitempty"`
	DisputeWinner           *DisputeWinner `db:"dispute_winner" json:"dispute_winner,omitempty"`
	DisputeResolvedBy       *uuid.UUID     `db:"dispute_resolved_by" json:"dispute_resolved_by,omitempty"`
	DisputeResolvedAt       *time.Time     `db:"dispute_resolved_at" json:"dispute_resolved_at,omitempty"`
	DisputeAdminNotes       *string        `db:"dispute_admin_notes" json:"dispute_admin_notes,omitempty"`

	PlatformFeePercentageAtCreation decimal.Decimal `db:"platform_fee_percentage_at_creation" json:"platform_fee_percentage_at_creation"`
	ContestationFeeAtCreation       decimal.Decimal `db:"contestation_fee_at_creation" json:"contestation_fee_at_creation"`
	CancellationFeePctAtCreation    decimal.Decimal `db:"cancellation_fee_percentage_at_creation" json:"cancellation_fee_percentage_at_creation"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsParticipant сообщает, является ли пользователь стороной сделки.
func (o *Order) IsParticipant(userID uuid.UUID) bool {
	return o.RequesterID == userID || o.ProviderID == userID
}

// DisputeEvidence описывает метаданные вложения, приложенного к спору.
// Сам файл хранится во внешнем хранилище, здесь только дескриптор.
type DisputeEvidence struct {
	ID           uuid.UUID `db:"id" json:"id"`
	OrderID      uuid.UUID `db:"order_id" json:"order_id"`
	FileName     string    `db:"file_name" json:"file_name"`
	StorageURL   string    `db:"storage_url" json:"storage_url"`
	UploaderRole string    `db:"uploader_role" json:"uploader_role"`
	SizeBytes    int64     `db:"size_bytes" json:"size_bytes"`
	ContentType  string    `db:"content_type" json:"content_type"`
	UploadedAt   time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// Роли загрузивших доказательства
const (
	EvidenceUploaderRequester = "requester"
	EvidenceUploaderProvider  = "provider"
)
