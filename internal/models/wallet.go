package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Виды движений по счёту
const (
	EntryKindCredit         = "credit"
	EntryKindDebit          = "debit"
	EntryKindEscrowReserve  = "escrow_reserve"
	EntryKindEscrowRelease  = "escrow_release"
	EntryKindEscrowTransfer = "escrow_transfer"
)

// Wallet представляет кошелёк участника: доступный остаток и средства в эскроу.
// Оба поля всегда >= 0 и меняются только примитивами леджера.
type Wallet struct {
	AccountID uuid.UUID       `db:"account_id" json:"account_id"`
	Available decimal.Decimal `db:"available" json:"available"`
	Escrow    decimal.Decimal `db:"escrow" json:"escrow"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// LedgerEntry представляет одну запись в журнале движений средств.
// Записи только добавляются, никогда не изменяются и не удаляются.
type LedgerEntry struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	AccountID   uuid.UUID       `db:"account_id" json:"account_id"`
	OrderID     *uuid.UUID      `db:"order_id" json:"order_id,omitempty"`
	Kind        string          `db:"kind" json:"kind"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
