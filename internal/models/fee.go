package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeSettings - действующие настройки комиссий платформы.
// Хранятся одной строкой; заказы работают только со своими снимками.
type FeeSettings struct {
	PlatformFeePercentage     decimal.Decimal `db:"platform_fee_percentage" json:"platform_fee_percentage"`
	ContestationFee           decimal.Decimal `db:"contestation_fee" json:"contestation_fee"`
	CancellationFeePercentage decimal.Decimal `db:"cancellation_fee_percentage" json:"cancellation_fee_percentage"`
	UpdatedAt                 time.Time       `db:"updated_at" json:"updated_at"`
}
