package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dealhub/escrow-backend/internal/models"
)

// FeeRepository хранит настройки комиссий платформы одной строкой.
type FeeRepository struct {
	db *sqlx.DB
}

func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// Get возвращает действующие настройки комиссий.
// Строка с дефолтами создаётся миграцией, поэтому всегда существует.
func (r *FeeRepository) Get(ctx context.Context) (*models.FeeSettings, error) {
	var settings models.FeeSettings
	err := r.db.GetContext(ctx, &settings, `
		SELECT platform_fee_percentage, contestation_fee, cancellation_fee_percentage, updated_at
		FROM platform_settings WHERE id = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("fee repository: get %w", err)
	}
	return &settings, nil
}

// Update сохраняет новые значения комиссий.
func (r *FeeRepository) Update(ctx context.Context, settings *models.FeeSettings) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE platform_settings
		SET platform_fee_percentage = $1, contestation_fee = $2,
		    cancellation_fee_percentage = $3, updated_at = NOW()
		WHERE id = 1
	`, settings.PlatformFeePercentage, settings.ContestationFee, settings.CancellationFeePercentage)
	if err != nil {
		return fmt.Errorf("fee repository: update %w", err)
	}
	return nil
}
