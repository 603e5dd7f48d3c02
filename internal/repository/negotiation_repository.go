package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/repository/common"
)

var ErrNegotiationNotFound = errors.New("negotiation not found")

type NegotiationRepository struct {
	db *sqlx.DB
}

func NewNegotiationRepository(db *sqlx.DB) *NegotiationRepository {
	return &NegotiationRepository{db: db}
}

// Create сохраняет новые переговоры.
func (r *NegotiationRepository) Create(ctx context.Context, n *models.Negotiation) error {
	query := `
		INSERT INTO negotiations (requester_id, provider_id, title, description, value, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		n.RequesterID, n.ProviderID, n.Title, n.Description, n.Value, n.Status, n.ExpiresAt,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("negotiation repository: create %w", err)
	}
	return nil
}

// GetByID возвращает переговоры по идентификатору.
func (r *NegotiationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	return common.GetByID[models.Negotiation](ctx, r.db, "negotiations", id, ErrNegotiationNotFound)
}

// GetByIDForUpdate возвращает переговоры под блокировкой строки.
func (r *NegotiationRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Negotiation, error) {
	var n models.Negotiation
	err := tx.GetContext(ctx, &n, `SELECT * FROM negotiations WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNegotiationNotFound
		}
		return nil, fmt.Errorf("negotiation repository: get for update %w", err)
	}
	return &n, nil
}

// UpdateStatus переводит переговоры в новый статус в рамках переданной транзакции.
func (r *NegotiationRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status models.NegotiationStatus) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE negotiations SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("negotiation repository: update status %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("negotiation repository: update status rows affected %w", err)
	}
	if rowsAffected == 0 {
		return ErrNegotiationNotFound
	}
	return nil
}

// MarkExpired переводит переговоры в expired только из pending.
// Возвращает false, если статус уже успел измениться.
func (r *NegotiationRepository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE negotiations SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.NegotiationStatusExpired, models.NegotiationStatusPending)
	if err != nil {
		return false, fmt.Errorf("negotiation repository: mark expired %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("negotiation repository: mark expired rows affected %w", err)
	}
	return rowsAffected > 0, nil
}

// ListExpiringBetween возвращает ожидающие переговоры с дедлайном в заданном окне.
func (r *NegotiationRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Negotiation, error) {
	var items []models.Negotiation
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM negotiations
		WHERE status = $1 AND expires_at >= $2 AND expires_at <= $3
		ORDER BY expires_at ASC
	`, models.NegotiationStatusPending, from, to)
	if err != nil {
		return nil, fmt.Errorf("negotiation repository: list expiring %w", err)
	}
	return items, nil
}

// ListExpired возвращает ожидающие переговоры с прошедшим дедлайном.
func (r *NegotiationRepository) ListExpired(ctx context.Context, now time.Time) ([]models.Negotiation, error) {
	var items []models.Negotiation
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM negotiations
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
	`, models.NegotiationStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("negotiation repository: list expired %w", err)
	}
	return items, nil
}

// HasHistoryEvent проверяет, было ли уже записано событие по переговорам.
// Используется для дедупликации предупреждений об истечении.
func (r *NegotiationRepository) HasHistoryEvent(ctx context.Context, negotiationID uuid.UUID, event string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM negotiation_history WHERE negotiation_id = $1 AND event = $2
	`, negotiationID, event)
	if err != nil {
		return false, fmt.Errorf("negotiation repository: has history event %w", err)
	}
	return count > 0, nil
}

// AddHistoryEvent добавляет запись в журнал событий переговоров.
func (r *NegotiationRepository) AddHistoryEvent(ctx context.Context, negotiationID uuid.UUID, event string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO negotiation_history (negotiation_id, event) VALUES ($1, $2)
	`, negotiationID, event)
	if err != nil {
		return fmt.Errorf("negotiation repository: add history event %w", err)
	}
	return nil
}
