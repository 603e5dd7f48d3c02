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

var ErrOrderNotFound = errors.New("order not found")

const orderColumns = `
	id, negotiation_id, requester_id, provider_id, title, description, value, status,
	service_deadline, completed_at, confirmation_deadline, confirmed_at, auto_confirmed,
	cancelled_by, cancelled_at, cancellation_reason, cancellation_fee,
	dispute_opened_by, dispute_opened_at, dispute_reason, dispute_provider_response,
	dispute_winner, dispute_resolved_by, dispute_resolved_at, dispute_admin_notes,
	platform_fee_percentage_at_creation, contestation_fee_at_creation,
	cancellation_fee_percentage_at_creation, created_at, updated_at`

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create сохраняет новый заказ в рамках переданной транзакции.
func (r *OrderRepository) Create(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (
			negotiation_id, requester_id, provider_id, title, description, value, status,
			service_deadline,
			platform_fee_percentage_at_creation, contestation_fee_at_creation,
			cancellation_fee_percentage_at_creation
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRowxContext(ctx, query,
		order.NegotiationID,
		order.RequesterID,
		order.ProviderID,
		order.Title,
		order.Description,
		order.Value,
		order.Status,
		order.ServiceDeadline,
		order.PlatformFeePercentageAtCreation,
		order.ContestationFeeAtCreation,
		order.CancellationFeePctAtCreation,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("order repository: create %w", err)
	}
	return nil
}

// GetByID возвращает заказ по идентификатору.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return common.GetByID[models.Order](ctx, r.db, "orders", id, ErrOrderNotFound)
}

// GetByIDForUpdate возвращает заказ под блокировкой строки.
// Конкурирующие переходы по одному заказу линеаризуются на этой блокировке:
// проигравший увидит уже изменённый статус и откажет детерминированно.
func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, `SELECT`+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("order repository: get for update %w", err)
	}
	return &order, nil
}

// Update сохраняет изменяемые поля заказа в рамках переданной транзакции.
func (r *OrderRepository) Update(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $2,
			completed_at = $3,
			confirmation_deadline = $4,
			confirmed_at = $5,
			auto_confirmed = $6,
			cancelled_by = $7,
			cancelled_at = $8,
			cancellation_reason = $9,
			cancellation_fee = $10,
			dispute_opened_by = $11,
			dispute_opened_at = $12,
			dispute_reason = $13,
			dispute_provider_response = $14,
			dispute_winner = $15,
			dispute_resolved_by = $16,
			dispute_resolved_at = $17,
			dispute_admin_notes = $18,
			updated_at = NOW()
		WHERE id = $1
	`,
		order.ID,
		order.Status,
		order.CompletedAt,
		order.ConfirmationDeadline,
		order.ConfirmedAt,
		order.AutoConfirmed,
		order.CancelledBy,
		order.CancelledAt,
		order.CancellationReason,
		order.CancellationFee,
		order.DisputeOpenedBy,
		order.DisputeOpenedAt,
		order.DisputeReason,
		order.DisputeProviderResponse,
		order.DisputeWinner,
		order.DisputeResolvedBy,
		order.DisputeResolvedAt,
		order.DisputeAdminNotes,
	)
	if err != nil {
		return fmt.Errorf("order repository: update %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("order repository: update rows affected %w", err)
	}
	if rowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ListAutoConfirmable возвращает заказы, ожидающие автоподтверждения:
// услуга отмечена исполненной, окно подтверждения истекло.
func (r *OrderRepository) ListAutoConfirmable(ctx context.Context, now time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE status = $1 AND confirmation_deadline <= $2
		ORDER BY confirmation_deadline ASC
	`, models.OrderStatusServiceExecuted, now)
	if err != nil {
		return nil, fmt.Errorf("order repository: list auto confirmable %w", err)
	}
	return orders, nil
}

// ListByParticipant возвращает заказы, где пользователь заказчик или исполнитель.
func (r *OrderRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE requester_id = $1 OR provider_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("order repository: list by participant %w", err)
	}
	return orders, nil
}

// AddEvidence сохраняет набор дескрипторов вложений одной вставкой.
func (r *OrderRepository) AddEvidence(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, items []models.DisputeEvidence) error {
	if len(items) == 0 {
		return nil
	}

	inserter := common.NewBatchInserter(tx, `
		INSERT INTO dispute_evidence (order_id, file_name, storage_url, uploader_role, size_bytes, content_type)
	`, 6, 100)

	for _, item := range items {
		if err := inserter.Add(ctx, orderID, item.FileName, item.StorageURL, item.UploaderRole, item.SizeBytes, item.ContentType); err != nil {
			return fmt.Errorf("order repository: add evidence %w", err)
		}
	}
	if err := inserter.Flush(ctx); err != nil {
		return fmt.Errorf("order repository: add evidence %w", err)
	}
	return nil
}

// ListEvidence возвращает дескрипторы вложений по заказу.
func (r *OrderRepository) ListEvidence(ctx context.Context, orderID uuid.UUID) ([]models.DisputeEvidence, error) {
	var items []models.DisputeEvidence
	err := r.db.SelectContext(ctx, &items, `
		SELECT id, order_id, file_name, storage_url, uploader_role, size_bytes, content_type, uploaded_at
		FROM dispute_evidence WHERE order_id = $1
		ORDER BY uploaded_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order repository: list evidence %w", err)
	}
	return items, nil
}
