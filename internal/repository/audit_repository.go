package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/dealhub/escrow-backend/internal/logger"
	"github.com/dealhub/escrow-backend/internal/models"
)

// AuditRepository ведёт неизменяемый журнал переходов и движений средств.
// Запись добавляется внутри транзакции перехода и дублируется
// структурированной строкой лога с тем же correlation id.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Add сохраняет запись аудита в рамках переданной транзакции.
func (r *AuditRepository) Add(ctx context.Context, tx *sqlx.Tx, entry *models.AuditEntry) error {
	return r.insert(ctx, tx, entry)
}

// Record сохраняет запись аудита вне транзакции перехода.
// Используется фоновыми задачами, у которых нет транзакционной границы.
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	return r.insert(ctx, r.db, entry)
}

func (r *AuditRepository) insert(ctx context.Context, q sqlx.QueryerContext, entry *models.AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = json.RawMessage("{}")
	}

	err := q.QueryRowxContext(ctx, `
		INSERT INTO audit_log (correlation_id, order_id, actor_id, action, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, entry.CorrelationID, entry.OrderID, entry.ActorID, entry.Action, details,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit repository: add %w", err)
	}

	fields := logrus.Fields{"action": entry.Action}
	if entry.OrderID != nil {
		fields["order_id"] = *entry.OrderID
	}
	if entry.ActorID != nil {
		fields["actor_id"] = *entry.ActorID
	}
	logger.WithCorrelation(entry.CorrelationID.String()).WithFields(fields).Info("audit")

	return nil
}

// ListByOrder возвращает журнал аудита по заказу в хронологическом порядке.
func (r *AuditRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, correlation_id, order_id, actor_id, action, details, created_at
		FROM audit_log WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("audit repository: list by order %w", err)
	}
	return entries, nil
}
