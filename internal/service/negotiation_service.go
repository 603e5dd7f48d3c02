package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/dealhub/escrow-backend/internal/logger"
	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
)

// Срок действия переговоров по умолчанию.
const defaultNegotiationTTL = 72 * time.Hour

// NegotiationLifecycleStore - полный доступ к переговорам для их жизненного цикла.
type NegotiationLifecycleStore interface {
	NegotiationStore
	Create(ctx context.Context, n *models.Negotiation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Negotiation, error)
}

// NegotiationService ведёт предзаказный этап: заказчик публикует условия,
// исполнитель принимает их (через OrderService) или отклоняет, просроченные
// переговоры закрывает планировщик.
type NegotiationService struct {
	tx           TxRunner
	negotiations NegotiationLifecycleStore
	notifier     Notifier

	now func() time.Time
}

func NewNegotiationService(tx TxRunner, negotiations NegotiationLifecycleStore, notifier Notifier) *NegotiationService {
	return &NegotiationService{
		tx:           tx,
		negotiations: negotiations,
		notifier:     notifier,
		now:          time.Now,
	}
}

// Create публикует предложение с согласованной стоимостью.
func (s *NegotiationService) Create(ctx context.Context, requesterID, providerID uuid.UUID, title, description string, value decimal.Decimal, expiresAt *time.Time) (*models.Negotiation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "название обязательно")
	}
	if value.IsNegative() {
		return nil, apperror.New(apperror.ErrCodeValidation, "стоимость не может быть отрицательной")
	}
	if requesterID == providerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "заказчик и исполнитель не могут совпадать")
	}

	expiry := s.now().Add(defaultNegotiationTTL)
	if expiresAt != nil {
		if expiresAt.Before(s.now()) {
			return nil, apperror.New(apperror.ErrCodeValidation, "срок действия не может быть в прошлом")
		}
		expiry = *expiresAt
	}

	negotiation := &models.Negotiation{
		RequesterID: requesterID,
		ProviderID:  providerID,
		Title:       title,
		Description: description,
		Value:       value,
		Status:      models.NegotiationStatusPending,
		ExpiresAt:   expiry,
	}
	if err := s.negotiations.Create(ctx, negotiation); err != nil {
		return nil, err
	}

	if err := s.negotiations.AddHistoryEvent(ctx, negotiation.ID, models.NegotiationEventCreated); err != nil {
		logger.Log.WithError(err).Warn("не удалось записать историю создания переговоров")
	}
	s.notifier.Notify(ctx, "negotiation.created", negotiation.ID, []uuid.UUID{providerID}, map[string]interface{}{
		"negotiation_id": negotiation.ID,
		"value":          negotiation.Value,
	})
	return negotiation, nil
}

// Decline отклоняет переговоры от имени исполнителя.
func (s *NegotiationService) Decline(ctx context.Context, negotiationID, providerID uuid.UUID) (*models.Negotiation, error) {
	var negotiation *models.Negotiation
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		negotiation, err = s.negotiations.GetByIDForUpdate(ctx, tx, negotiationID)
		if err != nil {
			return err
		}
		if negotiation.ProviderID != providerID {
			return apperror.ErrForbidden
		}
		if negotiation.Status != models.NegotiationStatusPending {
			return apperror.Newf(apperror.ErrCodeInvalidState, "переговоры в статусе %s нельзя отклонить", negotiation.Status)
		}

		negotiation.Status = models.NegotiationStatusDeclined
		return s.negotiations.UpdateStatus(ctx, tx, negotiationID, models.NegotiationStatusDeclined)
	})
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	if err := s.negotiations.AddHistoryEvent(ctx, negotiationID, models.NegotiationEventDeclined); err != nil {
		logger.Log.WithError(err).Warn("не удалось записать историю отклонения переговоров")
	}
	s.notifier.Notify(ctx, "negotiation.declined", negotiationID, []uuid.UUID{negotiation.RequesterID}, map[string]interface{}{
		"negotiation_id": negotiationID,
	})
	return negotiation, nil
}

// Get возвращает переговоры их участнику.
func (s *NegotiationService) Get(ctx context.Context, negotiationID, userID uuid.UUID) (*models.Negotiation, error) {
	negotiation, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, translateLedgerErr(err)
	}
	if negotiation.RequesterID != userID && negotiation.ProviderID != userID {
		return nil, apperror.ErrForbidden
	}
	return negotiation, nil
}
