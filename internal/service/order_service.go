package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/dealhub/escrow-backend/internal/logger"
	"github.com/dealhub/escrow-backend/internal/metrics"
	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
	"github.com/dealhub/escrow-backend/internal/repository"
)

// TxRunner выполняет функцию внутри одной транзакции БД.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// Ledger - примитивы движения средств. Балансы меняются только через них.
type Ledger interface {
	ReserveToEscrow(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error
	ReleaseEscrowToBalance(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error
	TransferEscrowToBalance(ctx context.Context, tx *sqlx.Tx, fromID, toID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error
	Credit(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error
	Debit(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error
	AvailableBalance(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (decimal.Decimal, error)
}

// OrderStore - доступ к заказам и доказательствам по спорам.
type OrderStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, tx *sqlx.Tx, order *models.Order) error
	ListAutoConfirmable(ctx context.Context, now time.Time) ([]models.Order, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error)
	AddEvidence(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, items []models.DisputeEvidence) error
	ListEvidence(ctx context.Context, orderID uuid.UUID) ([]models.DisputeEvidence, error)
}

// NegotiationStore - доступ к переговорам, из которых рождается заказ.
type NegotiationStore interface {
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Negotiation, error)
	UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status models.NegotiationStatus) error
	AddHistoryEvent(ctx context.Context, negotiationID uuid.UUID, event string) error
}

// AuditStore пишет неизменяемый журнал переходов.
type AuditStore interface {
	Add(ctx context.Context, tx *sqlx.Tx, entry *models.AuditEntry) error
}

// FeeProvider отдаёт действующие ставки комиссий для снимка при создании заказа.
type FeeProvider interface {
	Snapshot(ctx context.Context) (*models.FeeSettings, error)
}

// Notifier доставляет уведомления участникам. Вызовы не возвращают ошибку:
// сбой доставки логируется и никогда не откатывает совершённый переход.
type Notifier interface {
	Notify(ctx context.Context, eventKind string, subjectID uuid.UUID, recipients []uuid.UUID, payload map[string]interface{})
}

// PaymentResult - итог денежного расчёта по заказу.
type PaymentResult struct {
	Order            *models.Order   `json:"order"`
	ProviderReceived decimal.Decimal `json:"provider_received"`
	PlatformReceived decimal.Decimal `json:"platform_received"`
	RequesterRefund  decimal.Decimal `json:"requester_refund"`
}

// CancellationResult - итог отмены заказа с разбивкой штрафа.
type CancellationResult struct {
	Order           *models.Order   `json:"order"`
	CancellationFee decimal.Decimal `json:"cancellation_fee"`
	PlatformShare   decimal.Decimal `json:"platform_share"`
	InjuredShare    decimal.Decimal `json:"injured_share"`
	RequesterRefund decimal.Decimal `json:"requester_refund"`
}

// OrderService реализует машину состояний заказа. Каждый публичный переход
// выполняется в одной транзакции: проверка статуса, движение средств,
// обновление заказа и запись аудита фиксируются или откатываются вместе.
type OrderService struct {
	tx           TxRunner
	orders       OrderStore
	negotiations NegotiationStore
	ledger       Ledger
	audit        AuditStore
	fees         FeeProvider
	notifier     Notifier

	platformAccountID  uuid.UUID
	confirmationWindow time.Duration

	now func() time.Time
}

func NewOrderService(
	tx TxRunner,
	orders OrderStore,
	negotiations NegotiationStore,
	ledger Ledger,
	audit AuditStore,
	fees FeeProvider,
	notifier Notifier,
	platformAccountID uuid.UUID,
	confirmationWindow time.Duration,
) *OrderService {
	return &OrderService{
		tx:                 tx,
		orders:             orders,
		negotiations:       negotiations,
		ledger:             ledger,
		audit:              audit,
		fees:               fees,
		notifier:           notifier,
		platformAccountID:  platformAccountID,
		confirmationWindow: confirmationWindow,
		now:                time.Now,
	}
}

// CreateOrder принимает переговоры от имени исполнителя и создаёт заказ:
// фиксирует снимок комиссий и атомарно резервирует эскроу обеих сторон.
// Заказчик резервирует стоимость услуги плюс залог за оспаривание,
// исполнитель только залог.
func (s *OrderService) CreateOrder(ctx context.Context, negotiationID, providerID uuid.UUID) (*models.Order, error) {
	snapshot, err := s.fees.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		negotiation, err := s.negotiations.GetByIDForUpdate(ctx, tx, negotiationID)
		if err != nil {
			return err
		}
		if negotiation.ProviderID != providerID {
			return apperror.ErrForbidden
		}
		if negotiation.Status != models.NegotiationStatusPending {
			return apperror.Newf(apperror.ErrCodeInvalidState, "переговоры в статусе %s нельзя принять", negotiation.Status)
		}
		if s.now().After(negotiation.ExpiresAt) {
			return apperror.New(apperror.ErrCodeDeadlinePassed, "срок действия переговоров истёк")
		}

		requesterEscrow := negotiation.Value.Add(snapshot.ContestationFee)
		providerEscrow := snapshot.ContestationFee

		// Обе проверки баланса до первого движения средств, чтобы при отказе
		// назвать сторону и не оставить частичный резерв.
		requesterAvailable, err := s.ledger.AvailableBalance(ctx, tx, negotiation.RequesterID)
		if err != nil {
			return err
		}
		if requesterAvailable.LessThan(requesterEscrow) {
			return apperror.Newf(apperror.ErrCodeInsufficientFunds, "недостаточно средств у заказчика: требуется %s", requesterEscrow.StringFixed(2))
		}
		providerAvailable, err := s.ledger.AvailableBalance(ctx, tx, negotiation.ProviderID)
		if err != nil {
			return err
		}
		if providerAvailable.LessThan(providerEscrow) {
			return apperror.Newf(apperror.ErrCodeInsufficientFunds, "недостаточно средств у исполнителя: требуется %s", providerEscrow.StringFixed(2))
		}

		order = &models.Order{
			NegotiationID:                   negotiation.ID,
			RequesterID:                     negotiation.RequesterID,
			ProviderID:                      negotiation.ProviderID,
			Title:                           negotiation.Title,
			Description:                     negotiation.Description,
			Value:                           negotiation.Value,
			Status:                          models.OrderStatusAwaitingExecution,
			PlatformFeePercentageAtCreation: snapshot.PlatformFeePercentage,
			ContestationFeeAtCreation:       snapshot.ContestationFee,
			CancellationFeePctAtCreation:    snapshot.CancellationFeePercentage,
		}
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return err
		}

		if err := s.ledger.ReserveToEscrow(ctx, tx, order.RequesterID, requesterEscrow, &order.ID, "резерв стоимости услуги и залога за оспаривание"); err != nil {
			return err
		}
		if err := s.ledger.ReserveToEscrow(ctx, tx, order.ProviderID, providerEscrow, &order.ID, "резерв залога за оспаривание"); err != nil {
			return err
		}

		if err := s.negotiations.UpdateStatus(ctx, tx, negotiation.ID, models.NegotiationStatusAccepted); err != nil {
			return err
		}

		return s.audit.Add(ctx, tx, newAuditEntry(order.ID, &providerID, models.AuditActionOrderCreated, map[string]interface{}{
			"value":            order.Value,
			"requester_escrow": requesterEscrow,
			"provider_escrow":  providerEscrow,
		}))
	})
	observeTransition("create", err)
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	if err := s.negotiations.AddHistoryEvent(ctx, negotiationID, models.NegotiationEventAccepted); err != nil {
		logger.Log.WithError(err).Warn("не удалось записать историю принятия переговоров")
	}
	s.notifier.Notify(ctx, "order.created", order.ID, []uuid.UUID{order.RequesterID}, map[string]interface{}{
		"order_id": order.ID,
		"value":    order.Value,
	})
	return order, nil
}

// MarkServiceCompleted отмечает услугу исполненной и открывает окно
// подтверждения. Денежных движений нет.
func (s *OrderService) MarkServiceCompleted(ctx context.Context, orderID, providerID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.ProviderID != providerID {
			return apperror.ErrForbidden
		}
		if order.Status != models.OrderStatusAwaitingExecution {
			return illegalTransition(order.Status, models.OrderStatusServiceExecuted)
		}

		now := s.now()
		deadline := now.Add(s.confirmationWindow)
		order.Status = models.OrderStatusServiceExecuted
		order.CompletedAt = &now
		order.ConfirmationDeadline = &deadline
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}

		return s.audit.Add(ctx, tx, newAuditEntry(order.ID, &providerID, models.AuditActionServiceCompleted, map[string]interface{}{
			"confirmation_deadline": deadline,
		}))
	})
	observeTransition("service_completed", err)
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	s.notifier.Notify(ctx, "order.service_completed", order.ID, []uuid.UUID{order.RequesterID}, map[string]interface{}{
		"order_id":              order.ID,
		"confirmation_deadline": order.ConfirmationDeadline,
	})
	return order, nil
}

// ConfirmService - подтверждение заказчиком в пределах окна. Исполнителю
// уходит стоимость за вычетом комиссии платформы, залоги возвращаются обеим
// сторонам.
func (s *OrderService) ConfirmService(ctx context.Context, orderID, requesterID uuid.UUID) (*PaymentResult, error) {
	var result *PaymentResult
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.RequesterID != requesterID {
			return apperror.ErrForbidden
		}
		if order.Status != models.OrderStatusServiceExecuted {
			return illegalTransition(order.Status, models.OrderStatusConfirmed)
		}
		if order.ConfirmationDeadline != nil && s.now().After(*order.ConfirmationDeadline) {
			return apperror.New(apperror.ErrCodeDeadlinePassed, "окно подтверждения истекло, заказ будет подтверждён автоматически")
		}

		result, err = s.settleConfirmation(ctx, tx, order, &requesterID, false)
		return err
	})
	observeTransition("confirm", err)
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	s.notifyConfirmed(ctx, result)
	return result, nil
}

// AutoConfirm подтверждает заказ от имени системы после истечения окна.
// Оптимистическая проверка статуса внутри транзакции гарантирует, что гонка
// с ручным подтверждением или открытием спора завершится безвредным отказом.
func (s *OrderService) AutoConfirm(ctx context.Context, orderID uuid.UUID) (*PaymentResult, error) {
	var result *PaymentResult
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusServiceExecuted {
			return illegalTransition(order.Status, models.OrderStatusConfirmed)
		}
		if order.ConfirmationDeadline == nil || s.now().Before(*order.ConfirmationDeadline) {
			return apperror.New(apperror.ErrCodeInvalidState, "окно подтверждения ещё не истекло")
		}

		result, err = s.settleConfirmation(ctx, tx, order, nil, true)
		return err
	})
	observeTransition("auto_confirm", err)
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	s.notifyConfirmed(ctx, result)
	return result, nil
}

// settleConfirmation выполняет денежный расчёт подтверждения под уже взятой
// блокировкой заказа. Все суммы считаются от снимка комиссий самого заказа.
func (s *OrderService) settleConfirmation(ctx context.Context, tx *sqlx.Tx, order *models.Order, actorID *uuid.UUID, auto bool) (*PaymentResult, error) {
	platformFee := percentOf(order.Value, order.PlatformFeePercentageAtCreation)
	providerNet := order.Value.Sub(platformFee)

	if err := s.ledger.TransferEscrowToBalance(ctx, tx, order.RequesterID, order.ProviderID, providerNet, &order.ID, "оплата услуги за вычетом комиссии платформы"); err != nil {
		return nil, err
	}
	if err := s.ledger.TransferEscrowToBalance(ctx, tx, order.RequesterID, s.platformAccountID, platformFee, &order.ID, "комиссия платформы"); err != nil {
		return nil, err
	}
	if err := s.releaseContestationEscrows(ctx, tx, order); err != nil {
		return nil, err
	}

	now := s.now()
	order.Status = models.OrderStatusConfirmed
	order.ConfirmedAt = &now
	order.AutoConfirmed = auto
	if err := s.orders.Update(ctx, tx, order); err != nil {
		return nil, err
	}

	err := s.audit.Add(ctx, tx, newAuditEntry(order.ID, actorID, models.AuditActionConfirmed, map[string]interface{}{
		"provider_net":   providerNet,
		"platform_fee":   platformFee,
		"auto_confirmed": auto,
	}))
	if err != nil {
		return nil, err
	}

	return &PaymentResult{
		Order:            order,
		ProviderReceived: providerNet,
		PlatformReceived: platformFee,
		RequesterRefund:  decimal.Zero,
	}, nil
}

// CancelOrder отменяет заказ до начала исполнения. Штраф считается от снимка
// ставки отмены и делится поровну между платформой и пострадавшей стороной.
// При отмене заказчиком штраф удерживается из его эскроу; при отмене
// исполнителем полная стоимость возвращается заказчику из эскроу, а штраф
// списывается с доступного остатка исполнителя.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, actorID uuid.UUID, reason string) (*CancellationResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина отмены обязательна")
	}

	var result *CancellationResult
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.IsParticipant(actorID) {
			return apperror.ErrForbidden
		}
		if order.Status != models.OrderStatusAwaitingExecution {
			return illegalTransition(order.Status, models.OrderStatusCancelled)
		}

		fee := percentOf(order.Value, order.CancellationFeePctAtCreation)
		injuredShare, platformShare := splitHalf(fee)

		requesterRefund := decimal.Zero
		if actorID == order.RequesterID {
			// Штраф и возврат остатка идут из эскроу заказчика.
			if platformShare.IsPositive() {
				if err := s.ledger.TransferEscrowToBalance(ctx, tx, order.RequesterID, s.platformAccountID, platformShare, &order.ID, "доля платформы в штрафе за отмену"); err != nil {
					return err
				}
			}
			if injuredShare.IsPositive() {
				if err := s.ledger.TransferEscrowToBalance(ctx, tx, order.RequesterID, order.ProviderID, injuredShare, &order.ID, "компенсация исполнителю за отмену"); err != nil {
					return err
				}
			}
			requesterRefund = order.Value.Sub(fee)
			if requesterRefund.IsPositive() {
				if err := s.ledger.ReleaseEscrowToBalance(ctx, tx, order.RequesterID, requesterRefund, &order.ID, "возврат стоимости услуги за вычетом штрафа"); err != nil {
					return err
				}
			}
		} else {
			// Исполнитель не резервировал стоимость услуги, поэтому штраф
			// списывается с его доступного остатка.
			requesterRefund = order.Value
			if requesterRefund.IsPositive() {
				if err := s.ledger.ReleaseEscrowToBalance(ctx, tx, order.RequesterID, requesterRefund, &order.ID, "возврат полной стоимости услуги"); err != nil {
					return err
				}
			}
			if platformShare.IsPositive() {
				if err := s.ledger.Debit(ctx, tx, order.ProviderID, platformShare, &order.ID, "доля платформы в штрафе за отмену"); err != nil {
					return err
				}
				if err := s.ledger.Credit(ctx, tx, s.platformAccountID, platformShare, &order.ID, "доля платформы в штрафе за отмену"); err != nil {
					return err
				}
			}
			if injuredShare.IsPositive() {
				if err := s.ledger.Debit(ctx, tx, order.ProviderID, injuredShare, &order.ID, "компенсация заказчику за отмену"); err != nil {
					return err
				}
				if err := s.ledger.Credit(ctx, tx, order.RequesterID, injuredShare, &order.ID, "компенсация заказчику за отмену"); err != nil {
					return err
				}
			}
		}

		if err := s.releaseContestationEscrows(ctx, tx, order); err != nil {
			return err
		}

		now := s.now()
		order.Status = models.OrderStatusCancelled
		order.CancelledBy = &actorID
		order.CancelledAt = &now
		order.CancellationReason = &reason
		order.CancellationFee = &fee
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}

		if err := s.audit.Add(ctx, tx, newAuditEntry(order.ID, &actorID, models.AuditActionCancelled, map[string]interface{}{
			"reason":           reason,
			"cancellation_fee": fee,
			"platform_share":   platformShare,
			"injured_share":    injuredShare,
		})); err != nil {
			return err
		}

		result = &CancellationResult{
			Order:           order,
			CancellationFee: fee,
			PlatformShare:   platformShare,
			InjuredShare:    injuredShare,
			RequesterRefund: requesterRefund,
		}
		return nil
	})
	observeTransition("cancel", err)
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	s.notifier.Notify(ctx, "order.cancelled", result.Order.ID, []uuid.UUID{result.Order.RequesterID, result.Order.ProviderID}, map[string]interface{}{
		"order_id":         result.Order.ID,
		"cancelled_by":     actorID,
		"cancellation_fee": result.CancellationFee,
	})
	return result, nil
}

// GetOrder возвращает заказ участнику сделки.
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя.
func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	return s.orders.ListByParticipant(ctx, userID, limit, offset)
}

// releaseContestationEscrows возвращает залоги за оспаривание обеим сторонам.
func (s *OrderService) releaseContestationEscrows(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	contestation := order.ContestationFeeAtCreation
	if !contestation.IsPositive() {
		return nil
	}
	if err := s.ledger.ReleaseEscrowToBalance(ctx, tx, order.RequesterID, contestation, &order.ID, "возврат залога за оспаривание"); err != nil {
		return err
	}
	return s.ledger.ReleaseEscrowToBalance(ctx, tx, order.ProviderID, contestation, &order.ID, "возврат залога за оспаривание")
}

func (s *OrderService) notifyConfirmed(ctx context.Context, result *PaymentResult) {
	s.notifier.Notify(ctx, "order.confirmed", result.Order.ID, []uuid.UUID{result.Order.RequesterID, result.Order.ProviderID}, map[string]interface{}{
		"order_id":          result.Order.ID,
		"provider_received": result.ProviderReceived,
		"auto_confirmed":    result.Order.AutoConfirmed,
	})
}

// observeTransition учитывает исход перехода в метрике.
func observeTransition(transition string, err error) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.OrderTransitions.WithLabelValues(transition, outcome).Inc()
}

// illegalTransition формирует типовую ошибку недопустимого перехода.
// Она же гасит гонки двойного вызова: проигравший видит изменённый статус.
func illegalTransition(from, to models.OrderStatus) error {
	return apperror.Newf(apperror.ErrCodeInvalidState, "переход из статуса %s в %s недопустим", from, to)
}

// translateLedgerErr приводит ошибки слоя хранения к прикладным.
func translateLedgerErr(err error) error {
	switch err {
	case repository.ErrInsufficientFunds:
		return apperror.New(apperror.ErrCodeInsufficientFunds, "недостаточно средств для выполнения операции")
	case repository.ErrWalletNotFound:
		return apperror.ErrWalletNotFound
	case repository.ErrOrderNotFound:
		return apperror.ErrOrderNotFound
	case repository.ErrNegotiationNotFound:
		return apperror.ErrNegotiationNotFound
	}
	return err
}

// newAuditEntry собирает запись аудита с новым correlation id.
func newAuditEntry(orderID uuid.UUID, actorID *uuid.UUID, action string, details map[string]interface{}) *models.AuditEntry {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	return &models.AuditEntry{
		CorrelationID: uuid.New(),
		OrderID:       &orderID,
		ActorID:       actorID,
		Action:        action,
		Details:       raw,
	}
}
