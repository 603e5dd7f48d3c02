package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
)

// DisputeReasonMinLength - минимальная длина причины спора в символах.
const DisputeReasonMinLength = 20

// DisputeService ведёт жизненный цикл спора: открытие заказчиком, ответ
// исполнителя и разрешение администратором. Разрешение - единственный
// переход, который запускает доверенная третья сторона, и единственный
// с ветвлением денежного потока по победителю.
type DisputeService struct {
	tx       TxRunner
	orders   OrderStore
	ledger   Ledger
	audit    AuditStore
	notifier Notifier

	platformAccountID uuid.UUID

	now func() time.Time
}

func NewDisputeService(
	tx TxRunner,
	orders OrderStore,
	ledger Ledger,
	audit AuditStore,
	notifier Notifier,
	platformAccountID uuid.UUID,
) *DisputeService {
	return &DisputeService{
		tx:                tx,
		orders:            orders,
		ledger:            ledger,
		audit:             audit,
		notifier:          notifier,
		platformAccountID: platformAccountID,
		now:               time.Now,
	}
}

// OpenDispute открывает спор по исполненной услуге до истечения окна
// подтверждения. Денежных движений нет, переход лишь выводит заказ из-под
// автоподтверждения.
func (s *DisputeService) OpenDispute(ctx context.Context, orderID, requesterID uuid.UUID, reason string, evidence []models.DisputeEvidence) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < DisputeReasonMinLength {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "причина спора должна содержать не менее %d символов", DisputeReasonMinLength)
	}

	var order *models.Order
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.RequesterID != requesterID {
			return apperror.ErrForbidden
		}
		if order.Status != models.OrderStatusServiceExecuted {
			return illegalTransition(order.Status, models.OrderStatusDisputed)
		}
		if order.ConfirmationDeadline != nil && s.now().After(*order.ConfirmationDeadline) {
			return apperror.New(apperror.ErrCodeDeadlinePassed, "срок открытия спора истёк")
		}

		now := s.now()
		order.Status = models.OrderStatusDisputed
		order.DisputeOpenedBy = &requesterID
		order.DisputeOpenedAt = &now
		order.DisputeReason = &reason
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}

		for i := range evidence {
			evidence[i].UploaderRole = models.EvidenceUploaderRequester
		}
		if err := s.orders.AddEvidence(ctx, tx, order.ID, evidence); err != nil {
			return err
		}

		return s.audit.Add(ctx, tx, newAuditEntry(order.ID, &requesterID, models.AuditActionDisputeOpened, map[string]interface{}{
			"reason":         reason,
			"evidence_count": len(evidence),
		}))
	})
	observeTransition("dispute_open", err)
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	s.notifier.Notify(ctx, "order.dispute_opened", order.ID, []uuid.UUID{order.ProviderID}, map[string]interface{}{
		"order_id": order.ID,
		"reason":   reason,
	})
	return order, nil
}

// ProviderRespond принимает единственное возражение исполнителя по спору.
// Повторная отправка отклоняется.
func (s *DisputeService) ProviderRespond(ctx context.Context, orderID, providerID uuid.UUID, response string, evidence []models.DisputeEvidence) (*models.Order, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "текст возражения обязателен")
	}

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
		if order.Status != models.OrderStatusDisputed {
			return apperror.Newf(apperror.ErrCodeInvalidState, "по заказу в статусе %s нет открытого спора", order.Status)
		}
		if order.DisputeProviderResponse != nil {
			return apperror.New(apperror.ErrCodeConflict, "возражение по спору уже отправлено")
		}

		order.DisputeProviderResponse = &response
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}

		for i := range evidence {
			evidence[i].UploaderRole = models.EvidenceUploaderProvider
		}
		if err := s.orders.AddEvidence(ctx, tx, order.ID, evidence); err != nil {
			return err
		}

		return s.audit.Add(ctx, tx, newAuditEntry(order.ID, &providerID, models.AuditActionDisputeResponse, map[string]interface{}{
			"evidence_count": len(evidence),
		}))
	})
	observeTransition("dispute_response", err)
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	s.notifier.Notify(ctx, "order.dispute_response", order.ID, []uuid.UUID{order.RequesterID}, map[string]interface{}{
		"order_id": order.ID,
	})
	return order, nil
}

// ResolveDispute разрешает спор в пользу одной из сторон.
// Победил заказчик: полная стоимость возвращается ему из эскроу, его залог
// уходит платформе, залог исполнителя возвращается исполнителю.
// Победил исполнитель: расчёт как при подтверждении, и сверх того залог
// заказчика уходит платформе, а залог исполнителя возвращается ему.
func (s *DisputeService) ResolveDispute(ctx context.Context, orderID, adminID uuid.UUID, winner models.DisputeWinner, notes string) (*PaymentResult, error) {
	if _, ok := models.ParseDisputeWinner(string(winner)); !ok {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "недопустимое значение победителя спора: %q", winner)
	}

	var result *PaymentResult
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusDisputed {
			return illegalTransition(order.Status, models.OrderStatusResolved)
		}

		contestation := order.ContestationFeeAtCreation
		providerReceived := decimal.Zero
		platformReceived := decimal.Zero
		requesterRefund := decimal.Zero

		switch winner {
		case models.DisputeWinnerRequester:
			requesterRefund = order.Value
			if requesterRefund.IsPositive() {
				if err := s.ledger.ReleaseEscrowToBalance(ctx, tx, order.RequesterID, requesterRefund, &order.ID, "возврат стоимости услуги по решению спора"); err != nil {
					return err
				}
			}
		case models.DisputeWinnerProvider:
			platformFee := percentOf(order.Value, order.PlatformFeePercentageAtCreation)
			providerReceived = order.Value.Sub(platformFee)
			if err := s.ledger.TransferEscrowToBalance(ctx, tx, order.RequesterID, order.ProviderID, providerReceived, &order.ID, "оплата услуги по решению спора"); err != nil {
				return err
			}
			if platformFee.IsPositive() {
				if err := s.ledger.TransferEscrowToBalance(ctx, tx, order.RequesterID, s.platformAccountID, platformFee, &order.ID, "комиссия платформы"); err != nil {
					return err
				}
			}
			platformReceived = platformFee
		}

		// Залог заказчика в обоих исходах уходит платформе как плата за
		// арбитраж, залог исполнителя всегда возвращается ему.
		if contestation.IsPositive() {
			if err := s.ledger.TransferEscrowToBalance(ctx, tx, order.RequesterID, s.platformAccountID, contestation, &order.ID, "удержание залога за оспаривание"); err != nil {
				return err
			}
			platformReceived = platformReceived.Add(contestation)
			if err := s.ledger.ReleaseEscrowToBalance(ctx, tx, order.ProviderID, contestation, &order.ID, "возврат залога за оспаривание"); err != nil {
				return err
			}
		}

		now := s.now()
		order.Status = models.OrderStatusResolved
		order.DisputeWinner = &winner
		order.DisputeResolvedBy = &adminID
		order.DisputeResolvedAt = &now
		if notes != "" {
			order.DisputeAdminNotes = &notes
		}
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return err
		}

		if err := s.audit.Add(ctx, tx, newAuditEntry(order.ID, &adminID, models.AuditActionDisputeResolved, map[string]interface{}{
			"winner":            winner,
			"provider_received": providerReceived,
			"platform_received": platformReceived,
			"requester_refund":  requesterRefund,
		})); err != nil {
			return err
		}

		result = &PaymentResult{
			Order:            order,
			ProviderReceived: providerReceived,
			PlatformReceived: platformReceived,
			RequesterRefund:  requesterRefund,
		}
		return nil
	})
	observeTransition("dispute_resolve", err)
	if err != nil {
		return nil, translateLedgerErr(err)
	}

	s.notifier.Notify(ctx, "order.dispute_resolved", result.Order.ID, []uuid.UUID{result.Order.RequesterID, result.Order.ProviderID}, map[string]interface{}{
		"order_id": result.Order.ID,
		"winner":   winner,
	})
	return result, nil
}

// ListEvidence возвращает вложения по спору участнику сделки.
func (s *DisputeService) ListEvidence(ctx context.Context, orderID, userID uuid.UUID) ([]models.DisputeEvidence, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, translateLedgerErr(err)
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return s.orders.ListEvidence(ctx, orderID)
}
