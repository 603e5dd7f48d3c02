package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/dealhub/escrow-backend/internal/metrics"
	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
)

var (
	testPlatformID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	testWindow     = 36 * time.Hour
)

type orderFixture struct {
	tx           *stubTxRunner
	orders       *mockOrderStore
	negotiations *mockNegotiationStore
	ledger       *mockLedger
	audit        *mockAuditStore
	fees         *mockFeeProvider
	notifier     *recordingNotifier
	svc          *OrderService
}

func newOrderFixture() *orderFixture {
	f := &orderFixture{
		tx:           &stubTxRunner{},
		orders:       new(mockOrderStore),
		negotiations: new(mockNegotiationStore),
		ledger:       new(mockLedger),
		audit:        new(mockAuditStore),
		fees:         new(mockFeeProvider),
		notifier:     &recordingNotifier{},
	}
	f.svc = NewOrderService(f.tx, f.orders, f.negotiations, f.ledger, f.audit, f.fees, f.notifier, testPlatformID, testWindow)
	return f
}

// executedOrder возвращает заказ с исполненной услугой и снимками 5%/10/10%.
func executedOrder(requesterID, providerID uuid.UUID, deadline time.Time) *models.Order {
	completed := deadline.Add(-testWindow)
	return &models.Order{
		ID:                              uuid.New(),
		NegotiationID:                   uuid.New(),
		RequesterID:                     requesterID,
		ProviderID:                      providerID,
		Title:                           "перевод договора",
		Value:                           decimal.NewFromInt(100),
		Status:                          models.OrderStatusServiceExecuted,
		CompletedAt:                     &completed,
		ConfirmationDeadline:            &deadline,
		PlatformFeePercentageAtCreation: decimal.NewFromInt(5),
		ContestationFeeAtCreation:       decimal.NewFromInt(10),
		CancellationFeePctAtCreation:    decimal.NewFromInt(10),
	}
}

func TestConfirmService_HappyPath(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	requesterID := uuid.New()
	providerID := uuid.New()
	deadline := time.Now().Add(time.Hour)
	order := executedOrder(requesterID, providerID, deadline)

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, providerID, amountEq("95"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, testPlatformID, amountEq("5"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, requesterID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, providerID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	confirmedBefore := testutil.ToFloat64(metrics.OrderTransitions.WithLabelValues("confirm", metrics.OutcomeOK))

	result, err := f.svc.ConfirmService(ctx, order.ID, requesterID)

	assert.NoError(t, err)
	assert.Equal(t, confirmedBefore+1, testutil.ToFloat64(metrics.OrderTransitions.WithLabelValues("confirm", metrics.OutcomeOK)))
	assert.True(t, result.ProviderReceived.Equal(decimal.NewFromInt(95)))
	assert.True(t, result.PlatformReceived.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, models.OrderStatusConfirmed, result.Order.Status)
	assert.False(t, result.Order.AutoConfirmed)
	assert.NotNil(t, result.Order.ConfirmedAt)
	assert.Contains(t, f.notifier.sent(), "order.confirmed")
	f.ledger.AssertExpectations(t)
	f.orders.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestConfirmService_DeadlinePassed(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	deadline := time.Now().Add(-time.Minute)
	order := executedOrder(requesterID, uuid.New(), deadline)

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.ConfirmService(context.Background(), order.ID, requesterID)

	assert.Error(t, err)
	assert.True(t, apperror.IsDeadlinePassed(err))
	f.ledger.AssertNotCalled(t, "TransferEscrowToBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmService_IllegalTransition(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	order := executedOrder(requesterID, uuid.New(), time.Now().Add(time.Hour))
	order.Status = models.OrderStatusConfirmed

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	failedBefore := testutil.ToFloat64(metrics.OrderTransitions.WithLabelValues("confirm", metrics.OutcomeError))

	_, err := f.svc.ConfirmService(context.Background(), order.ID, requesterID)

	assert.True(t, apperror.IsInvalidState(err))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.OrderTransitions.WithLabelValues("confirm", metrics.OutcomeError)))
}

func TestConfirmService_Forbidden(t *testing.T) {
	f := newOrderFixture()
	order := executedOrder(uuid.New(), uuid.New(), time.Now().Add(time.Hour))

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.ConfirmService(context.Background(), order.ID, uuid.New())

	assert.True(t, apperror.IsForbidden(err))
}

// Снимок комиссий заказа не зависит от текущих настроек: подтверждение
// никогда не обращается к действующим ставкам.
func TestConfirmService_UsesSnapshotNotLivePolicy(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	order := executedOrder(requesterID, providerID, time.Now().Add(time.Hour))

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, providerID, amountEq("95"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, testPlatformID, amountEq("5"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, mock.Anything, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.ConfirmService(context.Background(), order.ID, requesterID)

	assert.NoError(t, err)
	f.fees.AssertNotCalled(t, "Snapshot", mock.Anything)
}

func TestAutoConfirm_SetsFlag(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	deadline := time.Now().Add(-time.Hour)
	order := executedOrder(requesterID, providerID, deadline)

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, providerID, amountEq("95"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, testPlatformID, amountEq("5"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, mock.Anything, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.AutoConfirm(context.Background(), order.ID)

	assert.NoError(t, err)
	assert.True(t, result.Order.AutoConfirmed)
	assert.Equal(t, models.OrderStatusConfirmed, result.Order.Status)
}

// Гонка планировщика с ручным подтверждением: второй участник наблюдает
// изменённый статус и завершается типовой ошибкой без движения средств.
func TestAutoConfirm_LosesRaceHarmlessly(t *testing.T) {
	f := newOrderFixture()
	order := executedOrder(uuid.New(), uuid.New(), time.Now().Add(-time.Hour))
	order.Status = models.OrderStatusConfirmed

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.AutoConfirm(context.Background(), order.ID)

	assert.True(t, apperror.IsInvalidState(err))
	f.ledger.AssertNotCalled(t, "TransferEscrowToBalance", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.orders.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestAutoConfirm_WindowStillOpen(t *testing.T) {
	f := newOrderFixture()
	order := executedOrder(uuid.New(), uuid.New(), time.Now().Add(time.Hour))

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.AutoConfirm(context.Background(), order.ID)

	assert.True(t, apperror.IsInvalidState(err))
}

func TestCancelOrder_RequesterPaysFromEscrow(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	order := executedOrder(requesterID, providerID, time.Now().Add(time.Hour))
	order.Status = models.OrderStatusAwaitingExecution
	order.CompletedAt = nil
	order.ConfirmationDeadline = nil

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	// Штраф 10: платформа 5, исполнитель 5, остаток 90 возвращается заказчику.
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, testPlatformID, amountEq("5"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, providerID, amountEq("5"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, requesterID, amountEq("90"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, requesterID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, providerID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.CancelOrder(context.Background(), order.ID, requesterID, "передумал заказывать услугу")

	assert.NoError(t, err)
	assert.True(t, result.CancellationFee.Equal(decimal.NewFromInt(10)))
	assert.True(t, result.PlatformShare.Equal(decimal.NewFromInt(5)))
	assert.True(t, result.InjuredShare.Equal(decimal.NewFromInt(5)))
	assert.True(t, result.RequesterRefund.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
	assert.Equal(t, requesterID, *result.Order.CancelledBy)
	f.ledger.AssertExpectations(t)
}

// Исполнитель не резервировал стоимость услуги, поэтому при его отмене
// полная стоимость возвращается заказчику из эскроу, а штраф списывается
// с доступного остатка исполнителя.
func TestCancelOrder_ProviderPaysFromAvailable(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	order := executedOrder(requesterID, providerID, time.Now().Add(time.Hour))
	order.Status = models.OrderStatusAwaitingExecution

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, requesterID, amountEq("100"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("Debit", mock.Anything, mock.Anything, providerID, amountEq("5"), mock.Anything, mock.Anything).Return(nil).Twice()
	f.ledger.On("Credit", mock.Anything, mock.Anything, testPlatformID, amountEq("5"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("Credit", mock.Anything, mock.Anything, requesterID, amountEq("5"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, requesterID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, providerID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.CancelOrder(context.Background(), order.ID, providerID, "не успеваю выполнить заказ")

	assert.NoError(t, err)
	assert.True(t, result.RequesterRefund.Equal(decimal.NewFromInt(100)))
	f.ledger.AssertExpectations(t)
}

func TestCancelOrder_MissingReason(t *testing.T) {
	f := newOrderFixture()

	_, err := f.svc.CancelOrder(context.Background(), uuid.New(), uuid.New(), "   ")

	assert.True(t, apperror.IsValidation(err))
	f.orders.AssertNotCalled(t, "GetByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelOrder_OnlyFromAwaitingExecution(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	order := executedOrder(requesterID, uuid.New(), time.Now().Add(time.Hour))

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.CancelOrder(context.Background(), order.ID, requesterID, "услуга уже не нужна")

	assert.True(t, apperror.IsInvalidState(err))
}

func TestCreateOrder_ReservesBothEscrows(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	negotiation := &models.Negotiation{
		ID:          uuid.New(),
		RequesterID: requesterID,
		ProviderID:  providerID,
		Title:       "локализация приложения",
		Value:       decimal.NewFromInt(100),
		Status:      models.NegotiationStatusPending,
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	f.fees.On("Snapshot", mock.Anything).Return(&models.FeeSettings{
		PlatformFeePercentage:     decimal.NewFromInt(5),
		ContestationFee:           decimal.NewFromInt(10),
		CancellationFeePercentage: decimal.NewFromInt(10),
	}, nil)
	f.negotiations.On("GetByIDForUpdate", mock.Anything, mock.Anything, negotiation.ID).Return(negotiation, nil)
	f.ledger.On("AvailableBalance", mock.Anything, mock.Anything, requesterID).Return(decimal.NewFromInt(200), nil)
	f.ledger.On("AvailableBalance", mock.Anything, mock.Anything, providerID).Return(decimal.NewFromInt(50), nil)
	f.orders.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReserveToEscrow", mock.Anything, mock.Anything, requesterID, amountEq("110"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReserveToEscrow", mock.Anything, mock.Anything, providerID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.negotiations.On("UpdateStatus", mock.Anything, mock.Anything, negotiation.ID, models.NegotiationStatusAccepted).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.negotiations.On("AddHistoryEvent", mock.Anything, negotiation.ID, models.NegotiationEventAccepted).Return(nil)

	order, err := f.svc.CreateOrder(context.Background(), negotiation.ID, providerID)

	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusAwaitingExecution, order.Status)
	assert.True(t, order.PlatformFeePercentageAtCreation.Equal(decimal.NewFromInt(5)))
	assert.True(t, order.ContestationFeeAtCreation.Equal(decimal.NewFromInt(10)))
	f.ledger.AssertExpectations(t)
}

func TestCreateOrder_InsufficientFundsNamesParty(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	negotiation := &models.Negotiation{
		ID:          uuid.New(),
		RequesterID: requesterID,
		ProviderID:  providerID,
		Value:       decimal.NewFromInt(100),
		Status:      models.NegotiationStatusPending,
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	f.fees.On("Snapshot", mock.Anything).Return(&models.FeeSettings{
		PlatformFeePercentage:     decimal.NewFromInt(5),
		ContestationFee:           decimal.NewFromInt(10),
		CancellationFeePercentage: decimal.NewFromInt(10),
	}, nil)
	f.negotiations.On("GetByIDForUpdate", mock.Anything, mock.Anything, negotiation.ID).Return(negotiation, nil)
	f.ledger.On("AvailableBalance", mock.Anything, mock.Anything, requesterID).Return(decimal.NewFromInt(50), nil)

	_, err := f.svc.CreateOrder(context.Background(), negotiation.ID, providerID)

	assert.True(t, apperror.IsInsufficientFunds(err))
	assert.Contains(t, err.Error(), "заказчик")
	f.ledger.AssertNotCalled(t, "ReserveToEscrow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrder_NotPendingNegotiation(t *testing.T) {
	f := newOrderFixture()
	providerID := uuid.New()
	negotiation := &models.Negotiation{
		ID:         uuid.New(),
		ProviderID: providerID,
		Status:     models.NegotiationStatusDeclined,
		ExpiresAt:  time.Now().Add(time.Hour),
	}

	f.fees.On("Snapshot", mock.Anything).Return(&models.FeeSettings{}, nil)
	f.negotiations.On("GetByIDForUpdate", mock.Anything, mock.Anything, negotiation.ID).Return(negotiation, nil)

	_, err := f.svc.CreateOrder(context.Background(), negotiation.ID, providerID)

	assert.True(t, apperror.IsInvalidState(err))
}

func TestMarkServiceCompleted_OpensConfirmationWindow(t *testing.T) {
	f := newOrderFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	order := executedOrder(requesterID, providerID, time.Now().Add(time.Hour))
	order.Status = models.OrderStatusAwaitingExecution
	order.CompletedAt = nil
	order.ConfirmationDeadline = nil

	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return start }

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.MarkServiceCompleted(context.Background(), order.ID, providerID)

	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusServiceExecuted, updated.Status)
	assert.Equal(t, start, *updated.CompletedAt)
	assert.Equal(t, start.Add(testWindow), *updated.ConfirmationDeadline)
}

func TestMarkServiceCompleted_OnlyProvider(t *testing.T) {
	f := newOrderFixture()
	order := executedOrder(uuid.New(), uuid.New(), time.Now().Add(time.Hour))
	order.Status = models.OrderStatusAwaitingExecution

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.MarkServiceCompleted(context.Background(), order.ID, uuid.New())

	assert.True(t, apperror.IsForbidden(err))
}
