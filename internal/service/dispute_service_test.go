package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
)

type disputeFixture struct {
	tx       *stubTxRunner
	orders   *mockOrderStore
	ledger   *mockLedger
	audit    *mockAuditStore
	notifier *recordingNotifier
	svc      *DisputeService
}

func newDisputeFixture() *disputeFixture {
	f := &disputeFixture{
		tx:       &stubTxRunner{},
		orders:   new(mockOrderStore),
		ledger:   new(mockLedger),
		audit:    new(mockAuditStore),
		notifier: &recordingNotifier{},
	}
	f.svc = NewDisputeService(f.tx, f.orders, f.ledger, f.audit, f.notifier, testPlatformID)
	return f
}

// disputedOrder возвращает заказ в споре со стоимостью 200 и снимками 5%/10.
func disputedOrder(requesterID, providerID uuid.UUID) *models.Order {
	reason := "качество перевода не соответствует заявленному в переговорах"
	openedAt := time.Now().Add(-time.Hour)
	return &models.Order{
		ID:                              uuid.New(),
		RequesterID:                     requesterID,
		ProviderID:                      providerID,
		Value:                           decimal.NewFromInt(200),
		Status:                          models.OrderStatusDisputed,
		DisputeOpenedBy:                 &requesterID,
		DisputeOpenedAt:                 &openedAt,
		DisputeReason:                   &reason,
		PlatformFeePercentageAtCreation: decimal.NewFromInt(5),
		ContestationFeeAtCreation:       decimal.NewFromInt(10),
		CancellationFeePctAtCreation:    decimal.NewFromInt(10),
	}
}

func TestOpenDispute_ReasonTooShort(t *testing.T) {
	f := newDisputeFixture()

	_, err := f.svc.OpenDispute(context.Background(), uuid.New(), uuid.New(), "мало текста", nil)

	assert.True(t, apperror.IsValidation(err))
	f.orders.AssertNotCalled(t, "GetByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenDispute_StampsEvidenceUploader(t *testing.T) {
	f := newDisputeFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	deadline := time.Now().Add(time.Hour)
	order := executedOrder(requesterID, providerID, deadline)

	evidence := []models.DisputeEvidence{
		{FileName: "screenshot.png", StorageURL: "https://files.example.com/screenshot.png", UploaderRole: models.EvidenceUploaderProvider},
	}

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.orders.On("AddEvidence", mock.Anything, mock.Anything, order.ID, mock.MatchedBy(func(items []models.DisputeEvidence) bool {
		return len(items) == 1 && items[0].UploaderRole == models.EvidenceUploaderRequester
	})).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.OpenDispute(context.Background(), order.ID, requesterID, "результат работы не совпадает с условиями сделки", evidence)

	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusDisputed, updated.Status)
	assert.Equal(t, requesterID, *updated.DisputeOpenedBy)
	assert.Contains(t, f.notifier.sent(), "order.dispute_opened")
	f.orders.AssertExpectations(t)
}

// Спор можно открыть только по исполненной услуге.
func TestOpenDispute_BeforeServiceExecuted(t *testing.T) {
	f := newDisputeFixture()
	requesterID := uuid.New()
	order := executedOrder(requesterID, uuid.New(), time.Now().Add(time.Hour))
	order.Status = models.OrderStatusAwaitingExecution
	order.CompletedAt = nil
	order.ConfirmationDeadline = nil

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.OpenDispute(context.Background(), order.ID, requesterID, "результат работы не совпадает с условиями сделки", nil)

	assert.True(t, apperror.IsInvalidState(err))
	f.orders.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenDispute_AfterDeadline(t *testing.T) {
	f := newDisputeFixture()
	requesterID := uuid.New()
	order := executedOrder(requesterID, uuid.New(), time.Now().Add(-time.Minute))

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.OpenDispute(context.Background(), order.ID, requesterID, "результат работы не совпадает с условиями сделки", nil)

	assert.True(t, apperror.IsDeadlinePassed(err))
	f.orders.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestProviderRespond_SecondAttemptConflicts(t *testing.T) {
	f := newDisputeFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	order := disputedOrder(requesterID, providerID)
	existing := "работа выполнена в полном объёме"
	order.DisputeProviderResponse = &existing

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.ProviderRespond(context.Background(), order.ID, providerID, "повторное возражение", nil)

	assert.True(t, apperror.Is(err, apperror.ErrCodeConflict))
	f.orders.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestProviderRespond_HappyPath(t *testing.T) {
	f := newDisputeFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	order := disputedOrder(requesterID, providerID)

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.orders.On("AddEvidence", mock.Anything, mock.Anything, order.ID, mock.Anything).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := f.svc.ProviderRespond(context.Background(), order.ID, providerID, "работа сдана по согласованному заданию", nil)

	assert.NoError(t, err)
	assert.Equal(t, "работа сдана по согласованному заданию", *updated.DisputeProviderResponse)
	assert.Contains(t, f.notifier.sent(), "order.dispute_response")
}

// Победа исполнителя: расчёт как при подтверждении плюс удержание залога
// заказчика. При стоимости 200 и комиссии 5% исполнитель получает 190,
// платформа 10 комиссии и 10 залога.
func TestResolveDispute_ProviderWins(t *testing.T) {
	f := newDisputeFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	adminID := uuid.New()
	order := disputedOrder(requesterID, providerID)

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, providerID, amountEq("190"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, testPlatformID, amountEq("10"), mock.Anything, mock.Anything).Return(nil).Twice()
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, providerID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.ResolveDispute(context.Background(), order.ID, adminID, models.DisputeWinnerProvider, "доказательства исполнителя убедительны")

	assert.NoError(t, err)
	assert.True(t, result.ProviderReceived.Equal(decimal.NewFromInt(190)))
	assert.True(t, result.PlatformReceived.Equal(decimal.NewFromInt(20)))
	assert.True(t, result.RequesterRefund.IsZero())
	assert.Equal(t, models.OrderStatusResolved, result.Order.Status)
	assert.Equal(t, models.DisputeWinnerProvider, *result.Order.DisputeWinner)
	f.ledger.AssertExpectations(t)
}

// Победа заказчика: полная стоимость возвращается ему, но залог за
// оспаривание всё равно остаётся платформе.
func TestResolveDispute_RequesterWins(t *testing.T) {
	f := newDisputeFixture()
	requesterID := uuid.New()
	providerID := uuid.New()
	adminID := uuid.New()
	order := disputedOrder(requesterID, providerID)

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, requesterID, amountEq("200"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, testPlatformID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.ledger.On("ReleaseEscrowToBalance", mock.Anything, mock.Anything, providerID, amountEq("10"), mock.Anything, mock.Anything).Return(nil)
	f.orders.On("Update", mock.Anything, mock.Anything, order).Return(nil)
	f.audit.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.ResolveDispute(context.Background(), order.ID, adminID, models.DisputeWinnerRequester, "")

	assert.NoError(t, err)
	assert.True(t, result.RequesterRefund.Equal(decimal.NewFromInt(200)))
	assert.True(t, result.PlatformReceived.Equal(decimal.NewFromInt(10)))
	assert.True(t, result.ProviderReceived.IsZero())
	f.ledger.AssertNotCalled(t, "TransferEscrowToBalance", mock.Anything, mock.Anything, requesterID, providerID, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveDispute_InvalidWinner(t *testing.T) {
	f := newDisputeFixture()

	_, err := f.svc.ResolveDispute(context.Background(), uuid.New(), uuid.New(), models.DisputeWinner("platform"), "")

	assert.True(t, apperror.IsValidation(err))
	f.orders.AssertNotCalled(t, "GetByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveDispute_NotDisputed(t *testing.T) {
	f := newDisputeFixture()
	order := disputedOrder(uuid.New(), uuid.New())
	order.Status = models.OrderStatusConfirmed

	f.orders.On("GetByIDForUpdate", mock.Anything, mock.Anything, order.ID).Return(order, nil)

	_, err := f.svc.ResolveDispute(context.Background(), order.ID, uuid.New(), models.DisputeWinnerRequester, "")

	assert.True(t, apperror.IsInvalidState(err))
}
