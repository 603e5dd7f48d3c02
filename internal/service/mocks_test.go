package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/dealhub/escrow-backend/internal/models"
)

// stubTxRunner выполняет функцию напрямую, без настоящей транзакции.
type stubTxRunner struct{}

func (s *stubTxRunner) WithinTx(_ context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

// amountEq сравнивает decimal-аргументы по значению, а не по представлению.
func amountEq(expected string) interface{} {
	want := decimal.RequireFromString(expected)
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(want)
	})
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) ReserveToEscrow(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	args := m.Called(ctx, tx, accountID, amount, orderID, description)
	return args.Error(0)
}

func (m *mockLedger) ReleaseEscrowToBalance(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	args := m.Called(ctx, tx, accountID, amount, orderID, description)
	return args.Error(0)
}

func (m *mockLedger) TransferEscrowToBalance(ctx context.Context, tx *sqlx.Tx, fromID, toID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	args := m.Called(ctx, tx, fromID, toID, amount, orderID, description)
	return args.Error(0)
}

func (m *mockLedger) Credit(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	args := m.Called(ctx, tx, accountID, amount, orderID, description)
	return args.Error(0)
}

func (m *mockLedger) Debit(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	args := m.Called(ctx, tx, accountID, amount, orderID, description)
	return args.Error(0)
}

func (m *mockLedger) AvailableBalance(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, tx, accountID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockOrderStore struct {
	mock.Mock
}

func (m *mockOrderStore) Create(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	args := m.Called(ctx, tx, order)
	if args.Error(0) == nil && order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockOrderStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderStore) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderStore) Update(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *mockOrderStore) ListAutoConfirmable(ctx context.Context, now time.Time) ([]models.Order, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockOrderStore) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockOrderStore) AddEvidence(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, items []models.DisputeEvidence) error {
	args := m.Called(ctx, tx, orderID, items)
	return args.Error(0)
}

func (m *mockOrderStore) ListEvidence(ctx context.Context, orderID uuid.UUID) ([]models.DisputeEvidence, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DisputeEvidence), args.Error(1)
}

type mockNegotiationStore struct {
	mock.Mock
}

func (m *mockNegotiationStore) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Negotiation, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Negotiation), args.Error(1)
}

func (m *mockNegotiationStore) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status models.NegotiationStatus) error {
	args := m.Called(ctx, tx, id, status)
	return args.Error(0)
}

func (m *mockNegotiationStore) AddHistoryEvent(ctx context.Context, negotiationID uuid.UUID, event string) error {
	args := m.Called(ctx, negotiationID, event)
	return args.Error(0)
}

type mockAuditStore struct {
	mock.Mock
}

func (m *mockAuditStore) Add(ctx context.Context, tx *sqlx.Tx, entry *models.AuditEntry) error {
	args := m.Called(ctx, tx, entry)
	return args.Error(0)
}

type mockFeeProvider struct {
	mock.Mock
}

func (m *mockFeeProvider) Snapshot(ctx context.Context) (*models.FeeSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FeeSettings), args.Error(1)
}

// recordingNotifier собирает отправленные события для проверок.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, eventKind string, _ uuid.UUID, _ []uuid.UUID, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventKind)
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}
