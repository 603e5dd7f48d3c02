package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTx(t *testing.T) (*sqlx.Tx, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	mock.ExpectBegin()
	tx, err := sqlxDB.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	return tx, mock, func() { _ = sqlxDB.Close() }
}

func expectLockWallet(mock sqlmock.Sqlmock, accountID uuid.UUID, available, escrow string) {
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallets (account_id) VALUES ($1)")).
		WithArgs(accountID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT account_id, available, escrow, updated_at")).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "available", "escrow", "updated_at"}).
			AddRow(accountID.String(), available, escrow, time.Now()))
}

func TestReserveToEscrow(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	repo := NewLedgerRepository(nil)
	accountID := uuid.New()
	orderID := uuid.New()
	amount := decimal.NewFromInt(110)

	expectLockWallet(mock, accountID, "150.00", "0.00")
	mock.ExpectExec(regexp.QuoteMeta("SET available = available - $2, escrow = escrow + $2")).
		WithArgs(accountID, amount).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WithArgs(accountID, &orderID, "escrow_reserve", amount.Neg(), "резерв").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.ReserveToEscrow(context.Background(), tx, accountID, amount, &orderID, "резерв")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveToEscrow_InsufficientFunds(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	repo := NewLedgerRepository(nil)
	accountID := uuid.New()

	expectLockWallet(mock, accountID, "5.00", "0.00")

	err := repo.ReserveToEscrow(context.Background(), tx, accountID, decimal.NewFromInt(110), nil, "резерв")

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferEscrowToBalance(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	repo := NewLedgerRepository(nil)
	fromID := uuid.New()
	toID := uuid.New()
	orderID := uuid.New()
	amount := decimal.NewFromInt(95)

	expectLockWallet(mock, fromID, "0.00", "110.00")
	mock.ExpectExec(regexp.QuoteMeta("SET escrow = escrow - $2")).
		WithArgs(fromID, amount).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectLockWallet(mock, toID, "10.00", "10.00")
	mock.ExpectExec(regexp.QuoteMeta("SET available = available + $2")).
		WithArgs(toID, amount).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WithArgs(fromID, &orderID, "escrow_transfer", amount.Neg(), "оплата").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WithArgs(toID, &orderID, "escrow_transfer", amount, "оплата").
		WillReturnResult(sqlmock.NewResult(2, 1))

	err := repo.TransferEscrowToBalance(context.Background(), tx, fromID, toID, amount, &orderID, "оплата")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferEscrowToBalance_EscrowTooSmall(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	repo := NewLedgerRepository(nil)
	fromID := uuid.New()

	expectLockWallet(mock, fromID, "100.00", "10.00")

	err := repo.TransferEscrowToBalance(context.Background(), tx, fromID, uuid.New(), decimal.NewFromInt(95), nil, "оплата")

	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	tx, mock, closeDB := newMockTx(t)
	defer closeDB()

	repo := NewLedgerRepository(nil)
	accountID := uuid.New()

	expectLockWallet(mock, accountID, "3.00", "0.00")

	err := repo.Debit(context.Background(), tx, accountID, decimal.NewFromInt(5), nil, "штраф")

	assert.ErrorIs(t, err, ErrInsufficientFunds)
}
