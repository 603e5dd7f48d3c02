package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/repository/common"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
)

// LedgerRepository - единственный компонент, которому разрешено менять
// балансы кошельков. Примитивы принимают открытую транзакцию, чтобы весь
// переход состояния заказа выполнялся атомарно; на каждое движение средств
// добавляется запись в журнал с привязкой к заказу.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// lockWallet возвращает кошелёк под блокировкой строки, создавая его лениво.
func (r *LedgerRepository) lockWallet(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (*models.Wallet, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (account_id) VALUES ($1)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: create wallet %w", err)
	}

	var wallet models.Wallet
	err = tx.GetContext(ctx, &wallet, `
		SELECT account_id, available, escrow, updated_at
		FROM wallets WHERE account_id = $1 FOR UPDATE
	`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("ledger repository: lock wallet %w", err)
	}
	return &wallet, nil
}

// appendEntry добавляет запись журнала в рамках той же транзакции.
func (r *LedgerRepository) appendEntry(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, orderID *uuid.UUID, kind string, amount decimal.Decimal, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (account_id, order_id, kind, amount, description)
		VALUES ($1, $2, $3, $4, $5)
	`, accountID, orderID, kind, amount, description)
	if err != nil {
		return fmt.Errorf("ledger repository: append entry %w", err)
	}
	return nil
}

// ReserveToEscrow переводит amount из доступного остатка в эскроу того же счёта.
func (r *LedgerRepository) ReserveToEscrow(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	wallet, err := r.lockWallet(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if wallet.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET available = available - $2, escrow = escrow + $2, updated_at = NOW()
		WHERE account_id = $1
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: reserve to escrow %w", err)
	}

	return r.appendEntry(ctx, tx, accountID, orderID, models.EntryKindEscrowReserve, amount.Neg(), description)
}

// ReleaseEscrowToBalance возвращает amount из эскроу в доступный остаток того же счёта.
func (r *LedgerRepository) ReleaseEscrowToBalance(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	wallet, err := r.lockWallet(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if wallet.Escrow.LessThan(amount) {
		return ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET available = available + $2, escrow = escrow - $2, updated_at = NOW()
		WHERE account_id = $1
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: release escrow %w", err)
	}

	return r.appendEntry(ctx, tx, accountID, orderID, models.EntryKindEscrowRelease, amount, description)
}

// TransferEscrowToBalance списывает amount из эскроу одного счёта и зачисляет
// в доступный остаток другого. Обе стороны получают запись в журнале.
func (r *LedgerRepository) TransferEscrowToBalance(ctx context.Context, tx *sqlx.Tx, fromID, toID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	from, err := r.lockWallet(ctx, tx, fromID)
	if err != nil {
		return err
	}
	if from.Escrow.LessThan(amount) {
		return ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET escrow = escrow - $2, updated_at = NOW()
		WHERE account_id = $1
	`, fromID, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: transfer debit %w", err)
	}

	if _, err := r.lockWallet(ctx, tx, toID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET available = available + $2, updated_at = NOW()
		WHERE account_id = $1
	`, toID, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: transfer credit %w", err)
	}

	if err := r.appendEntry(ctx, tx, fromID, orderID, models.EntryKindEscrowTransfer, amount.Neg(), description); err != nil {
		return err
	}
	return r.appendEntry(ctx, tx, toID, orderID, models.EntryKindEscrowTransfer, amount, description)
}

// Credit зачисляет amount на доступный остаток счёта.
func (r *LedgerRepository) Credit(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	if _, err := r.lockWallet(ctx, tx, accountID); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE wallets SET available = available + $2, updated_at = NOW()
		WHERE account_id = $1
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: credit %w", err)
	}

	return r.appendEntry(ctx, tx, accountID, orderID, models.EntryKindCredit, amount, description)
}

// Debit списывает amount с доступного остатка счёта.
func (r *LedgerRepository) Debit(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, description string) error {
	wallet, err := r.lockWallet(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if wallet.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET available = available - $2, updated_at = NOW()
		WHERE account_id = $1
	`, accountID, amount)
	if err != nil {
		return fmt.Errorf("ledger repository: debit %w", err)
	}

	return r.appendEntry(ctx, tx, accountID, orderID, models.EntryKindDebit, amount.Neg(), description)
}

// GetWallet возвращает кошелёк, создавая его лениво при первом обращении.
func (r *LedgerRepository) GetWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `
		INSERT INTO wallets (account_id)
		VALUES ($1)
		ON CONFLICT (account_id) DO UPDATE SET updated_at = wallets.updated_at
		RETURNING account_id, available, escrow, updated_at
	`
	if err := r.db.GetContext(ctx, &wallet, query, accountID); err != nil {
		return nil, fmt.Errorf("ledger repository: get wallet %w", err)
	}
	return &wallet, nil
}

// AvailableBalance возвращает доступный остаток под блокировкой
// для предварительных проверок внутри перехода.
func (r *LedgerRepository) AvailableBalance(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (decimal.Decimal, error) {
	wallet, err := r.lockWallet(ctx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Available, nil
}

// Deposit пополняет доступный остаток в собственной транзакции.
// Используется только для ввода средств извне, не для переходов заказа.
func (r *LedgerRepository) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := r.Credit(ctx, tx, accountID, amount, nil, description); err != nil {
			return err
		}
		var w models.Wallet
		if err := tx.GetContext(ctx, &w, `
			SELECT account_id, available, escrow, updated_at
			FROM wallets WHERE account_id = $1
		`, accountID); err != nil {
			return fmt.Errorf("ledger repository: deposit read back %w", err)
		}
		wallet = &w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// ListEntries возвращает историю движений по счёту.
func (r *LedgerRepository) ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, account_id, order_id, kind, amount, description, created_at
		FROM ledger_entries WHERE account_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list entries %w", err)
	}
	return entries, nil
}

// ListEntriesByOrder возвращает все движения средств по заказу.
func (r *LedgerRepository) ListEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, account_id, order_id, kind, amount, description, created_at
		FROM ledger_entries WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list entries by order %w", err)
	}
	return entries, nil
}
