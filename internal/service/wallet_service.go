package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
)

// WalletStore - операции над кошельками вне переходов заказа.
type WalletStore interface {
	GetWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*models.Wallet, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error)
	ListEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
}

// WalletService - ввод средств и просмотр балансов и истории движений.
type WalletService struct {
	wallets WalletStore
}

func NewWalletService(wallets WalletStore) *WalletService {
	return &WalletService{wallets: wallets}
}

// Deposit пополняет доступный остаток счёта.
func (s *WalletService) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма пополнения должна быть положительной")
	}
	wallet, err := s.wallets.Deposit(ctx, accountID, amount, "пополнение счёта")
	if err != nil {
		return nil, translateLedgerErr(err)
	}
	return wallet, nil
}

// GetBalance возвращает кошелёк пользователя, создавая его при первом обращении.
func (s *WalletService) GetBalance(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.wallets.GetWallet(ctx, accountID)
	if err != nil {
		return nil, translateLedgerErr(err)
	}
	return wallet, nil
}

// ListEntries возвращает историю движений по счёту.
func (s *WalletService) ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.wallets.ListEntries(ctx, accountID, limit, offset)
}

// ListEntriesByOrder возвращает все движения средств по заказу.
func (s *WalletService) ListEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.wallets.ListEntriesByOrder(ctx, orderID)
}
