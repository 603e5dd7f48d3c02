package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
)

// FeeStore хранит единственную строку платформенных комиссий.
type FeeStore interface {
	Get(ctx context.Context) (*models.FeeSettings, error)
	Update(ctx context.Context, settings *models.FeeSettings) error
}

// FeeService отдаёт действующие ставки комиссий с коротким TTL-кешем.
// Снимок ставок фиксируется в заказе при создании, поэтому небольшое
// запаздывание кеша не влияет на уже открытые заказы.
type FeeService struct {
	store FeeStore
	ttl   time.Duration

	mu        sync.RWMutex
	cached    *models.FeeSettings
	expiresAt time.Time
}

func NewFeeService(store FeeStore, ttl time.Duration) *FeeService {
	return &FeeService{store: store, ttl: ttl}
}

// Snapshot возвращает текущие ставки для фиксации в создаваемом заказе.
func (s *FeeService) Snapshot(ctx context.Context) (*models.FeeSettings, error) {
	s.mu.RLock()
	if s.cached != nil && time.Now().Before(s.expiresAt) {
		cached := *s.cached
		s.mu.RUnlock()
		return &cached, nil
	}
	s.mu.RUnlock()

	settings, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = settings
	s.expiresAt = time.Now().Add(s.ttl)
	s.mu.Unlock()

	result := *settings
	return &result, nil
}

// UpdateSettings валидирует и сохраняет новые ставки, сбрасывая кеш.
func (s *FeeService) UpdateSettings(ctx context.Context, settings *models.FeeSettings) error {
	if settings.PlatformFeePercentage.IsNegative() || settings.PlatformFeePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return apperror.New(apperror.ErrCodeValidation, "процент комиссии платформы должен быть в диапазоне от 0 до 100")
	}
	if settings.CancellationFeePercentage.IsNegative() || settings.CancellationFeePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return apperror.New(apperror.ErrCodeValidation, "процент штрафа за отмену должен быть в диапазоне от 0 до 100")
	}
	if !settings.ContestationFee.IsPositive() {
		return apperror.New(apperror.ErrCodeValidation, "залог за оспаривание должен быть больше нуля")
	}

	if err := s.store.Update(ctx, settings); err != nil {
		return err
	}

	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
	return nil
}
