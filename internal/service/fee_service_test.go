package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
)

type mockFeeStore struct {
	mock.Mock
}

func (m *mockFeeStore) Get(ctx context.Context) (*models.FeeSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FeeSettings), args.Error(1)
}

func (m *mockFeeStore) Update(ctx context.Context, settings *models.FeeSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func validFees() *models.FeeSettings {
	return &models.FeeSettings{
		PlatformFeePercentage:     decimal.NewFromInt(5),
		ContestationFee:           decimal.NewFromInt(10),
		CancellationFeePercentage: decimal.NewFromInt(10),
	}
}

func TestFeeService_SnapshotCachesStore(t *testing.T) {
	store := new(mockFeeStore)
	store.On("Get", mock.Anything).Return(validFees(), nil).Once()
	svc := NewFeeService(store, time.Minute)

	first, err := svc.Snapshot(context.Background())
	assert.NoError(t, err)
	second, err := svc.Snapshot(context.Background())
	assert.NoError(t, err)

	assert.True(t, first.PlatformFeePercentage.Equal(second.PlatformFeePercentage))
	store.AssertExpectations(t)
}

// Каждый вызов возвращает копию, правка результата не портит кеш.
func TestFeeService_SnapshotReturnsCopy(t *testing.T) {
	store := new(mockFeeStore)
	store.On("Get", mock.Anything).Return(validFees(), nil).Once()
	svc := NewFeeService(store, time.Minute)

	first, err := svc.Snapshot(context.Background())
	assert.NoError(t, err)
	first.PlatformFeePercentage = decimal.NewFromInt(99)

	second, err := svc.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.True(t, second.PlatformFeePercentage.Equal(decimal.NewFromInt(5)))
}

func TestFeeService_UpdateInvalidatesCache(t *testing.T) {
	store := new(mockFeeStore)
	store.On("Get", mock.Anything).Return(validFees(), nil).Twice()
	store.On("Update", mock.Anything, mock.Anything).Return(nil)
	svc := NewFeeService(store, time.Hour)

	_, err := svc.Snapshot(context.Background())
	assert.NoError(t, err)

	updated := validFees()
	updated.PlatformFeePercentage = decimal.NewFromInt(7)
	assert.NoError(t, svc.UpdateSettings(context.Background(), updated))

	_, err = svc.Snapshot(context.Background())
	assert.NoError(t, err)
	store.AssertExpectations(t)
}

func TestFeeService_UpdateValidation(t *testing.T) {
	store := new(mockFeeStore)
	svc := NewFeeService(store, time.Minute)

	cases := []struct {
		name     string
		settings *models.FeeSettings
	}{
		{"комиссия больше 100", &models.FeeSettings{
			PlatformFeePercentage:     decimal.NewFromInt(101),
			ContestationFee:           decimal.NewFromInt(10),
			CancellationFeePercentage: decimal.NewFromInt(10),
		}},
		{"отрицательный штраф за отмену", &models.FeeSettings{
			PlatformFeePercentage:     decimal.NewFromInt(5),
			ContestationFee:           decimal.NewFromInt(10),
			CancellationFeePercentage: decimal.NewFromInt(-1),
		}},
		{"отрицательный залог", &models.FeeSettings{
			PlatformFeePercentage:     decimal.NewFromInt(5),
			ContestationFee:           decimal.NewFromInt(-10),
			CancellationFeePercentage: decimal.NewFromInt(10),
		}},
		{"нулевой залог", &models.FeeSettings{
			PlatformFeePercentage:     decimal.NewFromInt(5),
			ContestationFee:           decimal.Zero,
			CancellationFeePercentage: decimal.NewFromInt(10),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.UpdateSettings(context.Background(), tc.settings)
			assert.True(t, apperror.IsValidation(err))
		})
	}
	store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}
