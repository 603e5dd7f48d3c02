package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dealhub/escrow-backend/internal/goroutine"
	"github.com/dealhub/escrow-backend/internal/logger"
	"github.com/dealhub/escrow-backend/internal/metrics"
	"github.com/dealhub/escrow-backend/internal/models"
	"github.com/dealhub/escrow-backend/internal/pkg/apperror"
	"github.com/dealhub/escrow-backend/internal/service"
)

// Окно предупреждения об истечении переговоров.
const (
	expiryWarnFrom = 23 * time.Hour
	expiryWarnTo   = 25 * time.Hour
)

// OrderConfirmer подтверждает заказ от имени системы.
type OrderConfirmer interface {
	AutoConfirm(ctx context.Context, orderID uuid.UUID) (*service.PaymentResult, error)
}

// OrderLister выбирает заказы с истёкшим окном подтверждения.
type OrderLister interface {
	ListAutoConfirmable(ctx context.Context, now time.Time) ([]models.Order, error)
}

// NegotiationSweeper - доступ к переговорам для двухфазной проверки сроков.
type NegotiationSweeper interface {
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Negotiation, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.Negotiation, error)
	HasHistoryEvent(ctx context.Context, negotiationID uuid.UUID, event string) (bool, error)
	AddHistoryEvent(ctx context.Context, negotiationID uuid.UUID, event string) error
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
}

// AuditRecorder пишет запись аудита вне транзакции перехода.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// AutoConfirmResult - итог одного прогона автоподтверждения.
type AutoConfirmResult struct {
	Processed int      `json:"processed"`
	Confirmed int      `json:"confirmed"`
	Errors    []string `json:"errors"`
}

// ExpirationResult - итог одного прогона проверки сроков переговоров.
type ExpirationResult struct {
	ExpiringChecked  int `json:"expiring_checked"`
	ExpiringNotified int `json:"expiring_notified"`
	ExpiredChecked   int `json:"expired_checked"`
	ExpiredCount     int `json:"expired_count"`
}

// Scheduler запускает две периодические задачи: автоподтверждение заказов
// с истёкшим окном и двухфазную проверку сроков переговоров. Каждая задача
// идемпотентна, сбой одного элемента не прерывает прогон.
type Scheduler struct {
	orders       OrderLister
	confirmer    OrderConfirmer
	negotiations NegotiationSweeper
	audit        AuditRecorder
	notifier     service.Notifier

	autoConfirmInterval time.Duration
	expirationInterval  time.Duration

	now func() time.Time
}

func NewScheduler(
	orders OrderLister,
	confirmer OrderConfirmer,
	negotiations NegotiationSweeper,
	audit AuditRecorder,
	notifier service.Notifier,
	autoConfirmInterval, expirationInterval time.Duration,
) *Scheduler {
	return &Scheduler{
		orders:              orders,
		confirmer:           confirmer,
		negotiations:        negotiations,
		audit:               audit,
		notifier:            notifier,
		autoConfirmInterval: autoConfirmInterval,
		expirationInterval:  expirationInterval,
		now:                 time.Now,
	}
}

// Start запускает обе задачи в фоновых горутинах до отмены контекста.
func (s *Scheduler) Start(ctx context.Context) {
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		s.runLoop(ctx, "auto_confirm", s.autoConfirmInterval, func(ctx context.Context) {
			s.RunAutoConfirm(ctx)
		})
	})
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		s.runLoop(ctx, "expiration", s.expirationInterval, func(ctx context.Context) {
			s.RunExpiration(ctx)
		})
	})
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Log.WithField("job", name).WithField("interval", interval.String()).Info("фоновая задача запущена")
	for {
		select {
		case <-ctx.Done():
			logger.Log.WithField("job", name).Info("фоновая задача остановлена")
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// RunAutoConfirm подтверждает все заказы с истёкшим окном подтверждения.
// Гонка с ручным подтверждением разрешается проверкой статуса внутри
// транзакции перехода: проигравший наблюдает изменённый статус и
// пропускается без ошибки.
func (s *Scheduler) RunAutoConfirm(ctx context.Context) AutoConfirmResult {
	result := AutoConfirmResult{Errors: []string{}}

	orders, err := s.orders.ListAutoConfirmable(ctx, s.now())
	if err != nil {
		logger.Log.WithError(err).Error("автоподтверждение: не удалось выбрать заказы")
		metrics.JobRuns.WithLabelValues("auto_confirm", metrics.OutcomeError).Inc()
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	for _, order := range orders {
		result.Processed++
		if _, err := s.confirmer.AutoConfirm(ctx, order.ID); err != nil {
			if apperror.IsInvalidState(err) {
				logger.Log.WithField("order_id", order.ID).Info("автоподтверждение: заказ уже обработан, пропуск")
				continue
			}
			logger.Log.WithError(err).WithField("order_id", order.ID).Error("автоподтверждение: сбой по заказу")
			metrics.JobItemErrors.WithLabelValues("auto_confirm").Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", order.ID, err))
			continue
		}
		result.Confirmed++
	}

	metrics.JobRuns.WithLabelValues("auto_confirm", metrics.OutcomeOK).Inc()
	logger.Log.WithField("processed", result.Processed).WithField("confirmed", result.Confirmed).Info("автоподтверждение: прогон завершён")
	return result
}

// RunExpiration выполняет двухфазную проверку сроков переговоров:
// сначала предупреждает о скором истечении, затем закрывает просроченные.
func (s *Scheduler) RunExpiration(ctx context.Context) ExpirationResult {
	var result ExpirationResult
	now := s.now()

	expiring, err := s.negotiations.ListExpiringBetween(ctx, now.Add(expiryWarnFrom), now.Add(expiryWarnTo))
	if err != nil {
		logger.Log.WithError(err).Error("проверка сроков: не удалось выбрать истекающие переговоры")
		metrics.JobRuns.WithLabelValues("expiration", metrics.OutcomeError).Inc()
		return result
	}
	for _, negotiation := range expiring {
		result.ExpiringChecked++
		if s.warnExpiring(ctx, negotiation) {
			result.ExpiringNotified++
		}
	}

	expired, err := s.negotiations.ListExpired(ctx, now)
	if err != nil {
		logger.Log.WithError(err).Error("проверка сроков: не удалось выбрать просроченные переговоры")
		metrics.JobRuns.WithLabelValues("expiration", metrics.OutcomeError).Inc()
		return result
	}
	for _, negotiation := range expired {
		result.ExpiredChecked++
		if s.expire(ctx, negotiation) {
			result.ExpiredCount++
		}
	}

	metrics.JobRuns.WithLabelValues("expiration", metrics.OutcomeOK).Inc()
	logger.Log.WithField("expiring_notified", result.ExpiringNotified).WithField("expired", result.ExpiredCount).Info("проверка сроков: прогон завершён")
	return result
}

// warnExpiring шлёт одно предупреждение на переговоры,
// дедуплицируя по записи в истории.
func (s *Scheduler) warnExpiring(ctx context.Context, negotiation models.Negotiation) bool {
	already, err := s.negotiations.HasHistoryEvent(ctx, negotiation.ID, models.NegotiationEventExpiringSoon)
	if err != nil {
		logger.Log.WithError(err).WithField("negotiation_id", negotiation.ID).Error("проверка сроков: сбой чтения истории")
		metrics.JobItemErrors.WithLabelValues("expiration").Inc()
		return false
	}
	if already {
		return false
	}

	if err := s.negotiations.AddHistoryEvent(ctx, negotiation.ID, models.NegotiationEventExpiringSoon); err != nil {
		logger.Log.WithError(err).WithField("negotiation_id", negotiation.ID).Error("проверка сроков: сбой записи истории")
		metrics.JobItemErrors.WithLabelValues("expiration").Inc()
		return false
	}

	s.notifier.Notify(ctx, "negotiation.expiring_soon", negotiation.ID,
		[]uuid.UUID{negotiation.RequesterID, negotiation.ProviderID},
		map[string]interface{}{
			"negotiation_id": negotiation.ID,
			"expires_at":     negotiation.ExpiresAt,
		})
	return true
}

// expire переводит просроченные переговоры в конечный статус.
// MarkExpired затрагивает только строки в статусе pending, поэтому повторный
// прогон и гонка с принятием заканчиваются безвредным no-op.
func (s *Scheduler) expire(ctx context.Context, negotiation models.Negotiation) bool {
	expired, err := s.negotiations.MarkExpired(ctx, negotiation.ID)
	if err != nil {
		logger.Log.WithError(err).WithField("negotiation_id", negotiation.ID).Error("проверка сроков: сбой закрытия переговоров")
		metrics.JobItemErrors.WithLabelValues("expiration").Inc()
		return false
	}
	if !expired {
		return false
	}

	if err := s.negotiations.AddHistoryEvent(ctx, negotiation.ID, models.NegotiationEventExpired); err != nil {
		logger.Log.WithError(err).WithField("negotiation_id", negotiation.ID).Warn("проверка сроков: сбой записи истории")
	}
	if err := s.audit.Record(ctx, &models.AuditEntry{
		CorrelationID: uuid.New(),
		Action:        models.AuditActionNegotiationExpired,
		Details:       json.RawMessage(fmt.Sprintf(`{"negotiation_id":%q}`, negotiation.ID)),
	}); err != nil {
		logger.Log.WithError(err).WithField("negotiation_id", negotiation.ID).Warn("проверка сроков: сбой записи аудита")
	}

	s.notifier.Notify(ctx, "negotiation.expired", negotiation.ID,
		[]uuid.UUID{negotiation.RequesterID, negotiation.ProviderID},
		map[string]interface{}{
			"negotiation_id": negotiation.ID,
		})
	return true
}
