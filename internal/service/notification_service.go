package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dealhub/escrow-backend/internal/goroutine"
	"github.com/dealhub/escrow-backend/internal/logger"
	"github.com/dealhub/escrow-backend/internal/models"
)

// NotificationStore - хранилище уведомлений.
type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Pusher доставляет событие в открытые подключения пользователя.
type Pusher interface {
	Push(userID uuid.UUID, event string, data any) error
}

// NotificationService сохраняет уведомления и рассылает их по WebSocket.
// Доставка выполняется по принципу fire-and-forget: сбой логируется и
// никогда не влияет на вызвавший переход.
type NotificationService struct {
	store  NotificationStore
	pusher Pusher
}

func NewNotificationService(store NotificationStore, pusher Pusher) *NotificationService {
	return &NotificationService{store: store, pusher: pusher}
}

// Notify реализует интерфейс Notifier для сервисов заказов и споров.
func (s *NotificationService) Notify(ctx context.Context, eventKind string, subjectID uuid.UUID, recipients []uuid.UUID, payload map[string]interface{}) {
	raw, err := json.Marshal(map[string]interface{}{
		"type":       eventKind,
		"subject_id": subjectID,
		"data":       payload,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("event", eventKind).Error("не удалось сериализовать уведомление")
		return
	}

	for _, userID := range recipients {
		userID := userID
		goroutine.SafeGo(func() {
			notification := &models.Notification{
				UserID:  userID,
				Payload: raw,
			}
			if err := s.store.Create(context.WithoutCancel(ctx), notification); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"event":   eventKind,
					"user_id": userID,
				}).Error("не удалось сохранить уведомление")
			}
			if s.pusher != nil {
				if err := s.pusher.Push(userID, eventKind, json.RawMessage(raw)); err != nil {
					logger.Log.WithError(err).WithField("user_id", userID).Warn("не удалось отправить уведомление по WebSocket")
				}
			}
		})
	}
}

// List возвращает уведомления пользователя.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead помечает уведомление прочитанным.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	return s.store.MarkAsRead(ctx, id)
}

// CountUnread возвращает число непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.CountUnread(ctx, userID)
}
