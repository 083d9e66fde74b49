package notify

import (
	"context"

	"recruitflow/internal/domain"
	"recruitflow/internal/store"
)

// Sink persists notifications and pushes them to live subscribers.
// Persistence is authoritative; the push is best-effort and can never
// fail a create.
type Sink struct {
	store store.Store
	hub   *Hub
}

// NewSink builds a sink. hub may be nil when real-time push is disabled.
func NewSink(st store.Store, hub *Hub) *Sink {
	return &Sink{store: st, hub: hub}
}

func (s *Sink) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.UserID == "" {
		return domain.Notification{}, domain.Invalid("user_id", "is required")
	}
	if n.Title == "" {
		return domain.Notification{}, domain.Invalid("title", "is required")
	}
	if n.Message == "" {
		return domain.Notification{}, domain.Invalid("message", "is required")
	}
	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return domain.Notification{}, err
	}
	if s.hub != nil {
		s.hub.Publish(created)
	}
	return created, nil
}

func (s *Sink) List(ctx context.Context, f store.NotificationFilter) ([]domain.Notification, error) {
	return s.store.ListNotifications(ctx, f)
}

func (s *Sink) CountUnread(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

func (s *Sink) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkRead(ctx, id)
}

func (s *Sink) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllRead(ctx, userID)
}
