package services

import (
	"context"
	"sync"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"

	"go.uber.org/zap"
)

// NotificationService logs user-visible notifications, keeps the most recent
// ones for the admin API and forwards each to the registered notifiers.
type NotificationService struct {
	logger  *zap.SugaredLogger
	targets []ports.Notifier

	mu      sync.RWMutex
	history []domain.Notification
	next    int
	full    bool
}

func NewNotificationService(capacity int, logger *zap.SugaredLogger, targets ...ports.Notifier) *NotificationService {
	if capacity <= 0 {
		capacity = 100
	}
	return &NotificationService{
		logger:  logger,
		targets: targets,
		history: make([]domain.Notification, capacity),
	}
}

func (s *NotificationService) Notify(ctx context.Context, n domain.Notification) {
	s.logger.Warnw("notification",
		"stream_id", n.StreamID,
		"role", n.Role,
		"kind", n.Kind,
		"code", n.Code,
		"message", n.Message,
	)

	s.mu.Lock()
	s.history[s.next] = n
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()

	for _, t := range s.targets {
		t.Notify(ctx, n)
	}
}

// Recent returns up to limit notifications, newest first. A limit of zero
// returns the whole history.
func (s *NotificationService) Recent(limit int) []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.history)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]domain.Notification, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.history)) % len(s.history)
		out = append(out, s.history[idx])
	}
	return out
}
