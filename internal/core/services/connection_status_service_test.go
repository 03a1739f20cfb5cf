package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"sfulink/internal/core/domain"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) All() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.sent...)
}

func newTestStatus() (*ConnectionStatusService, *clock.Mock, *recordingNotifier) {
	mock := clock.NewMock()
	notifier := &recordingNotifier{}
	svc := NewConnectionStatusService(ConnectionStatusConfig{
		RTTLevels:       []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
		RecoveryTimeout: 30 * time.Second,
		NotifyFrom:      domain.LevelCritical,
	}, mock, nil, notifier, zap.NewNop().Sugar())
	return svc, mock, notifier
}

func TestConnectionStatus_LevelsOnlyRise(t *testing.T) {
	svc, _, _ := newTestStatus()

	svc.Observe(100 * time.Millisecond)
	assert.Equal(t, domain.LevelNormal, svc.Status().Level)

	svc.Observe(1200 * time.Millisecond)
	assert.Equal(t, domain.LevelDanger, svc.Status().Level)

	svc.Observe(600 * time.Millisecond)
	assert.Equal(t, domain.LevelDanger, svc.Status().Level, "lower sample does not lower the level")
	assert.Equal(t, 600*time.Millisecond, svc.Status().LastRTT)
}

func TestConnectionStatus_RecoversAfterTimeout(t *testing.T) {
	svc, mock, _ := newTestStatus()

	svc.Observe(700 * time.Millisecond)
	assert.Equal(t, domain.LevelWarning, svc.Status().Level)

	mock.Add(20 * time.Second)
	svc.Observe(700 * time.Millisecond) // restarts the recovery window
	mock.Add(20 * time.Second)
	assert.Equal(t, domain.LevelWarning, svc.Status().Level)

	mock.Add(10 * time.Second)
	assert.Eventually(t, func() bool {
		return svc.Status().Level == domain.LevelNormal
	}, time.Second, 5*time.Millisecond)
}

func TestConnectionStatus_NotifiesFromConfiguredLevel(t *testing.T) {
	svc, _, notifier := newTestStatus()

	svc.Observe(1500 * time.Millisecond)
	assert.Empty(t, notifier.All())

	svc.Observe(3 * time.Second)
	if assert.Len(t, notifier.All(), 1) {
		assert.Equal(t, "connection_status", notifier.All()[0].Kind)
	}
	svc.Stop()
}
