package services

import (
	"context"
	"sync"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ConnectionStatusConfig holds the RTT boundaries of the warning, danger and
// critical levels, in that order.
type ConnectionStatusConfig struct {
	RTTLevels       []time.Duration
	RecoveryTimeout time.Duration
	NotifyFrom      domain.ConnectionLevel
}

// ConnectionStatusService grades signaling round-trip samples. A sample only
// raises the level; the level returns to normal after RecoveryTimeout without
// a sample above the lowest boundary.
type ConnectionStatusService struct {
	cfg      ConnectionStatusConfig
	clock    clock.Clock
	metrics  ports.MetricsRecorder
	notifier ports.Notifier
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	status   domain.ConnectionStatus
	recovery *clock.Timer
}

func NewConnectionStatusService(
	cfg ConnectionStatusConfig,
	clk clock.Clock,
	metrics ports.MetricsRecorder,
	notifier ports.Notifier,
	logger *zap.SugaredLogger,
) *ConnectionStatusService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &ConnectionStatusService{
		cfg:      cfg,
		clock:    clk,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger,
	}
}

// Observe feeds one round-trip sample
func (s *ConnectionStatusService) Observe(rtt time.Duration) {
	s.metrics.ObserveRTT(rtt)

	level := domain.LevelNormal
	for i := len(s.cfg.RTTLevels) - 1; i >= 0; i-- {
		if rtt >= s.cfg.RTTLevels[i] {
			level = domain.ConnectionLevel(i + 1)
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.LastRTT = rtt
	if level == domain.LevelNormal {
		return
	}

	if level > s.status.Level {
		s.setLevel(level)
	}
	s.restartRecovery()
}

// Status returns the current assessment
func (s *ConnectionStatusService) Status() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stop cancels the recovery timer
func (s *ConnectionStatusService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recovery != nil {
		s.recovery.Stop()
		s.recovery = nil
	}
}

// restartRecovery must be called with mu held.
func (s *ConnectionStatusService) restartRecovery() {
	if s.recovery != nil {
		s.recovery.Stop()
	}
	s.recovery = s.clock.AfterFunc(s.cfg.RecoveryTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.recovery = nil
		s.setLevel(domain.LevelNormal)
	})
}

// setLevel must be called with mu held.
func (s *ConnectionStatusService) setLevel(level domain.ConnectionLevel) {
	if s.status.Level == level {
		return
	}
	prev := s.status.Level
	s.status.Level = level
	s.status.UpdatedAt = s.clock.Now()
	s.metrics.ConnectionLevelChanged(level)

	s.logger.Infow("connection status changed",
		"from", prev.String(),
		"to", level.String(),
		"rtt_ms", s.status.LastRTT.Milliseconds(),
	)

	if s.notifier != nil && s.cfg.NotifyFrom > domain.LevelNormal && level >= s.cfg.NotifyFrom {
		s.notifier.Notify(context.Background(), domain.Notification{
			Kind:    "connection_status",
			Message: "connection quality is " + level.String(),
			At:      s.status.UpdatedAt,
		})
	}
}
