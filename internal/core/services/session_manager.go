package services

import (
	"context"
	"fmt"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"
	"sfulink/internal/core/protocol"
	"sfulink/internal/core/session"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// SessionRegistry stores the live sessions. The manager loop is its only writer.
type SessionRegistry interface {
	Create(s *session.PeerSession) error
	Replace(s *session.PeerSession) error
	Get(id domain.StreamID) (*session.PeerSession, bool)
	Destroy(id domain.StreamID) (*session.PeerSession, error)
	Keys() []domain.StreamID
	All() []*session.PeerSession
	CountByRole(role domain.Role) int
}

// ManagerConfig holds the session manager parameters
type ManagerConfig struct {
	BaseTimeout        time.Duration
	MaxTimeout         time.Duration
	PageChangeDebounce time.Duration
	PaginationEnabled  bool
	Meeting            domain.MeetingInfo
	DefaultProfile     domain.Profile
	EventBuffer        int
}

// ManagerDeps are the collaborators of the session manager
type ManagerDeps struct {
	Registry    SessionRegistry
	Channel     ports.SignalingChannel
	Engines     ports.EngineFactory
	Credentials ports.CredentialFetcher
	Notifier    ports.Notifier
	Metrics     ports.MetricsRecorder
	Quality     *QualityService
	DefaultSink ports.Sink
	Clock       clock.Clock
}

// SessionManager runs every session state machine on a single event loop.
// Channel, engine and timer callbacks are posted to the loop as closures, so
// the registry, scheduler, sink table and quality state have a single owner.
type SessionManager struct {
	cfg         ManagerConfig
	registry    SessionRegistry
	channel     ports.SignalingChannel
	engines     ports.EngineFactory
	credentials ports.CredentialFetcher
	notifier    ports.Notifier
	metrics     ports.MetricsRecorder
	quality     *QualityService
	diff        *StreamDiffEngine
	scheduler   *ReconnectScheduler
	clock       clock.Clock
	logger      *zap.SugaredLogger

	events chan func()
	done   chan struct{}
	ctx    context.Context

	// async runs the two suspension points of a negotiation off the loop
	async func(func())

	sinks       map[domain.StreamID]ports.Sink
	defaultSink ports.Sink
	desired     domain.DesiredUpdate
	generation  uint64
}

func NewSessionManager(cfg ManagerConfig, deps ManagerDeps, logger *zap.SugaredLogger) (*SessionManager, error) {
	if deps.Registry == nil || deps.Channel == nil || deps.Engines == nil || deps.Credentials == nil {
		return nil, fmt.Errorf("session manager requires registry, channel, engine factory and credential fetcher")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Quality == nil {
		q, err := NewQualityService(QualityConfig{})
		if err != nil {
			return nil, err
		}
		deps.Quality = q
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	m := &SessionManager{
		cfg:         cfg,
		registry:    deps.Registry,
		channel:     deps.Channel,
		engines:     deps.Engines,
		credentials: deps.Credentials,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		quality:     deps.Quality,
		diff:        NewStreamDiffEngine(cfg.PageChangeDebounce, cfg.PaginationEnabled),
		clock:       deps.Clock,
		logger:      logger,
		events:      make(chan func(), cfg.EventBuffer),
		done:        make(chan struct{}),
		ctx:         context.Background(),
		async:       func(f func()) { go f() },
		sinks:       make(map[domain.StreamID]ports.Sink),
		defaultSink: deps.DefaultSink,
	}
	m.scheduler = NewReconnectScheduler(deps.Clock, cfg.BaseTimeout, cfg.MaxTimeout, func(id domain.StreamID, token uint64) {
		m.post(func() { m.onTimer(id, token) })
	})

	m.channel.OnOpen(func() { m.post(m.onChannelOpen) })
	m.channel.OnClose(func(err error) { m.post(func() { m.onChannelClosed(err) }) })
	m.channel.OnMessage(func(msg *protocol.Message) { m.post(func() { m.handleMessage(msg) }) })

	return m, nil
}

// Run opens the signaling channel and processes events until ctx is done.
// On exit every session is stopped and the channel is closed.
func (m *SessionManager) Run(ctx context.Context) error {
	m.ctx = ctx
	defer m.shutdown()

	if err := m.channel.Open(ctx); err != nil {
		return fmt.Errorf("failed to open signaling channel: %w", err)
	}
	m.logger.Infow("session manager started",
		"base_timeout", m.cfg.BaseTimeout,
		"max_timeout", m.cfg.MaxTimeout,
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-m.events:
			fn()
		}
	}
}

// UpdateDesired replaces the desired stream set
func (m *SessionManager) UpdateDesired(update domain.DesiredUpdate) {
	update.Streams = append([]domain.DesiredStream(nil), update.Streams...)
	m.post(func() { m.applyDesired(update) })
}

// Stop closes the session of a stream and drops it from the desired set
func (m *SessionManager) Stop(ctx context.Context, id domain.StreamID) error {
	var err error
	callErr := m.call(ctx, func() {
		m.removeDesired(id)
		s, ok := m.registry.Get(id)
		if !ok {
			err = domain.ErrSessionNotFound
			return
		}
		m.closeSession(s, "explicit stop")
		m.reevaluateQuality()
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// RegisterSink sets the attachment target of a stream
func (m *SessionManager) RegisterSink(id domain.StreamID, sink ports.Sink) {
	m.post(func() {
		m.sinks[id] = sink
		if s, ok := m.registry.Get(id); ok {
			m.tryAttach(s)
		}
	})
}

// UnregisterSink detaches and removes the attachment target of a stream
func (m *SessionManager) UnregisterSink(id domain.StreamID) {
	m.post(func() {
		sink, ok := m.sinks[id]
		if !ok {
			return
		}
		if s, exists := m.registry.Get(id); exists && s.Attached {
			if err := sink.Detach(id); err != nil {
				m.logger.Warnw("failed to detach sink", "stream_id", id, "error", err)
			}
			s.Attached = false
		}
		delete(m.sinks, id)
	})
}

// Snapshot returns a view of every live session
func (m *SessionManager) Snapshot(ctx context.Context) ([]domain.SessionSnapshot, error) {
	var snaps []domain.SessionSnapshot
	err := m.call(ctx, func() {
		for _, s := range m.registry.All() {
			snaps = append(snaps, s.Snapshot(m.scheduler.Delay(s.StreamID)))
		}
	})
	return snaps, err
}

// Desired returns the current desired update
func (m *SessionManager) Desired(ctx context.Context) (domain.DesiredUpdate, error) {
	var out domain.DesiredUpdate
	err := m.call(ctx, func() {
		out = m.desired
		out.Streams = append([]domain.DesiredStream(nil), m.desired.Streams...)
	})
	return out, err
}

func (m *SessionManager) post(fn func()) {
	select {
	case m.events <- fn:
	case <-m.done:
	}
}

// call runs fn on the loop and waits for it
func (m *SessionManager) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}

	select {
	case m.events <- wrapped:
	case <-m.done:
		return domain.ErrManagerNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-m.done:
		return domain.ErrManagerNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) nextGeneration() uint64 {
	m.generation++
	return m.generation
}

// current returns the live session of id if it still belongs to generation gen.
func (m *SessionManager) current(id domain.StreamID, gen uint64) (*session.PeerSession, bool) {
	s, ok := m.registry.Get(id)
	if !ok || s.Generation != gen || s.Terminal() {
		return nil, false
	}
	return s, true
}

func (m *SessionManager) transition(s *session.PeerSession, next domain.SessionState) bool {
	prev := s.State
	if err := s.Transition(next); err != nil {
		m.logger.Warnw("rejected session transition",
			"stream_id", s.StreamID,
			"generation", s.Generation,
			"error", err,
		)
		return false
	}
	m.metrics.SessionTransition(s.Role, prev, next)
	m.logger.Debugw("session transition",
		"stream_id", s.StreamID,
		"role", s.Role,
		"generation", s.Generation,
		"from", prev.String(),
		"to", next.String(),
	)
	return true
}

func (m *SessionManager) sinkFor(id domain.StreamID) (ports.Sink, bool) {
	if sink, ok := m.sinks[id]; ok {
		return sink, true
	}
	if m.defaultSink != nil {
		return m.defaultSink, true
	}
	return nil, false
}

func (m *SessionManager) onChannelOpen() {
	m.logger.Infow("signaling channel open", "sessions", len(m.registry.Keys()))
	m.connectPending()
}

func (m *SessionManager) onChannelClosed(err error) {
	m.logger.Warnw("signaling channel closed", "error", err, "sessions", len(m.registry.Keys()))
	for _, id := range m.registry.Keys() {
		s, ok := m.registry.Get(id)
		if !ok || s.Terminal() {
			continue
		}
		m.fail(s, transportError(id, err))
	}
}

func (m *SessionManager) shutdown() {
	m.scheduler.ClearAll()
	for _, s := range m.registry.All() {
		m.closeSession(s, "shutdown")
	}
	// channel callbacks blocked in post must see done before Close waits on them
	close(m.done)
	if err := m.channel.Close(); err != nil {
		m.logger.Warnw("failed to close signaling channel", "error", err)
	}
	m.logger.Info("session manager stopped")
}
