package services

import (
	stderrors "errors"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/protocol"
	"sfulink/internal/core/session"
	serrors "sfulink/pkg/errors"
	"sfulink/pkg/tracing"
)

func transportError(id domain.StreamID, cause error) error {
	if cause == nil {
		cause = domain.ErrChannelClosed
	}
	return serrors.Wrap(cause, serrors.KindTransport, string(id), "signaling channel lost")
}

// fail applies the failure policy. Publishers close, leave the desired set
// and notify exactly once.
// Subscribers reconnect: immediately with cleared backoff when media was
// flowing, otherwise on the scheduler's timer.
func (m *SessionManager) fail(s *session.PeerSession, err error) {
	kind := serrors.KindOf(err)
	tracing.RecordError(s.Ctx, err)
	m.logger.Warnw("session failed",
		"stream_id", s.StreamID,
		"role", s.Role,
		"state", s.State.String(),
		"generation", s.Generation,
		"kind", kind.String(),
		"error", err,
	)

	if s.Publisher() {
		m.removeDesired(s.StreamID)
		m.closeSession(s, kind.String())
		m.notify(s, err)
		m.reevaluateQuality()
		return
	}

	if kind == serrors.KindResourceExhaustion {
		m.notify(s, err)
	}

	established := s.State == domain.StateFlowing
	fresh := m.restart(s)

	if established {
		m.scheduler.Clear(s.StreamID)
		m.negotiate(fresh)
		return
	}
	if m.scheduler.Arm(s.StreamID) {
		m.metrics.ReconnectScheduled(s.StreamID, m.scheduler.Delay(s.StreamID))
	}
}

// onTimer handles a start timeout or a scheduled retry.
func (m *SessionManager) onTimer(id domain.StreamID, token uint64) {
	if !m.scheduler.Fired(id, token) {
		return
	}
	s, ok := m.registry.Get(id)
	if !ok {
		m.scheduler.Clear(id)
		return
	}
	if s.State == domain.StateFlowing || s.Terminal() {
		return
	}

	timeout := serrors.New(serrors.KindTimeout, string(id), "media did not start within "+m.scheduler.Delay(id).String())
	if s.Publisher() {
		m.fail(s, timeout)
		return
	}

	delay := m.scheduler.Escalate(id)
	m.logger.Infow("retrying subscriber", "stream_id", id, "state", s.State.String(), "next_wait", delay)
	tracing.RecordError(s.Ctx, timeout)

	m.negotiate(m.restart(s))
}

// restart tears down the current attempt and replaces it with a fresh
// RECONNECTING session for the same stream.
func (m *SessionManager) restart(s *session.PeerSession) *session.PeerSession {
	m.teardown(s)
	if s.State != domain.StateReconnecting {
		m.transition(s, domain.StateReconnecting)
	}

	fresh := session.New(s.StreamID, s.Role, domain.StateReconnecting, m.nextGeneration(), s.OriginalProfile, m.clock.Now())
	fresh.Profile = s.Profile
	if err := m.registry.Replace(fresh); err != nil {
		m.logger.Errorw("failed to replace session", "stream_id", s.StreamID, "error", err)
	}
	return fresh
}

// teardown releases everything the current attempt holds. The stop message is
// dropped by the channel when it is not open.
func (m *SessionManager) teardown(s *session.PeerSession) {
	if s.Attached {
		if sink, ok := m.sinkFor(s.StreamID); ok {
			if err := sink.Detach(s.StreamID); err != nil {
				m.logger.Debugw("failed to detach sink", "stream_id", s.StreamID, "error", err)
			}
		}
	}
	if s.Engine != nil {
		if err := s.Engine.Dispose(); err != nil {
			m.logger.Debugw("failed to dispose engine", "stream_id", s.StreamID, "error", err)
		}
	}
	if s.StartSent {
		if err := m.channel.Send(protocol.NewStop(s.StreamID, s.Role)); err != nil {
			m.logger.Debugw("failed to send stop", "stream_id", s.StreamID, "error", err)
		}
		s.StartSent = false
	}
	s.Reset()
	s.EndSpan()
}

// closeSession moves s to CLOSED and removes it from the registry.
func (m *SessionManager) closeSession(s *session.PeerSession, reason string) {
	m.teardown(s)
	m.transition(s, domain.StateClosed)
	m.scheduler.Clear(s.StreamID)
	if _, err := m.registry.Destroy(s.StreamID); err != nil && !stderrors.Is(err, domain.ErrSessionNotFound) {
		m.logger.Warnw("failed to destroy session", "stream_id", s.StreamID, "error", err)
	}
	m.logger.Infow("session closed", "stream_id", s.StreamID, "role", s.Role, "reason", reason)
}

func (m *SessionManager) notify(s *session.PeerSession, err error) {
	n := domain.Notification{
		StreamID: s.StreamID,
		Role:     s.Role,
		Kind:     serrors.KindOf(err).String(),
		Message:  serrors.UserMessage(err),
		At:       m.clock.Now(),
	}
	var se *serrors.Error
	if stderrors.As(err, &se) {
		n.Code = se.Code
	}

	m.metrics.NotificationRaised(n.Kind)
	if m.notifier != nil {
		m.notifier.Notify(m.ctx, n)
	}
}

func (m *SessionManager) applyDesired(update domain.DesiredUpdate) {
	m.desired = update

	now, deferred := m.diff.Plan(update, m.registry.Keys())
	for _, id := range now.ToDisconnect {
		if s, ok := m.registry.Get(id); ok {
			m.closeSession(s, "no longer desired")
		}
	}
	for _, ds := range now.ToConnect {
		m.connect(ds)
	}
	if deferred {
		m.diff.Defer(func() { m.post(m.connectPending) })
	}

	m.diff.ObserveFloor(update)
	m.reevaluateQuality()

	m.logger.Debugw("desired streams applied",
		"desired", len(update.Streams),
		"connected", len(now.ToConnect),
		"disconnected", len(now.ToDisconnect),
		"deferred", deferred,
	)
}

// connectPending connects every desired stream that has no session yet.
func (m *SessionManager) connectPending() {
	d := Diff(m.desired.Streams, m.registry.Keys())
	for _, ds := range d.ToConnect {
		m.connect(ds)
	}
	if len(d.ToConnect) > 0 {
		m.reevaluateQuality()
	}
}

func (m *SessionManager) connect(ds domain.DesiredStream) {
	s := session.New(ds.StreamID, ds.Role, domain.StateNew, m.nextGeneration(), m.cfg.DefaultProfile, m.clock.Now())
	if s.Publisher() {
		s.Profile = m.quality.ProfileFor(s.StreamID, s.OriginalProfile)
	}
	if err := m.registry.Create(s); err != nil {
		m.logger.Warnw("failed to create session", "stream_id", ds.StreamID, "error", err)
		return
	}
	m.logger.Infow("session created", "stream_id", s.StreamID, "role", s.Role, "generation", s.Generation)
	m.negotiate(s)
}

func (m *SessionManager) removeDesired(id domain.StreamID) {
	kept := m.desired.Streams[:0:0]
	for _, ds := range m.desired.Streams {
		if ds.StreamID != id {
			kept = append(kept, ds)
		}
	}
	m.desired.Streams = kept
}

// reevaluateQuality reapplies publisher profiles when the tier or floor changed.
func (m *SessionManager) reevaluateQuality() {
	publishers := m.registry.CountByRole(domain.RolePublisher)
	tier, changed := m.quality.Evaluate(publishers, m.diff.Floor())
	if !changed {
		return
	}

	m.metrics.QualityTierChanged(tier)
	m.logger.Infow("quality tier changed", "tier", tier, "publishers", publishers, "floor", m.diff.Floor())

	for _, s := range m.registry.All() {
		if s.Publisher() {
			m.applyProfile(s)
		}
	}
}

func (m *SessionManager) applyProfile(s *session.PeerSession) {
	p := m.quality.ProfileFor(s.StreamID, s.OriginalProfile)
	if p.ID == s.Profile.ID {
		return
	}
	s.Profile = p
	tracing.AddSpanAttributes(s.Ctx, tracing.ProfileKey.String(p.ID))
	if s.Engine == nil {
		return
	}
	if err := s.Engine.SetProfile(p); err != nil {
		m.logger.Warnw("failed to apply profile", "stream_id", s.StreamID, "profile", p.ID, "error", err)
	}
}
