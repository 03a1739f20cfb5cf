package services

import (
	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"
	"sfulink/internal/core/protocol"
	"sfulink/internal/core/session"
	serrors "sfulink/pkg/errors"
	"sfulink/pkg/logger"
	"sfulink/pkg/tracing"
)

// negotiate starts a fresh attempt for s: credential fetch, engine creation,
// local description, then the start request.
func (m *SessionManager) negotiate(s *session.PeerSession) {
	id, gen := s.StreamID, s.Generation
	s.Ctx, s.Span = tracing.TraceNegotiation(m.ctx, string(id), string(s.Role), s.AttemptID, gen)
	s.Ctx = logger.WithAttemptID(logger.WithStreamID(s.Ctx, string(id)), s.AttemptID)

	ctx := s.Ctx
	m.async(func() {
		servers := m.credentials.Fetch(ctx)
		m.post(func() { m.onCredentials(id, gen, servers) })
	})
}

func (m *SessionManager) onCredentials(id domain.StreamID, gen uint64, servers []domain.ICEServer) {
	s, ok := m.current(id, gen)
	if !ok || s.Engine != nil {
		m.logger.Debugw("dropping stale credential result", "stream_id", id, "generation", gen)
		return
	}

	engine, err := m.engines.NewEngine(s.Ctx, ports.EngineConfig{
		StreamID:   id,
		Role:       s.Role,
		ICEServers: servers,
		Profile:    s.Profile,
	})
	if err != nil {
		m.fail(s, serrors.Wrap(err, serrors.KindNegotiation, string(id), "failed to create engine"))
		return
	}
	s.Engine = engine

	engine.OnLocalCandidate(func(c domain.ICECandidate) {
		m.post(func() { m.onLocalCandidate(id, gen, c) })
	})
	engine.OnConnectionStateChange(func(state domain.TransportState) {
		m.post(func() { m.onTransportState(id, gen, state) })
	})
	engine.OnMediaReady(func() {
		m.post(func() { m.onMediaReady(id, gen) })
	})

	// local preview is bound before the relay confirms the flow
	if s.Publisher() {
		m.tryAttach(s)
	}

	ctx := s.Ctx
	m.async(func() {
		sdp, err := engine.CreateLocalDescription(ctx)
		m.post(func() { m.onLocalDescription(id, gen, sdp, err) })
	})
}

func (m *SessionManager) onLocalDescription(id domain.StreamID, gen uint64, sdp string, err error) {
	s, ok := m.current(id, gen)
	if !ok || (s.State != domain.StateNew && s.State != domain.StateReconnecting) {
		m.logger.Debugw("dropping stale local description", "stream_id", id, "generation", gen)
		return
	}
	if err != nil {
		m.fail(s, serrors.Wrap(err, serrors.KindNegotiation, string(id), "failed to create local description"))
		return
	}

	if !m.transition(s, domain.StateOfferSent) {
		return
	}
	s.StartSent = true
	s.OfferAt = m.clock.Now()

	start := protocol.NewStart(protocol.StartParams{
		StreamID: id,
		Role:     s.Role,
		SDPOffer: sdp,
		Bitrate:  s.Profile.Bitrate,
		Meeting:  m.cfg.Meeting,
	})
	if err := m.channel.Send(start); err != nil {
		m.logger.Errorw("failed to send start", "stream_id", id, "error", err)
	}

	if m.scheduler.Arm(id) {
		m.metrics.ReconnectScheduled(id, m.scheduler.Delay(id))
	}

	m.logger.Infow("start request sent",
		"stream_id", id,
		"role", s.Role,
		"generation", gen,
		"attempt_id", s.AttemptID,
		"wait", m.scheduler.Delay(id),
	)
}

func (m *SessionManager) onLocalCandidate(id domain.StreamID, gen uint64, c domain.ICECandidate) {
	s, ok := m.current(id, gen)
	if !ok {
		return
	}
	if !s.SDPAnswered {
		s.QueueOutbound(c)
		m.metrics.ICECandidateBuffered("outbound")
		return
	}
	if err := m.channel.Send(protocol.NewOnIceCandidate(id, s.Role, c)); err != nil {
		m.logger.Warnw("failed to send local candidate", "stream_id", id, "error", err)
	}
}

func (m *SessionManager) onTransportState(id domain.StreamID, gen uint64, state domain.TransportState) {
	s, ok := m.current(id, gen)
	if !ok {
		return
	}

	m.logger.Debugw("engine connection state", "stream_id", id, "state", state)
	switch state {
	case domain.TransportFailed, domain.TransportClosed:
		m.fail(s, serrors.New(serrors.KindIce, string(id), "peer connection "+string(state)))
	}
}

func (m *SessionManager) onMediaReady(id domain.StreamID, gen uint64) {
	if s, ok := m.current(id, gen); ok {
		m.tryAttach(s)
	}
}

// tryAttach binds media to the stream's sink once: publishers as soon as local
// media exists, subscribers only while FLOWING.
func (m *SessionManager) tryAttach(s *session.PeerSession) {
	if s.Attached || s.Engine == nil {
		return
	}
	if !s.Publisher() && s.State != domain.StateFlowing {
		return
	}
	sink, ok := m.sinkFor(s.StreamID)
	if !ok {
		return
	}
	media := s.Engine.Media()
	if !media.Available(s.Role) {
		return
	}

	if err := sink.Attach(s.StreamID, s.Role, media); err != nil {
		m.logger.Warnw("failed to attach media", "stream_id", s.StreamID, "error", err)
		return
	}
	s.Attached = true

	if !s.Publisher() {
		if err := s.Engine.RequestKeyframe(); err != nil {
			m.logger.Debugw("keyframe request failed", "stream_id", s.StreamID, "error", err)
		}
	}
}

func (m *SessionManager) handleMessage(msg *protocol.Message) {
	_, span := tracing.TraceSignalMessage(m.ctx, string(msg.ID), string(msg.Target()))
	defer span.End()

	switch msg.ID {
	case protocol.IDStartResponse:
		m.onStartResponse(msg)
	case protocol.IDPlayStart:
		m.onPlayStart(msg)
	case protocol.IDPlayStop:
		m.onPlayStop(msg)
	case protocol.IDIceCandidate:
		m.onRemoteCandidate(msg)
	case protocol.IDError:
		m.onServerError(msg)
	case protocol.IDPong, protocol.IDPing:
	default:
		m.logger.Warnw("ignoring unexpected message", "id", msg.ID, "stream_id", msg.Target())
	}
}

func (m *SessionManager) lookup(msg *protocol.Message) (*session.PeerSession, bool) {
	s, ok := m.registry.Get(msg.Target())
	if !ok || s.Terminal() {
		m.logger.Debugw("message for unknown stream", "id", msg.ID, "stream_id", msg.Target())
		return nil, false
	}
	return s, true
}

func (m *SessionManager) onStartResponse(msg *protocol.Message) {
	s, ok := m.lookup(msg)
	if !ok {
		return
	}
	if s.State != domain.StateOfferSent || s.Engine == nil {
		m.logger.Warnw("unexpected startResponse",
			"stream_id", s.StreamID,
			"state", s.State.String(),
			"error", serrors.New(serrors.KindProtocol, string(s.StreamID), "answer outside OFFER_SENT"),
		)
		return
	}

	if err := s.Engine.ApplyRemoteDescription(msg.SDPAnswer); err != nil {
		m.fail(s, serrors.Wrap(err, serrors.KindNegotiation, string(s.StreamID), "remote description rejected"))
		return
	}
	s.SDPAnswered = true
	m.transition(s, domain.StateAnswered)
	m.metrics.NegotiationCompleted(s.Role, m.clock.Since(s.OfferAt))

	for _, c := range s.TakeOutbound() {
		if err := m.channel.Send(protocol.NewOnIceCandidate(s.StreamID, s.Role, c)); err != nil {
			m.logger.Warnw("failed to flush local candidate", "stream_id", s.StreamID, "error", err)
		}
	}
	for _, c := range s.TakeInbound() {
		if err := s.Engine.AddRemoteCandidate(c); err != nil {
			m.logger.Warnw("failed to add buffered remote candidate", "stream_id", s.StreamID, "error", err)
		}
	}
}

func (m *SessionManager) onPlayStart(msg *protocol.Message) {
	s, ok := m.lookup(msg)
	if !ok {
		return
	}
	if s.State == domain.StateFlowing {
		return
	}
	if s.State != domain.StateAnswered {
		m.logger.Warnw("unexpected playStart", "stream_id", s.StreamID, "state", s.State.String())
		return
	}

	m.transition(s, domain.StateFlowing)
	m.scheduler.Clear(s.StreamID)
	s.EndSpan()
	m.tryAttach(s)

	m.logger.Infow("media flowing", "stream_id", s.StreamID, "role", s.Role, "generation", s.Generation)
}

func (m *SessionManager) onPlayStop(msg *protocol.Message) {
	s, ok := m.lookup(msg)
	if !ok {
		return
	}
	m.closeSession(s, "playStop")
	if s.Publisher() {
		m.reevaluateQuality()
	}
}

func (m *SessionManager) onRemoteCandidate(msg *protocol.Message) {
	s, ok := m.lookup(msg)
	if !ok {
		return
	}
	if msg.Candidate == nil {
		m.logger.Warnw("iceCandidate without candidate", "stream_id", s.StreamID)
		return
	}
	if !s.StartSent {
		// belongs to a torn down attempt
		return
	}
	if !s.SDPAnswered {
		s.QueueInbound(*msg.Candidate)
		m.metrics.ICECandidateBuffered("inbound")
		return
	}
	if err := s.Engine.AddRemoteCandidate(*msg.Candidate); err != nil {
		m.logger.Warnw("failed to add remote candidate", "stream_id", s.StreamID, "error", err)
	}
}

func (m *SessionManager) onServerError(msg *protocol.Message) {
	err := serrors.FromSFU(string(msg.Target()), msg.Code, msg.Reason)
	s, ok := m.lookup(msg)
	if !ok {
		m.logger.Warnw("relay error for unknown stream", "error", err)
		return
	}
	m.fail(s, err)
}
