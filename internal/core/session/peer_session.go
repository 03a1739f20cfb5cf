package session

import (
	"context"
	"fmt"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

var transitions = map[domain.SessionState][]domain.SessionState{
	domain.StateNew:          {domain.StateOfferSent, domain.StateReconnecting, domain.StateClosed},
	domain.StateOfferSent:    {domain.StateAnswered, domain.StateReconnecting, domain.StateClosed},
	domain.StateAnswered:     {domain.StateFlowing, domain.StateReconnecting, domain.StateClosed},
	domain.StateFlowing:      {domain.StateReconnecting, domain.StateClosed},
	domain.StateReconnecting: {domain.StateOfferSent, domain.StateClosed},
}

// PeerSession is one negotiation attempt for a stream. A reconnect replaces the
// whole value with a fresh one carrying a higher generation.
type PeerSession struct {
	StreamID   domain.StreamID
	Role       domain.Role
	State      domain.SessionState
	Generation uint64
	AttemptID  string

	Engine      ports.Engine
	SDPAnswered bool
	Attached    bool
	StartSent   bool

	Profile         domain.Profile
	OriginalProfile domain.Profile

	CreatedAt time.Time
	OfferAt   time.Time

	// negotiation span, ended on FLOWING or teardown
	Ctx  context.Context
	Span trace.Span

	inbound  []domain.ICECandidate
	outbound []domain.ICECandidate
}

// New creates a session in the given initial state (NEW or RECONNECTING).
func New(streamID domain.StreamID, role domain.Role, state domain.SessionState, generation uint64, original domain.Profile, now time.Time) *PeerSession {
	return &PeerSession{
		StreamID:        streamID,
		Role:            role,
		State:           state,
		Generation:      generation,
		AttemptID:       uuid.NewString(),
		Profile:         original,
		OriginalProfile: original,
		CreatedAt:       now,
		Ctx:             context.Background(),
	}
}

// Transition moves the session to next if the state machine allows it.
func (s *PeerSession) Transition(next domain.SessionState) error {
	for _, allowed := range transitions[s.State] {
		if allowed == next {
			s.State = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.State, next)
}

// Terminal reports whether the session reached CLOSED
func (s *PeerSession) Terminal() bool {
	return s.State == domain.StateClosed
}

// Publisher reports whether the session publishes local media
func (s *PeerSession) Publisher() bool {
	return s.Role == domain.RolePublisher
}

// QueueInbound buffers a remote candidate received before the answer was applied
func (s *PeerSession) QueueInbound(c domain.ICECandidate) {
	s.inbound = append(s.inbound, c)
}

// QueueOutbound buffers a local candidate generated before the answer was applied
func (s *PeerSession) QueueOutbound(c domain.ICECandidate) {
	s.outbound = append(s.outbound, c)
}

// TakeInbound returns buffered remote candidates in arrival order and empties the buffer.
func (s *PeerSession) TakeInbound() []domain.ICECandidate {
	q := s.inbound
	s.inbound = nil
	return q
}

// TakeOutbound returns buffered local candidates in arrival order and empties the buffer.
func (s *PeerSession) TakeOutbound() []domain.ICECandidate {
	q := s.outbound
	s.outbound = nil
	return q
}

// Pending returns the number of buffered inbound and outbound candidates
func (s *PeerSession) Pending() (inbound, outbound int) {
	return len(s.inbound), len(s.outbound)
}

// Reset drops the engine and every buffer. The caller disposes the engine.
func (s *PeerSession) Reset() {
	s.Engine = nil
	s.SDPAnswered = false
	s.Attached = false
	s.inbound = nil
	s.outbound = nil
}

// EndSpan closes the negotiation span once
func (s *PeerSession) EndSpan() {
	if s.Span != nil {
		s.Span.End()
		s.Span = nil
	}
}

// Snapshot returns a read-only view
func (s *PeerSession) Snapshot(reconnectDelay time.Duration) domain.SessionSnapshot {
	return domain.SessionSnapshot{
		StreamID:       s.StreamID,
		Role:           s.Role,
		State:          s.State,
		Generation:     s.Generation,
		AttemptID:      s.AttemptID,
		SDPAnswered:    s.SDPAnswered,
		Attached:       s.Attached,
		Profile:        s.Profile.ID,
		ReconnectDelay: reconnectDelay,
		CreatedAt:      s.CreatedAt,
	}
}
