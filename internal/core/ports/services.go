package ports

import (
	"context"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/protocol"
)

// SignalingChannel is the persistent duplex channel to the relay
type SignalingChannel interface {
	Open(ctx context.Context) error
	Send(msg *protocol.Message) error
	State() domain.ChannelState
	OnOpen(fn func())
	OnClose(fn func(err error))
	OnMessage(fn func(msg *protocol.Message))
	OnRTT(fn func(rtt time.Duration))
	Close() error
}

// CredentialFetcher yields ICE servers. It never fails: on error it returns a fallback list.
type CredentialFetcher interface {
	Fetch(ctx context.Context) []domain.ICEServer
}

// Notifier receives user-visible error reports
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Sink is the attachment target for a stream's media
type Sink interface {
	Attach(streamID domain.StreamID, role domain.Role, media Media) error
	Detach(streamID domain.StreamID) error
}

// DesiredStreamProvider pushes desired-set updates until ctx is done
type DesiredStreamProvider interface {
	Run(ctx context.Context, emit func(domain.DesiredUpdate)) error
}

// MetricsRecorder receives session lifecycle measurements
type MetricsRecorder interface {
	SessionTransition(role domain.Role, from, to domain.SessionState)
	ReconnectScheduled(streamID domain.StreamID, delay time.Duration)
	NegotiationCompleted(role domain.Role, d time.Duration)
	NotificationRaised(kind string)
	ICECandidateBuffered(direction string)
	QualityTierChanged(tier int)
	ObserveRTT(rtt time.Duration)
	ConnectionLevelChanged(level domain.ConnectionLevel)
	QueuedMessages(n int)
}
