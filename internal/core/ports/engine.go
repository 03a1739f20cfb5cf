package ports

import (
	"context"
	"time"

	"sfulink/internal/core/domain"

	"github.com/pion/rtp"
)

// RemoteTrack is the received media of a subscriber session
type RemoteTrack interface {
	ID() string
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
}

// LocalTrack is the outgoing media of a publisher session
type LocalTrack interface {
	ID() string
	MimeType() string
	WriteSample(data []byte, duration time.Duration) error
}

// Media is what a sink binds to. Only the side matching the session role is set.
type Media struct {
	Local  LocalTrack
	Remote RemoteTrack
}

// Available reports whether media for the role exists yet.
func (m Media) Available(role domain.Role) bool {
	if role == domain.RolePublisher {
		return m.Local != nil
	}
	return m.Remote != nil
}

// EngineConfig parametrizes one peer-connection engine instance
type EngineConfig struct {
	StreamID   domain.StreamID
	Role       domain.Role
	ICEServers []domain.ICEServer
	Profile    domain.Profile
}

// Engine is the opaque peer-connection implementation driven by a session.
// Callbacks may fire on any goroutine.
type Engine interface {
	CreateLocalDescription(ctx context.Context) (string, error)
	ApplyRemoteDescription(sdp string) error
	AddRemoteCandidate(candidate domain.ICECandidate) error
	Media() Media
	SetProfile(profile domain.Profile) error
	RequestKeyframe() error
	OnLocalCandidate(fn func(domain.ICECandidate))
	OnConnectionStateChange(fn func(domain.TransportState))
	OnMediaReady(fn func())
	Dispose() error
}

// EngineFactory creates engines
type EngineFactory interface {
	NewEngine(ctx context.Context, cfg EngineConfig) (Engine, error)
}
