package domain

import "time"

type SessionState int

const (
	StateNew SessionState = iota
	StateOfferSent
	StateAnswered
	StateFlowing
	StateReconnecting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateOfferSent:
		return "OFFER_SENT"
	case StateAnswered:
		return "ANSWERED"
	case StateFlowing:
		return "FLOWING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON output
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape used on the wire
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// TransportState is the engine connection state as seen by the session layer
type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// ChannelState is the signaling channel state
type ChannelState int

const (
	ChannelClosed ChannelState = iota
	ChannelConnecting
	ChannelOpen
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "CONNECTING"
	case ChannelOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// SessionSnapshot is a read-only view of a session for the admin API
type SessionSnapshot struct {
	StreamID       StreamID      `json:"stream_id"`
	Role           Role          `json:"role"`
	State          SessionState  `json:"state"`
	Generation     uint64        `json:"generation"`
	AttemptID      string        `json:"attempt_id"`
	SDPAnswered    bool          `json:"sdp_answered"`
	Attached       bool          `json:"attached"`
	Profile        string        `json:"profile,omitempty"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	CreatedAt      time.Time     `json:"created_at"`
}
