package domain

import "fmt"

type StreamID string

type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// ParseRole accepts both domain names and the relay's wire names.
func ParseRole(s string) (Role, error) {
	switch s {
	case "publisher", "share":
		return RolePublisher, nil
	case "subscriber", "viewer":
		return RoleSubscriber, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// DesiredStream is one entry of the externally supplied stream list
type DesiredStream struct {
	StreamID StreamID `json:"stream_id" yaml:"stream_id" binding:"required"`
	Role     Role     `json:"role" yaml:"role" binding:"required"`
	IsFloor  bool     `json:"is_floor" yaml:"is_floor"`
}

// DesiredUpdate replaces the desired stream list. PageChanged marks updates
// caused by pagination rather than membership changes.
type DesiredUpdate struct {
	Streams     []DesiredStream `json:"streams" yaml:"streams"`
	PageChanged bool            `json:"page_changed" yaml:"page_changed"`
}

// Floor returns the floor stream of the update, if any.
func (u DesiredUpdate) Floor() StreamID {
	for _, s := range u.Streams {
		if s.IsFloor {
			return s.StreamID
		}
	}
	return ""
}

// Normalize checks every entry and rewrites wire role names to domain names.
func (u DesiredUpdate) Normalize() (DesiredUpdate, error) {
	out := DesiredUpdate{PageChanged: u.PageChanged, Streams: make([]DesiredStream, 0, len(u.Streams))}
	seen := make(map[StreamID]bool, len(u.Streams))
	for i, s := range u.Streams {
		if s.StreamID == "" {
			return out, fmt.Errorf("stream %d: %w", i, ErrEmptyStreamID)
		}
		if seen[s.StreamID] {
			return out, fmt.Errorf("stream %s: %w", s.StreamID, ErrDuplicateStream)
		}
		seen[s.StreamID] = true
		role, err := ParseRole(string(s.Role))
		if err != nil {
			return out, fmt.Errorf("stream %s: %w", s.StreamID, err)
		}
		s.Role = role
		out.Streams = append(out.Streams, s)
	}
	return out, nil
}

// Profile is a named encoding constraint for published video
type Profile struct {
	ID        string `json:"id" yaml:"id"`
	Bitrate   int    `json:"bitrate" yaml:"bitrate"` // kbps
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	FrameRate int    `json:"frame_rate" yaml:"frame_rate"`
}

// ICEServer is a STUN or TURN server usable by the engine
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// MeetingInfo is the metadata sent with every start request
type MeetingInfo struct {
	MeetingID   string
	VoiceBridge string
	UserID      string
	UserName    string
	Record      bool
}
