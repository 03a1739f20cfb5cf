package domain

import "time"

// Notification is a user-visible error report
type Notification struct {
	StreamID StreamID  `json:"stream_id"`
	Role     Role      `json:"role"`
	Kind     string    `json:"kind"`
	Code     int       `json:"code,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// ConnectionLevel grades signaling round-trip time
type ConnectionLevel int

const (
	LevelNormal ConnectionLevel = iota
	LevelWarning
	LevelDanger
	LevelCritical
)

func (l ConnectionLevel) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelDanger:
		return "danger"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// MarshalText renders the level name in JSON output
func (l ConnectionLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ConnectionStatus is the latest connection quality assessment
type ConnectionStatus struct {
	Level     ConnectionLevel `json:"level"`
	LastRTT   time.Duration   `json:"last_rtt"`
	UpdatedAt time.Time       `json:"updated_at"`
}
