package protocol

import (
	"encoding/json"
	"fmt"

	"sfulink/internal/core/domain"
	serrors "sfulink/pkg/errors"
)

// ID selects the message kind
type ID string

const (
	IDStart          ID = "start"
	IDStartResponse  ID = "startResponse"
	IDStop           ID = "stop"
	IDPlayStart      ID = "playStart"
	IDPlayStop       ID = "playStop"
	IDIceCandidate   ID = "iceCandidate"
	IDOnIceCandidate ID = "onIceCandidate"
	IDPing           ID = "ping"
	IDPong           ID = "pong"
	IDError          ID = "error"
)

const mediaType = "video"

var known = map[ID]struct{}{
	IDStart: {}, IDStartResponse: {}, IDStop: {}, IDPlayStart: {}, IDPlayStop: {},
	IDIceCandidate: {}, IDOnIceCandidate: {}, IDPing: {}, IDPong: {}, IDError: {},
}

// Message is the JSON envelope exchanged with the relay
type Message struct {
	ID          ID                   `json:"id"`
	Type        string               `json:"type,omitempty"`
	CameraID    string               `json:"cameraId,omitempty"`
	Role        string               `json:"role,omitempty"`
	SDPOffer    string               `json:"sdpOffer,omitempty"`
	SDPAnswer   string               `json:"sdpAnswer,omitempty"`
	Candidate   *domain.ICECandidate `json:"candidate,omitempty"`
	MeetingID   string               `json:"meetingId,omitempty"`
	VoiceBridge string               `json:"voiceBridge,omitempty"`
	UserID      string               `json:"userId,omitempty"`
	UserName    string               `json:"userName,omitempty"`
	Bitrate     int                  `json:"bitrate,omitempty"`
	Record      bool                 `json:"record,omitempty"`

	// error messages identify the stream with streamId
	StreamID string `json:"streamId,omitempty"`
	Code     int    `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Target returns the stream the message refers to.
func (m *Message) Target() domain.StreamID {
	if m.CameraID != "" {
		return domain.StreamID(m.CameraID)
	}
	return domain.StreamID(m.StreamID)
}

// IsTeardown reports whether the message only tears down remote state.
func (m *Message) IsTeardown() bool {
	return m.ID == IDStop
}

// Decode parses an inbound frame. Malformed frames and unknown ids yield a protocol error.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, serrors.Wrap(err, serrors.KindProtocol, "", "malformed message")
	}
	if _, ok := known[msg.ID]; !ok {
		return nil, serrors.New(serrors.KindProtocol, string(msg.Target()), fmt.Sprintf("unknown message id %q", msg.ID))
	}
	return &msg, nil
}

// Encode serializes an outbound message
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.ID, err)
	}
	return data, nil
}

// WireRole maps a domain role to the relay's vocabulary
func WireRole(role domain.Role) string {
	if role == domain.RolePublisher {
		return "share"
	}
	return "viewer"
}

// StartParams carries the fields of a start request
type StartParams struct {
	StreamID domain.StreamID
	Role     domain.Role
	SDPOffer string
	Bitrate  int
	Meeting  domain.MeetingInfo
}

// NewStart builds the start request sent once the local offer exists
func NewStart(p StartParams) *Message {
	return &Message{
		ID:          IDStart,
		Type:        mediaType,
		CameraID:    string(p.StreamID),
		Role:        WireRole(p.Role),
		SDPOffer:    p.SDPOffer,
		MeetingID:   p.Meeting.MeetingID,
		VoiceBridge: p.Meeting.VoiceBridge,
		UserID:      p.Meeting.UserID,
		UserName:    p.Meeting.UserName,
		Bitrate:     p.Bitrate,
		Record:      p.Meeting.Record,
	}
}

// NewStop builds the teardown notification for a stream
func NewStop(streamID domain.StreamID, role domain.Role) *Message {
	return &Message{
		ID:       IDStop,
		Type:     mediaType,
		CameraID: string(streamID),
		Role:     WireRole(role),
	}
}

// NewOnIceCandidate builds an outbound local candidate message
func NewOnIceCandidate(streamID domain.StreamID, role domain.Role, c domain.ICECandidate) *Message {
	return &Message{
		ID:        IDOnIceCandidate,
		Type:      mediaType,
		CameraID:  string(streamID),
		Role:      WireRole(role),
		Candidate: &c,
	}
}

// NewPing builds a keepalive ping
func NewPing() *Message {
	return &Message{ID: IDPing}
}
