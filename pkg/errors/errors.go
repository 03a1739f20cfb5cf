package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a session failure
type Kind int

const (
	KindNegotiation        Kind = iota + 1 // Remote description rejected
	KindIce                                // Candidate or connectivity failure
	KindResourceExhaustion                 // Relay reports no server resources
	KindTimeout                            // No media flow within the scheduled wait
	KindProtocol                           // Malformed or unrecognized message
	KindTransport                          // Signaling channel closed or unreachable
)

func (k Kind) String() string {
	switch k {
	case KindNegotiation:
		return "negotiation"
	case KindIce:
		return "ice"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error codes reported by the relay in error messages
const (
	CodeMediaServerConnection = 2000
	CodeMediaServerOffline    = 2001
	CodeNoResources           = 2002
	CodeRequestTimeout        = 2003
	CodeServerICEGathering    = 2021
	CodeServerICEState        = 2022
	CodeMediaGeneric          = 2200
	CodeInvalidSDP            = 2202
	CodeNoCodec               = 2203
)

// Sentinels for errors.Is matching by kind
var (
	ErrNegotiation        = &Error{Kind: KindNegotiation}
	ErrIce                = &Error{Kind: KindIce}
	ErrResourceExhaustion = &Error{Kind: KindResourceExhaustion}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrProtocol           = &Error{Kind: KindProtocol}
	ErrTransport          = &Error{Kind: KindTransport}
)

// Error is a classified session failure
type Error struct {
	Kind     Kind
	StreamID string
	Code     int
	Message  string
	Cause    error
}

// Error implements error interface
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.StreamID != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.StreamID)
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s code=%d", msg, e.Code)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind, and on code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// New creates a classified error for a stream
func New(kind Kind, streamID, message string) *Error {
	return &Error{Kind: kind, StreamID: streamID, Message: message}
}

// Wrap classifies an existing error
func Wrap(err error, kind Kind, streamID, message string) *Error {
	return &Error{Kind: kind, StreamID: streamID, Message: message, Cause: err}
}

// FromSFU classifies an error message received from the relay.
// Unknown codes are treated as negotiation failures.
func FromSFU(streamID string, code int, reason string) *Error {
	kind := KindNegotiation
	switch code {
	case CodeMediaServerConnection, CodeMediaServerOffline:
		kind = KindTransport
	case CodeNoResources:
		kind = KindResourceExhaustion
	case CodeRequestTimeout:
		kind = KindTimeout
	case CodeServerICEGathering, CodeServerICEState:
		kind = KindIce
	}
	return &Error{Kind: kind, StreamID: streamID, Code: code, Message: reason}
}

// KindOf extracts the kind from an error chain; unclassified errors are transport errors.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// Is reports whether err has the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// UserMessage renders a notification text for err.
func UserMessage(err error) string {
	var e *Error
	if !stderrors.As(err, &e) {
		return "video connection failed"
	}
	switch e.Code {
	case CodeMediaServerConnection:
		return "could not connect to the media server"
	case CodeMediaServerOffline:
		return "media server is offline"
	case CodeNoResources:
		return "media server has no available resources"
	case CodeRequestTimeout:
		return "media server request timed out"
	case CodeServerICEGathering:
		return "media server failed to gather ICE candidates"
	case CodeServerICEState:
		return "media server ICE connection failed"
	case CodeMediaGeneric:
		return "media server error"
	case CodeInvalidSDP:
		return "media server rejected the session description"
	case CodeNoCodec:
		return "no compatible video codec"
	}
	switch e.Kind {
	case KindNegotiation:
		return "video negotiation failed"
	case KindIce:
		return "video connectivity failed"
	case KindTimeout:
		return "video did not start in time"
	case KindTransport:
		return "signaling connection lost"
	case KindResourceExhaustion:
		return "media server has no available resources"
	default:
		return "video connection failed"
	}
}
