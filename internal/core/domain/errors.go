package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrUnknownRole       = errors.New("unknown role")
	ErrChannelClosed     = errors.New("signaling channel closed")
	ErrManagerNotRunning = errors.New("session manager not running")
	ErrEmptyStreamID     = errors.New("stream id is empty")
	ErrDuplicateStream   = errors.New("stream listed twice")
)
