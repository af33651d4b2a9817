package session

import "errors"

var (
	ErrSessionStopped = errors.New("session: stopped")
	ErrCancelled      = errors.New("session: cancelled")
	ErrConnectionLost = errors.New("session: connection lost")
)
