package core

import "errors"

var (
	// ErrDeviceUnavailable means no capture device could be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrProtocolViolation is returned when a handle receives a remote
	// signal it cannot accept, e.g. a second answer.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrNegotiationFailure covers ICE failure and negotiation timeout.
	ErrNegotiationFailure = errors.New("negotiation failure")

	ErrClosed       = errors.New("connection closed")
	ErrNotJoined    = errors.New("session not joined")
	ErrBackpressure = errors.New("backpressure")
)
