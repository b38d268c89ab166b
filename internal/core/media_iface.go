package core

import (
	"context"

	"github.com/dkeye/walkie/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// ConnState only moves forward: Negotiating -> Connected -> Closed.
type ConnState int32

const (
	StateNegotiating ConnState = iota
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LocalTrack is the outgoing capture track lent to every peer connection.
type LocalTrack interface {
	webrtc.TrackLocal
	Enabled() bool
}

// PeerConnection is one negotiated audio link to a single remote participant.
type PeerConnection interface {
	Peer() domain.ParticipantID
	Role() Role
	State() ConnState
	// ApplyRemoteSignal feeds the remote description. Each handle accepts
	// exactly one; anything else is ErrProtocolViolation.
	ApplyRemoteSignal(domain.Signal) error
	// ReplaceLocalTrack swaps outgoing audio without renegotiation.
	ReplaceLocalTrack(old, new LocalTrack) error
	CurrentTrack() LocalTrack
	// Close is idempotent.
	Close() error
}

// PeerCallbacks are invoked from transport goroutines; receivers must hop
// back onto their own loop before touching shared state.
type PeerCallbacks struct {
	OnSignal  func(domain.Signal)
	OnFailure func(error)
	OnTrack   func(*webrtc.TrackRemote)
}

// PeerDialer constructs handles in either role.
type PeerDialer interface {
	Call(ctx context.Context, peer domain.ParticipantID, cfg webrtc.Configuration, track LocalTrack, cb PeerCallbacks) (PeerConnection, error)
	Answer(ctx context.Context, peer domain.ParticipantID, cfg webrtc.Configuration, track LocalTrack, offer domain.Signal, cb PeerCallbacks) (PeerConnection, error)
}
