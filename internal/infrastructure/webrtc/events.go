package webrtc

import (
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

type EventKind string

const (
	EventStateChange    EventKind = "state"
	EventLocalCandidate EventKind = "candidate"
	EventTrack          EventKind = "track"
	EventLayerSwitched  EventKind = "layer"
	EventClosed         EventKind = "closed"
)

// SessionEvent is emitted on the manager's event channel for every
// connection state change, local ICE candidate, incoming track, completed
// layer switch and session close.
type SessionEvent struct {
	StreamID  domain.StreamID
	Kind      EventKind
	State     webrtc.PeerConnectionState
	Candidate *webrtc.ICECandidateInit
	RID       string
	At        time.Time
}

// Terminal reports whether the session can no longer carry media.
func (e SessionEvent) Terminal() bool {
	return e.Kind == EventStateChange &&
		(e.State == webrtc.PeerConnectionStateFailed || e.State == webrtc.PeerConnectionStateClosed)
}
