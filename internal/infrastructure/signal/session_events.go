package signal

import (
	"context"
	"errors"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	webrtcinfra "github.com/verawat1234/tchat-sub013/internal/infrastructure/webrtc"
)

type SessionEvent = webrtcinfra.SessionEvent

// OnSessionEvent registers fn to run on the dispatcher goroutine after the
// gateway has handled each peer session event.
func (s *WebSocketServer) OnSessionEvent(fn func(ctx context.Context, ev SessionEvent)) {
	s.sessionHooks = append(s.sessionHooks, fn)
}

// RunSessionEvents is the single consumer of the peer session event channel.
// It returns when ctx is done or events is closed.
func (s *WebSocketServer) RunSessionEvents(ctx context.Context, events <-chan SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleSessionEvent(ctx, ev)
		}
	}
}

func (s *WebSocketServer) handleSessionEvent(ctx context.Context, ev SessionEvent) {
	switch {
	case ev.Kind == webrtcinfra.EventLocalCandidate && ev.Candidate != nil:
		if b := s.rooms.broadcaster(ev.StreamID); b != nil {
			s.deliver(b, newMessage(TypeICECandidate, ev.StreamID, "", ICECandidateData{Candidate: *ev.Candidate}))
		}

	case ev.Terminal():
		s.logger.Infow("peer session ended", "stream_id", ev.StreamID, "connection_state", ev.State)
		if s.sessions != nil {
			if err := s.sessions.CloseSession(ev.StreamID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
				s.logger.Warnw("failed to close peer session", "stream_id", ev.StreamID, "error", err)
			}
		}

	case ev.Kind == webrtcinfra.EventLayerSwitched:
		s.logger.Debugw("simulcast layer switched", "stream_id", ev.StreamID, "rid", ev.RID)
	}

	for _, fn := range s.sessionHooks {
		fn(ctx, ev)
	}
}
