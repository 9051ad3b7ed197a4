package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/monitoring"
)

const eventBuffer = 256

var ErrLayerStopped = errors.New("simulcast layer is stopped")

// SFUService owns one peer session per stream. Connection callbacks are
// turned into SessionEvents on a single channel; nothing else reacts to them.
type SFUService struct {
	config  WebRTCConfig
	api     *webrtc.API
	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[domain.StreamID]*peerSession

	events chan SessionEvent
	now    func() time.Time
}

func NewSFUService(config WebRTCConfig, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) (*SFUService, error) {
	if len(config.Layers) == 0 {
		config.Layers = domain.Layers()
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = 5 * time.Second
	}
	if config.GatherTimeout <= 0 {
		config.GatherTimeout = 2 * time.Second
	}

	api, err := newAPI(config)
	if err != nil {
		return nil, err
	}

	return &SFUService{
		config:   config,
		api:      api,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[domain.StreamID]*peerSession),
		events:   make(chan SessionEvent, eventBuffer),
		now:      time.Now,
	}, nil
}

// Events is the single stream of session notifications.
func (s *SFUService) Events() <-chan SessionEvent {
	return s.events
}

func (s *SFUService) emit(ev SessionEvent) {
	ev.At = s.now()
	select {
	case s.events <- ev:
	default:
		s.logger.Warnw("session event dropped, dispatcher is behind",
			"stream_id", ev.StreamID,
			"kind", ev.Kind,
		)
	}
}

func (s *SFUService) CreateSession(ctx context.Context, streamID domain.StreamID) error {
	_, err := s.createSession(streamID)
	return err
}

func (s *SFUService) createSession(streamID domain.StreamID) (*peerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[streamID]; exists {
		return nil, domain.ErrSessionExists
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   s.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session, err := newPeerSession(streamID, pc, s.config.Layers)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create layer tracks: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.emit(SessionEvent{StreamID: streamID, Kind: EventLocalCandidate, Candidate: &init})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed",
			"stream_id", streamID,
			"connection_state", state,
		)
		s.emit(SessionEvent{StreamID: streamID, Kind: EventStateChange, State: state})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.handleTrack(session, track)
	})

	s.sessions[streamID] = session
	s.logger.Infow("peer session created", "stream_id", streamID)
	return session, nil
}

func (s *SFUService) session(streamID domain.StreamID) (*peerSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[streamID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// HandleOffer applies offer to the stream's session, creating it if needed,
// attaches the simulcast layer tracks and returns the answer.
func (s *SFUService) HandleOffer(ctx context.Context, streamID domain.StreamID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	start := s.now()

	session, err := s.session(streamID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		session, err = s.createSession(streamID)
		if errors.Is(err, domain.ErrSessionExists) {
			session, err = s.session(streamID)
		}
	}
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := session.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}
	if err := session.attach(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to attach layer tracks: %w", err)
	}

	answer, err := session.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(session.pc)
	if err := session.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	// Candidates gathered after the deadline still reach the client as
	// trickle events.
	gatherCtx, cancel := context.WithTimeout(ctx, s.config.GatherTimeout)
	defer cancel()
	select {
	case <-gatherComplete:
	case <-gatherCtx.Done():
		s.logger.Debugw("answering before ice gathering completed", "stream_id", streamID)
	}

	if local := session.pc.LocalDescription(); local != nil {
		answer = *local
	}

	s.metrics.RecordSessionOpened(s.now().Sub(start))
	return answer, nil
}

func (s *SFUService) AddICECandidate(streamID domain.StreamID, candidate webrtc.ICECandidateInit) error {
	session, err := s.session(streamID)
	if err != nil {
		return err
	}
	return session.pc.AddICECandidate(candidate)
}

// CloseSession removes the session and closes its connection, waiting at
// most CloseTimeout. The session is gone from the registry either way.
func (s *SFUService) CloseSession(streamID domain.StreamID) error {
	s.mu.Lock()
	session, ok := s.sessions[streamID]
	delete(s.sessions, streamID)
	s.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}

	done := make(chan error, 1)
	go func() { done <- session.pc.Close() }()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warnw("error closing peer connection", "stream_id", streamID, "error", err)
		}
	case <-time.After(s.config.CloseTimeout):
		s.logger.Warnw("peer connection close timed out",
			"stream_id", streamID,
			"timeout", s.config.CloseTimeout,
		)
	}

	session.mu.RLock()
	attached := session.attached
	session.mu.RUnlock()
	if attached {
		s.metrics.RecordSessionClosed()
	}
	s.emit(SessionEvent{StreamID: streamID, Kind: EventClosed})
	s.logger.Infow("peer session closed", "stream_id", streamID, "lifetime", s.now().Sub(session.createdAt))
	return nil
}

// Close tears down every session.
func (s *SFUService) Close() {
	s.mu.RLock()
	ids := make([]domain.StreamID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id domain.StreamID) {
			defer wg.Done()
			_ = s.CloseSession(id)
		}(id)
	}
	wg.Wait()
}

func (s *SFUService) HasSession(streamID domain.StreamID) bool {
	_, err := s.session(streamID)
	return err == nil
}

func (s *SFUService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats samples the transport statistics of the stream's session.
func (s *SFUService) Stats(ctx context.Context, streamID domain.StreamID) (domain.StatsSample, error) {
	session, err := s.session(streamID)
	if err != nil {
		return domain.StatsSample{}, err
	}
	return sampleFromReport(session.pc.GetStats(), s.now()), nil
}

// SetActiveLayer schedules a switch to rid. The switch takes effect on the
// next keyframe of that layer; a PLI is sent to hurry it along.
func (s *SFUService) SetActiveLayer(streamID domain.StreamID, rid string) error {
	session, err := s.session(streamID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	lt, ok := session.layers[rid]
	if !ok {
		session.mu.Unlock()
		return domain.ErrLayerNotFound
	}
	if lt.stopped {
		session.mu.Unlock()
		return ErrLayerStopped
	}
	if session.active == rid {
		session.pending = ""
		session.mu.Unlock()
		return nil
	}
	session.pending = rid
	ssrc, known := session.inbound[rid]
	if !known {
		ssrc, known = session.inbound[""]
	}
	session.mu.Unlock()

	if known {
		if err := session.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}); err != nil {
			s.logger.Debugw("failed to send PLI", "stream_id", streamID, "rid", rid, "error", err)
		}
	}

	s.logger.Debugw("layer switch pending keyframe", "stream_id", streamID, "rid", rid)
	return nil
}

// ActiveLayer returns the RID currently forwarded and any pending switch.
func (s *SFUService) ActiveLayer(streamID domain.StreamID) (active, pending string, err error) {
	session, err := s.session(streamID)
	if err != nil {
		return "", "", err
	}
	session.mu.RLock()
	defer session.mu.RUnlock()
	return session.active, session.pending, nil
}

// StopLayer detaches one layer's sender. The layer stays negotiated and can
// be resumed.
func (s *SFUService) StopLayer(streamID domain.StreamID, rid string) error {
	return s.setLayerStopped(streamID, rid, true)
}

func (s *SFUService) ResumeLayer(streamID domain.StreamID, rid string) error {
	return s.setLayerStopped(streamID, rid, false)
}

func (s *SFUService) setLayerStopped(streamID domain.StreamID, rid string, stopped bool) error {
	session, err := s.session(streamID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	lt, ok := session.layers[rid]
	if !ok {
		return domain.ErrLayerNotFound
	}
	if lt.stopped == stopped {
		return nil
	}
	if lt.sender != nil {
		var track webrtc.TrackLocal
		if !stopped {
			track = lt.track
		}
		if err := lt.sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("failed to replace track for layer %s: %w", rid, err)
		}
	}
	lt.stopped = stopped
	if stopped && session.pending == rid {
		session.pending = ""
	}
	s.logger.Infow("simulcast layer toggled", "stream_id", streamID, "rid", rid, "stopped", stopped)
	return nil
}

// AddTap registers fn for every video packet of the top layer. fn runs on
// the media read loop and must not block.
func (s *SFUService) AddTap(streamID domain.StreamID, fn func(*rtp.Packet)) (func(), error) {
	session, err := s.session(streamID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	id := session.nextTap
	session.nextTap++
	session.taps[id] = fn
	session.mu.Unlock()

	return func() {
		session.mu.Lock()
		delete(session.taps, id)
		session.mu.Unlock()
	}, nil
}

func (s *SFUService) handleTrack(session *peerSession, track *webrtc.TrackRemote) {
	rid := track.RID()
	mimeType := track.Codec().MimeType

	s.logger.Infow("publisher track started",
		"stream_id", session.streamID,
		"track_id", track.ID(),
		"rid", rid,
		"codec", mimeType,
	)
	s.emit(SessionEvent{StreamID: session.streamID, Kind: EventTrack, RID: rid})

	if track.Kind() != webrtc.RTPCodecTypeVideo {
		go s.discard(track)
		return
	}

	session.mu.Lock()
	session.inbound[rid] = track.SSRC()
	session.mu.Unlock()

	go s.forwardTrack(session, track, rid, mimeType)
}

func (s *SFUService) forwardTrack(session *peerSession, track *webrtc.TrackRemote, rid, mimeType string) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.logger.Debugw("track read ended",
				"stream_id", session.streamID,
				"rid", rid,
				"error", err,
			)
			return
		}
		if switched := session.forward(rid, mimeType, pkt); switched != "" {
			s.emit(SessionEvent{StreamID: session.streamID, Kind: EventLayerSwitched, RID: switched})
		}
	}
}

func (s *SFUService) discard(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
