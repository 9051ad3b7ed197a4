package webrtc

import (
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

type layerTrack struct {
	layer   domain.SimulcastLayer
	track   *webrtc.TrackLocalStaticRTP
	sender  *webrtc.RTPSender
	stopped bool
}

type peerSession struct {
	streamID  domain.StreamID
	pc        *webrtc.PeerConnection
	createdAt time.Time

	mu       sync.RWMutex
	layers   map[string]*layerTrack
	attached bool
	active   string
	pending  string
	inbound  map[string]webrtc.SSRC
	taps     map[int]func(*rtp.Packet)
	nextTap  int
	tapRID   string
}

func newPeerSession(streamID domain.StreamID, pc *webrtc.PeerConnection, layers []domain.SimulcastLayer) (*peerSession, error) {
	s := &peerSession{
		streamID:  streamID,
		pc:        pc,
		createdAt: time.Now(),
		layers:    make(map[string]*layerTrack, len(layers)),
		inbound:   make(map[string]webrtc.SSRC),
		taps:      make(map[int]func(*rtp.Packet)),
	}

	for i, l := range layers {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video-"+l.RID,
			string(streamID),
		)
		if err != nil {
			return nil, err
		}
		s.layers[l.RID] = &layerTrack{layer: l, track: track}
		if i == 0 {
			s.active = l.RID
		}
		s.tapRID = l.RID
	}
	return s, nil
}

// attach adds every layer track to the peer connection once.
func (s *peerSession) attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return nil
	}
	for _, lt := range s.orderedLocked() {
		sender, err := s.pc.AddTrack(lt.track)
		if err != nil {
			return err
		}
		lt.sender = sender
		go drainRTCP(sender)
	}
	s.attached = true
	return nil
}

func (s *peerSession) orderedLocked() []*layerTrack {
	out := make([]*layerTrack, 0, len(s.layers))
	for _, l := range domain.Layers() {
		if lt, ok := s.layers[l.RID]; ok {
			out = append(out, lt)
		}
	}
	return out
}

// forward routes one inbound packet. rid is empty for a publisher that does
// not simulcast, in which case the packet feeds whatever layer is active.
func (s *peerSession) forward(rid, mimeType string, pkt *rtp.Packet) (switched string) {
	s.mu.Lock()
	if s.pending != "" && (rid == s.pending || rid == "") && isKeyframe(mimeType, pkt) {
		s.active = s.pending
		s.pending = ""
		switched = s.active
	}
	var out *webrtc.TrackLocalStaticRTP
	if rid == "" || rid == s.active {
		if lt, ok := s.layers[s.active]; ok && !lt.stopped {
			out = lt.track
		}
	}
	var taps []func(*rtp.Packet)
	if rid == "" || rid == s.tapRID {
		taps = make([]func(*rtp.Packet), 0, len(s.taps))
		for _, fn := range s.taps {
			taps = append(taps, fn)
		}
	}
	s.mu.Unlock()

	if out != nil {
		_ = out.WriteRTP(pkt)
	}
	for _, fn := range taps {
		fn(pkt)
	}
	return switched
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
