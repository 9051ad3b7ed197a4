package ports

import (
	"context"
	"io"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type PeerSessions interface {
	CreateSession(ctx context.Context, streamID domain.StreamID) error
	HandleOffer(ctx context.Context, streamID domain.StreamID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AddICECandidate(streamID domain.StreamID, candidate webrtc.ICECandidateInit) error
	CloseSession(streamID domain.StreamID) error
}

type ViewerCoordinator interface {
	PublishViewerJoin(ctx context.Context, streamID domain.StreamID, viewerID domain.UserID) error
	PublishViewerLeave(ctx context.Context, streamID domain.StreamID, viewerID domain.UserID) error
	ViewerCount(ctx context.Context, streamID domain.StreamID) (int64, error)
}

type Authenticator interface {
	Authenticate(token string) (domain.UserID, error)
}

type Notifier interface {
	StreamTerminated(ctx context.Context, stream *domain.Stream, reason string) error
}

// Encoder turns a live media input into segmented files under outputDir.
type Encoder interface {
	Start(ctx context.Context, input io.Reader, outputDir string) (EncodeProcess, error)
}

type EncodeProcess interface {
	// Cancel asks the process to finish and flush its output.
	Cancel()
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	Err() error
}

// LayerController exposes the transport statistics of a stream's peer
// session and lets the quality loop choose which simulcast layer is forwarded.
type LayerController interface {
	Stats(ctx context.Context, streamID domain.StreamID) (domain.StatsSample, error)
	SetActiveLayer(streamID domain.StreamID, rid string) error
}
