package services

import (
	"context"
	"fmt"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"

	"go.uber.org/zap"
)

// StreamService drives the live lifecycle of a stream: going live starts
// broadcaster revalidation, ending stops it and runs the end hooks.
type StreamService struct {
	streams ports.StreamStore
	viewers ports.ViewerCoordinator
	kyc     *KYCMonitor // Optional, can be nil
	abr     *AdaptiveBitrateService
	logger  *zap.SugaredLogger
	now     func() time.Time

	onEnded []func(ctx context.Context, streamID domain.StreamID)
}

func NewStreamService(
	streams ports.StreamStore,
	viewers ports.ViewerCoordinator,
	kyc *KYCMonitor,
	abr *AdaptiveBitrateService,
	logger *zap.SugaredLogger,
) *StreamService {
	return &StreamService{
		streams: streams,
		viewers: viewers,
		kyc:     kyc,
		abr:     abr,
		logger:  logger,
		now:     time.Now,
	}
}

// OnEnded registers a hook run after a stream ended or was terminated.
func (s *StreamService) OnEnded(fn func(ctx context.Context, streamID domain.StreamID)) {
	s.onEnded = append(s.onEnded, fn)
}

func (s *StreamService) GetStream(ctx context.Context, streamID domain.StreamID) (*domain.Stream, error) {
	return s.streams.Get(ctx, streamID)
}

// GoLive moves a scheduled stream to live. A stream that is already live is
// left untouched; ended or terminated streams cannot go live again.
func (s *StreamService) GoLive(ctx context.Context, streamID domain.StreamID) (*domain.Stream, error) {
	stream, err := s.streams.Get(ctx, streamID)
	if err != nil {
		return nil, err
	}

	switch stream.Status {
	case domain.StreamStatusLive:
		return stream, nil
	case domain.StreamStatusEnded, domain.StreamStatusTerminated:
		return nil, fmt.Errorf("stream %s is %s: %w", streamID, stream.Status, domain.ErrStreamEnded)
	}

	startedAt := s.now()
	stream.Status = domain.StreamStatusLive
	stream.StartedAt = &startedAt
	if err := s.streams.Save(ctx, stream); err != nil {
		return nil, fmt.Errorf("failed to mark stream live: %w", err)
	}

	if s.kyc != nil {
		if err := s.kyc.Start(context.WithoutCancel(ctx), streamID); err != nil {
			s.logger.Warnw("kyc revalidation not started", "stream_id", streamID, "error", err)
		}
	}

	s.logger.Infow("stream is live", "stream_id", streamID, "type", stream.Type)
	return stream, nil
}

func (s *StreamService) EndStream(ctx context.Context, streamID domain.StreamID) error {
	stream, err := s.streams.Get(ctx, streamID)
	if err != nil {
		return err
	}

	if stream.Status == domain.StreamStatusLive || stream.Status == domain.StreamStatusScheduled {
		endedAt := s.now()
		if err := s.streams.UpdateStatus(ctx, streamID, domain.StreamStatusEnded, &endedAt); err != nil {
			return fmt.Errorf("failed to end stream: %w", err)
		}
	}

	s.Ended(ctx, streamID)
	return nil
}

// Ended stops everything tied to a stream that is no longer live.
func (s *StreamService) Ended(ctx context.Context, streamID domain.StreamID) {
	if s.kyc != nil {
		s.kyc.Stop(streamID)
	}
	for _, fn := range s.onEnded {
		fn(ctx, streamID)
	}
	s.logger.Infow("stream ended", "stream_id", streamID)
}

func (s *StreamService) GetStreamStats(ctx context.Context, streamID domain.StreamID) (*domain.StreamStats, error) {
	stats := &domain.StreamStats{
		StreamID:  streamID,
		Timestamp: s.now(),
	}

	if s.viewers != nil {
		count, err := s.viewers.ViewerCount(ctx, streamID)
		if err != nil {
			return nil, err
		}
		stats.ViewerCount = count
	}

	if s.abr != nil {
		if state, ok := s.abr.State(streamID); ok {
			stats.HasBroadcast = true
			if layer, ok := domain.Layer(state.CurrentLayer); ok {
				stats.ActiveLayer = layer.Name
			}
			stats.BandwidthKbps = state.Estimate.SmoothedKbps
		}
	}

	return stats, nil
}
