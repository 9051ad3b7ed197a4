package services

import (
	"context"
	"testing"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubViewers struct {
	count int64
}

func (s *stubViewers) PublishViewerJoin(context.Context, domain.StreamID, domain.UserID) error {
	return nil
}

func (s *stubViewers) PublishViewerLeave(context.Context, domain.StreamID, domain.UserID) error {
	return nil
}

func (s *stubViewers) ViewerCount(context.Context, domain.StreamID) (int64, error) {
	return s.count, nil
}

func TestStreamService_GoLiveStartsRevalidation(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	streams := &mockStreamStore{}
	identity := &mockIdentitySource{}

	scheduled := &domain.Stream{ID: "s1", Type: domain.StreamTypeVideo, Status: domain.StreamStatusScheduled, BroadcasterID: "u1"}
	live := &domain.Stream{ID: "s1", Type: domain.StreamTypeVideo, Status: domain.StreamStatusLive, BroadcasterID: "u1"}

	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(scheduled, nil).Once()
	streams.On("Save", mock.Anything, mock.MatchedBy(func(s *domain.Stream) bool {
		return s.Status == domain.StreamStatusLive && s.StartedAt != nil
	})).Return(nil)
	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(live, nil)
	streams.On("UpdateStatus", mock.Anything, domain.StreamID("s1"), domain.StreamStatusEnded, mock.Anything).Return(nil)
	identity.On("GetVerification", mock.Anything, mock.Anything).Return(&domain.Verification{IdentityVerified: true}, nil)

	kyc := NewKYCMonitor(testKYCConfig(), streams, identity, logger)
	svc := NewStreamService(streams, &stubViewers{}, kyc, nil, logger)

	var ended []domain.StreamID
	svc.OnEnded(func(_ context.Context, id domain.StreamID) { ended = append(ended, id) })

	stream, err := svc.GoLive(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StreamStatusLive, stream.Status)
	assert.True(t, kyc.Monitoring("s1"))

	require.NoError(t, svc.EndStream(context.Background(), "s1"))
	assert.False(t, kyc.Monitoring("s1"))
	assert.Equal(t, []domain.StreamID{"s1"}, ended)
}

func TestStreamService_GoLiveRejectsEndedStream(t *testing.T) {
	streams := &mockStreamStore{}
	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(&domain.Stream{ID: "s1", Status: domain.StreamStatusTerminated}, nil)

	svc := NewStreamService(streams, nil, nil, nil, zaptest.NewLogger(t).Sugar())
	_, err := svc.GoLive(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrStreamEnded)
	assert.NotErrorIs(t, err, domain.ErrStreamNotFound)
	streams.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestStreamService_GetStreamStats(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	abr := newTestABR(t)
	abr.Evaluate("s1", domain.StatsSample{Timestamp: time.Unix(1700000000, 0), AvailableBitrate: 3200})

	svc := NewStreamService(&mockStreamStore{}, &stubViewers{count: 3}, nil, abr, logger)
	stats, err := svc.GetStreamStats(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.ViewerCount)
	assert.True(t, stats.HasBroadcast)
	assert.Equal(t, "high", stats.ActiveLayer)
	assert.InDelta(t, 3200, stats.BandwidthKbps, 1e-6)
}
