package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockStreamStore struct {
	mock.Mock
}

func (m *mockStreamStore) Save(ctx context.Context, stream *domain.Stream) error {
	return m.Called(ctx, stream).Error(0)
}

func (m *mockStreamStore) Get(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*domain.Stream); ok {
		cp := *s
		return &cp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStreamStore) UpdateStatus(ctx context.Context, id domain.StreamID, status domain.StreamStatus, endedAt *time.Time) error {
	return m.Called(ctx, id, status, endedAt).Error(0)
}

func (m *mockStreamStore) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*domain.Stream), args.Error(1)
}

type mockIdentitySource struct {
	mock.Mock
}

func (m *mockIdentitySource) GetVerification(ctx context.Context, userID domain.UserID) (*domain.Verification, error) {
	args := m.Called(ctx, userID)
	if v, ok := args.Get(0).(*domain.Verification); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func testKYCConfig() KYCConfig {
	cfg := DefaultKYCConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.LookupTimeout = time.Second
	return cfg
}

func liveStream(id domain.StreamID, typ domain.StreamType) *domain.Stream {
	return &domain.Stream{ID: id, Type: typ, Status: domain.StreamStatusLive, BroadcasterID: "seller-1"}
}

func TestKYCMonitor_Check(t *testing.T) {
	tests := []struct {
		name         string
		streamType   domain.StreamType
		verification *domain.Verification
		lookupErr    error
		want         bool
		wantErr      bool
	}{
		{"store seller at threshold", domain.StreamTypeStore, &domain.Verification{SellerTier: 2}, nil, true, false},
		{"store seller below threshold", domain.StreamTypeStore, &domain.Verification{SellerTier: 1, IdentityVerified: true}, nil, false, false},
		{"video creator verified", domain.StreamTypeVideo, &domain.Verification{IdentityVerified: true}, nil, true, false},
		{"video creator unverified", domain.StreamTypeVideo, &domain.Verification{SellerTier: 5}, nil, false, false},
		{"missing verification record", domain.StreamTypeStore, nil, domain.ErrVerificationAbsent, false, false},
		{"lookup failure", domain.StreamTypeVideo, nil, errors.New("connection refused"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := &mockIdentitySource{}
			identity.On("GetVerification", mock.Anything, domain.UserID("seller-1")).Return(tt.verification, tt.lookupErr)

			m := NewKYCMonitor(testKYCConfig(), &mockStreamStore{}, identity, zaptest.NewLogger(t).Sugar())
			ok, err := m.Check(context.Background(), liveStream("s1", tt.streamType))

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestKYCMonitor_TerminatesIneligibleStream(t *testing.T) {
	streams := &mockStreamStore{}
	identity := &mockIdentitySource{}
	stream := liveStream("s1", domain.StreamTypeStore)

	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(stream, nil)
	streams.On("UpdateStatus", mock.Anything, domain.StreamID("s1"), domain.StreamStatusTerminated, mock.AnythingOfType("*time.Time")).Return(nil).Once()
	identity.On("GetVerification", mock.Anything, domain.UserID("seller-1")).Return(&domain.Verification{SellerTier: 1}, nil)

	m := NewKYCMonitor(testKYCConfig(), streams, identity, zaptest.NewLogger(t).Sugar())

	var terminated atomic.Value
	m.OnTerminate(func(_ context.Context, s *domain.Stream) {
		terminated.Store(s)
	})

	require.NoError(t, m.Start(context.Background(), "s1"))
	assert.True(t, m.Monitoring("s1"))

	assert.Eventually(t, func() bool {
		return terminated.Load() != nil && !m.Monitoring("s1")
	}, time.Second, 5*time.Millisecond)

	got := terminated.Load().(*domain.Stream)
	assert.Equal(t, domain.StreamStatusTerminated, got.Status)
	require.NotNil(t, got.EndedAt)
	streams.AssertExpectations(t)
}

func TestKYCMonitor_LookupErrorKeepsStreamLive(t *testing.T) {
	streams := &mockStreamStore{}
	identity := &mockIdentitySource{}

	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(liveStream("s1", domain.StreamTypeVideo), nil)
	identity.On("GetVerification", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	m := NewKYCMonitor(testKYCConfig(), streams, identity, zaptest.NewLogger(t).Sugar())
	require.NoError(t, m.Start(context.Background(), "s1"))
	defer m.Stop("s1")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, m.Monitoring("s1"))
	streams.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestKYCMonitor_StopsWhenStreamEnds(t *testing.T) {
	streams := &mockStreamStore{}
	identity := &mockIdentitySource{}

	ended := liveStream("s1", domain.StreamTypeVideo)
	ended.Status = domain.StreamStatusEnded

	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(liveStream("s1", domain.StreamTypeVideo), nil).Once()
	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(ended, nil)

	m := NewKYCMonitor(testKYCConfig(), streams, identity, zaptest.NewLogger(t).Sugar())
	require.NoError(t, m.Start(context.Background(), "s1"))

	assert.Eventually(t, func() bool { return !m.Monitoring("s1") }, time.Second, 5*time.Millisecond)
	identity.AssertNotCalled(t, "GetVerification", mock.Anything, mock.Anything)
}

func TestKYCMonitor_StartRequiresLiveStream(t *testing.T) {
	streams := &mockStreamStore{}
	scheduled := liveStream("s1", domain.StreamTypeStore)
	scheduled.Status = domain.StreamStatusScheduled
	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(scheduled, nil)

	m := NewKYCMonitor(testKYCConfig(), streams, &mockIdentitySource{}, zaptest.NewLogger(t).Sugar())
	assert.Error(t, m.Start(context.Background(), "s1"))
	assert.False(t, m.Monitoring("s1"))
}

func TestKYCMonitor_CancelStopsMonitoring(t *testing.T) {
	streams := &mockStreamStore{}
	identity := &mockIdentitySource{}
	streams.On("Get", mock.Anything, domain.StreamID("s1")).Return(liveStream("s1", domain.StreamTypeVideo), nil)
	identity.On("GetVerification", mock.Anything, mock.Anything).Return(&domain.Verification{IdentityVerified: true}, nil)

	m := NewKYCMonitor(testKYCConfig(), streams, identity, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, "s1"))

	cancel()
	assert.Eventually(t, func() bool { return !m.Monitoring("s1") }, time.Second, 5*time.Millisecond)
}

func TestKYCMonitor_ResumeChecksStreamsLiveBeforeRestart(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()

	streams := memory.NewMemoryStreamRepository()
	identity := memory.NewMemoryIdentitySource()
	started := time.Unix(1700000000, 0)

	revoked := liveStream("revoked", domain.StreamTypeStore)
	revoked.StartedAt = &started
	require.NoError(t, streams.Save(ctx, revoked))

	verified := liveStream("verified", domain.StreamTypeVideo)
	verified.BroadcasterID = "creator-1"
	verified.StartedAt = &started
	require.NoError(t, streams.Save(ctx, verified))

	require.NoError(t, streams.Save(ctx, &domain.Stream{ID: "done", Type: domain.StreamTypeVideo, Status: domain.StreamStatusEnded, BroadcasterID: "creator-1"}))

	identity.Put(domain.Verification{UserID: "seller-1", SellerTier: 1})
	identity.Put(domain.Verification{UserID: "creator-1", IdentityVerified: true})

	// A fresh monitor has no record of streams that went live earlier.
	m := NewKYCMonitor(testKYCConfig(), streams, identity, logger)
	terminated := make(chan domain.StreamID, 1)
	m.OnTerminate(func(_ context.Context, s *domain.Stream) { terminated <- s.ID })

	resumed, err := m.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed)
	assert.False(t, m.Monitoring("done"))
	defer m.Stop("verified")

	select {
	case id := <-terminated:
		assert.Equal(t, domain.StreamID("revoked"), id)
	case <-time.After(time.Second):
		t.Fatal("revoked stream was not terminated")
	}

	got, err := streams.Get(ctx, "revoked")
	require.NoError(t, err)
	assert.Equal(t, domain.StreamStatusTerminated, got.Status)
	require.NotNil(t, got.EndedAt)

	got, err = streams.Get(ctx, "verified")
	require.NoError(t, err)
	assert.Equal(t, domain.StreamStatusLive, got.Status)
	assert.True(t, m.Monitoring("verified"))
}

func TestKYCMonitor_ResumeListError(t *testing.T) {
	streams := &mockStreamStore{}
	streams.On("ListLive", mock.Anything).Return([]*domain.Stream(nil), errors.New("store down"))

	m := NewKYCMonitor(testKYCConfig(), streams, &mockIdentitySource{}, zaptest.NewLogger(t).Sugar())
	n, err := m.Resume(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
}
