package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/pkg/circuitbreaker"

	"go.uber.org/zap"
)

type kycWatch struct {
	cancel context.CancelFunc
}

type KYCConfig struct {
	Interval      time.Duration
	MinSellerTier int
	LookupTimeout time.Duration
	Breaker       circuitbreaker.Config
}

func DefaultKYCConfig() KYCConfig {
	return KYCConfig{
		Interval:      5 * time.Minute,
		MinSellerTier: 2,
		LookupTimeout: 5 * time.Second,
		Breaker:       circuitbreaker.DefaultConfig(),
	}
}

// KYCMonitor periodically re-checks that the broadcaster of a live stream is
// still allowed to stream and terminates the stream when they are not.
type KYCMonitor struct {
	cfg      KYCConfig
	streams  ports.StreamStore
	identity ports.IdentitySource
	notifier ports.Notifier
	lease    ports.Lease
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu          sync.Mutex
	monitors    map[domain.StreamID]*kycWatch
	onTerminate func(ctx context.Context, stream *domain.Stream)
}

func NewKYCMonitor(
	cfg KYCConfig,
	streams ports.StreamStore,
	identity ports.IdentitySource,
	logger *zap.SugaredLogger,
) *KYCMonitor {
	breaker := circuitbreaker.New(cfg.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("identity source breaker changed state", "from", from, "to", to)
	})

	return &KYCMonitor{
		cfg:      cfg,
		streams:  streams,
		identity: identity,
		breaker:  breaker,
		logger:   logger,
		now:      time.Now,
		monitors: make(map[domain.StreamID]*kycWatch),
	}
}

func (m *KYCMonitor) SetNotifier(n ports.Notifier) { m.notifier = n }

// SetLease makes revalidation of a stream exclusive across cluster nodes.
func (m *KYCMonitor) SetLease(l ports.Lease) { m.lease = l }

// OnTerminate registers a hook run after a stream was terminated.
func (m *KYCMonitor) OnTerminate(fn func(ctx context.Context, stream *domain.Stream)) {
	m.onTerminate = fn
}

// Start begins revalidating a live stream. Starting an already monitored
// stream is a no-op.
func (m *KYCMonitor) Start(ctx context.Context, streamID domain.StreamID) error {
	stream, err := m.streams.Get(ctx, streamID)
	if err != nil {
		return fmt.Errorf("load stream %s: %w", streamID, err)
	}
	if !stream.IsLive() {
		return fmt.Errorf("stream %s is %s, not live", streamID, stream.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.monitors[streamID]; ok {
		return nil
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	w := &kycWatch{cancel: cancel}
	m.monitors[streamID] = w
	go m.run(monitorCtx, streamID, w)

	m.logger.Infow("kyc revalidation started", "stream_id", streamID, "interval", m.cfg.Interval)
	return nil
}

// Resume starts revalidation for every stream the store reports as live, so
// streams that went live before a restart are checked again. It returns the
// number of streams now monitored.
func (m *KYCMonitor) Resume(ctx context.Context) (int, error) {
	live, err := m.streams.ListLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list live streams: %w", err)
	}

	resumed := 0
	for _, stream := range live {
		if err := m.Start(ctx, stream.ID); err != nil {
			m.logger.Warnw("kyc revalidation not resumed", "stream_id", stream.ID, "error", err)
			continue
		}
		resumed++
	}
	if resumed > 0 {
		m.logger.Infow("kyc revalidation resumed", "streams", resumed)
	}
	return resumed, nil
}

func (m *KYCMonitor) Stop(streamID domain.StreamID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.monitors[streamID]; ok {
		w.cancel()
		delete(m.monitors, streamID)
	}
}

func (m *KYCMonitor) Monitoring(streamID domain.StreamID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.monitors[streamID]
	return ok
}

func (m *KYCMonitor) run(ctx context.Context, streamID domain.StreamID, w *kycWatch) {
	defer func() {
		m.mu.Lock()
		if m.monitors[streamID] == w {
			delete(m.monitors, streamID)
		}
		m.mu.Unlock()
		w.cancel()
	}()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := m.revalidate(ctx, streamID); done {
				return
			}
		}
	}
}

// revalidate runs one check and reports whether monitoring should end.
func (m *KYCMonitor) revalidate(ctx context.Context, streamID domain.StreamID) bool {
	stream, err := m.streams.Get(ctx, streamID)
	if err != nil {
		m.logger.Warnw("kyc revalidation could not load stream", "stream_id", streamID, "error", err)
		return errors.Is(err, domain.ErrStreamNotFound)
	}
	if !stream.IsLive() {
		m.logger.Infow("kyc revalidation finished, stream no longer live",
			"stream_id", streamID,
			"status", stream.Status,
		)
		return true
	}

	if m.lease != nil {
		release, ok, err := m.lease.TryAcquire(ctx, "kyc:"+string(streamID), m.cfg.Interval)
		if err != nil {
			m.logger.Warnw("kyc lease unavailable", "stream_id", streamID, "error", err)
			return false
		}
		if !ok {
			return false
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				m.logger.Debugw("kyc lease release failed", "stream_id", streamID, "error", err)
			}
		}()
	}

	eligible, err := m.Check(ctx, stream)
	if err != nil {
		// A failed lookup is not a failed verification; try again next tick.
		m.logger.Warnw("kyc lookup failed", "stream_id", streamID, "error", err)
		return false
	}
	if eligible {
		return false
	}

	if err := m.terminate(ctx, stream); err != nil {
		m.logger.Errorw("failed to terminate stream", "stream_id", streamID, "error", err)
		return false
	}
	return true
}

// Check reports whether the stream's broadcaster still meets the verification
// requirement for its stream type.
func (m *KYCMonitor) Check(ctx context.Context, stream *domain.Stream) (bool, error) {
	var (
		v      *domain.Verification
		absent bool
	)

	err := m.breaker.Execute(ctx, func() error {
		lookupCtx, cancel := context.WithTimeout(ctx, m.cfg.LookupTimeout)
		defer cancel()

		var err error
		v, err = m.identity.GetVerification(lookupCtx, stream.BroadcasterID)
		if errors.Is(err, domain.ErrVerificationAbsent) {
			absent = true
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if absent {
		return false, nil
	}

	switch stream.Type {
	case domain.StreamTypeStore:
		return v.SellerTier >= m.cfg.MinSellerTier, nil
	case domain.StreamTypeVideo:
		return v.IdentityVerified, nil
	default:
		return true, nil
	}
}

func (m *KYCMonitor) terminate(ctx context.Context, stream *domain.Stream) error {
	endedAt := m.now()
	if err := m.streams.UpdateStatus(ctx, stream.ID, domain.StreamStatusTerminated, &endedAt); err != nil {
		return err
	}
	stream.Status = domain.StreamStatusTerminated
	stream.EndedAt = &endedAt

	m.logger.Warnw("stream terminated after failed kyc revalidation",
		"stream_id", stream.ID,
		"broadcaster_id", stream.BroadcasterID,
		"type", stream.Type,
	)

	if m.notifier != nil {
		if err := m.notifier.StreamTerminated(ctx, stream, "kyc revalidation failed"); err != nil {
			m.logger.Warnw("termination notification failed", "stream_id", stream.ID, "error", err)
		}
	}
	if m.onTerminate != nil {
		m.onTerminate(ctx, stream)
	}
	return nil
}
