package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"

	"go.uber.org/zap"
)

const maxQualityHistory = 100

// AdaptiveBitrateService runs the per-stream layer selection loop:
// stats sample, bandwidth estimate, layer choice, hysteresis gate.
type AdaptiveBitrateService struct {
	qualityService *QualityService
	logger         *zap.SugaredLogger

	mu       sync.RWMutex
	states   map[domain.StreamID]*domain.QualityState
	history  map[domain.StreamID][]qualitySnapshot
	monitors map[domain.StreamID]context.CancelFunc

	checkInterval     time.Duration
	upgradeHoldDown   time.Duration
	downgradeHoldDown time.Duration
	now               func() time.Time
	onSwitch          func(streamID domain.StreamID, from, to domain.SimulcastLayer)
}

type qualitySnapshot struct {
	Layer     int
	Reason    domain.DecisionReason
	Timestamp time.Time
	Estimate  domain.BandwidthEstimate
}

func NewAdaptiveBitrateService(qualityService *QualityService, logger *zap.SugaredLogger) *AdaptiveBitrateService {
	return &AdaptiveBitrateService{
		qualityService:    qualityService,
		logger:            logger,
		states:            make(map[domain.StreamID]*domain.QualityState),
		history:           make(map[domain.StreamID][]qualitySnapshot),
		monitors:          make(map[domain.StreamID]context.CancelFunc),
		checkInterval:     2 * time.Second,
		upgradeHoldDown:   10 * time.Second,
		downgradeHoldDown: 5 * time.Second,
		now:               time.Now,
	}
}

// ApplyHysteresis gates a layer change on the time since the last change.
// An approved change is written to state; a rejected one leaves it untouched
// and reports how long the caller still has to wait.
func (a *AdaptiveBitrateService) ApplyHysteresis(newLayer int, state *domain.QualityState, now time.Time) domain.HysteresisResult {
	a.mu.RLock()
	result := a.hysteresis(newLayer, state, now)
	a.mu.RUnlock()

	if result.Approved {
		state.CurrentLayer = newLayer
		state.LastChange = now
		state.Changed = true
	}
	return result
}

// hysteresis is the read-only verdict behind ApplyHysteresis. Callers hold a.mu.
func (a *AdaptiveBitrateService) hysteresis(newLayer int, state *domain.QualityState, now time.Time) domain.HysteresisResult {
	if newLayer == state.CurrentLayer {
		return domain.HysteresisResult{Approved: false, Layer: state.CurrentLayer}
	}

	if state.Changed {
		holdDown := a.downgradeHoldDown
		if newLayer > state.CurrentLayer {
			holdDown = a.upgradeHoldDown
		}
		if elapsed := now.Sub(state.LastChange); elapsed < holdDown {
			return domain.HysteresisResult{
				Approved: false,
				Layer:    state.CurrentLayer,
				Wait:     holdDown - elapsed,
			}
		}
	}

	return domain.HysteresisResult{Approved: true, Layer: newLayer}
}

// Evaluate feeds one stats sample through the pipeline for streamID and
// returns the selection and the hysteresis verdict. An approved change is
// committed immediately.
func (a *AdaptiveBitrateService) Evaluate(streamID domain.StreamID, sample domain.StatsSample) (domain.LayerDecision, domain.HysteresisResult) {
	p, _ := a.evaluate(streamID, sample, true)
	if p.result.Approved {
		a.commit(streamID, p)
	}
	return p.decision, p.result
}

// pendingSwitch is a verdict that has not been applied to the stream's state.
type pendingSwitch struct {
	state    *domain.QualityState
	from     int
	decision domain.LayerDecision
	result   domain.HysteresisResult
	estimate domain.BandwidthEstimate
	at       time.Time
}

// evaluate updates the bandwidth estimate and computes a verdict without
// moving the current layer. It only creates missing state when create is set,
// so a sampling tick racing StopMonitoring cannot resurrect a stopped stream.
func (a *AdaptiveBitrateService) evaluate(streamID domain.StreamID, sample domain.StatsSample, create bool) (pendingSwitch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.states[streamID]
	if !ok {
		if !create {
			return pendingSwitch{}, false
		}
		state = &domain.QualityState{CurrentLayer: domain.LayerLow}
		a.states[streamID] = state
	}

	var prev *domain.BandwidthEstimate
	if !state.Estimate.Timestamp.IsZero() {
		p := state.Estimate
		prev = &p
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = a.now()
	}
	est := a.qualityService.EstimateBandwidth(sample, prev)
	state.Estimate = est

	decision := a.qualityService.SelectLayer(est.SmoothedKbps, state.CurrentLayer)
	result := a.hysteresis(decision.Layer, state, sample.Timestamp)

	if !result.Approved && decision.Layer != state.CurrentLayer {
		a.logger.Debugw("quality switch held back",
			"stream_id", streamID,
			"wanted", decision.Layer,
			"current", state.CurrentLayer,
			"wait", result.Wait,
		)
	}

	return pendingSwitch{
		state:    state,
		from:     state.CurrentLayer,
		decision: decision,
		result:   result,
		estimate: est,
		at:       sample.Timestamp,
	}, true
}

// commit applies an approved verdict and fires the switch hook. It is a no-op
// when the stream was stopped, restarted or switched since the verdict.
func (a *AdaptiveBitrateService) commit(streamID domain.StreamID, p pendingSwitch) bool {
	a.mu.Lock()
	if a.states[streamID] != p.state || p.state.CurrentLayer != p.from {
		a.mu.Unlock()
		return false
	}

	p.state.CurrentLayer = p.result.Layer
	p.state.LastChange = p.at
	p.state.Changed = true

	a.history[streamID] = append(a.history[streamID], qualitySnapshot{
		Layer:     p.result.Layer,
		Reason:    p.decision.Reason,
		Timestamp: p.at,
		Estimate:  p.estimate,
	})
	if n := len(a.history[streamID]); n > maxQualityHistory {
		a.history[streamID] = a.history[streamID][n-maxQualityHistory:]
	}
	onSwitch := a.onSwitch
	a.mu.Unlock()

	a.logger.Infow("quality switch applied",
		"stream_id", streamID,
		"from", p.from,
		"to", p.result.Layer,
		"reason", p.decision.Reason,
		"bandwidth_kbps", p.estimate.SmoothedKbps,
		"loss", p.estimate.LossRatio,
		"rtt", p.estimate.RTT,
	)
	if onSwitch != nil {
		fromLayer, _ := domain.Layer(p.from)
		toLayer, _ := domain.Layer(p.result.Layer)
		onSwitch(streamID, fromLayer, toLayer)
	}
	return true
}

// StartMonitoring starts the sampling loop for a stream. Calling it again for
// the same stream restarts the loop with fresh state.
func (a *AdaptiveBitrateService) StartMonitoring(ctx context.Context, streamID domain.StreamID, ctrl ports.LayerController) {
	monitorCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	if prevCancel, ok := a.monitors[streamID]; ok {
		prevCancel()
	}
	a.monitors[streamID] = cancel
	a.states[streamID] = &domain.QualityState{CurrentLayer: domain.LayerLow}
	a.history[streamID] = nil
	interval := a.checkInterval
	a.mu.Unlock()

	go a.monitorStream(monitorCtx, streamID, ctrl, interval)
}

func (a *AdaptiveBitrateService) StopMonitoring(streamID domain.StreamID) {
	a.mu.Lock()
	if cancel, ok := a.monitors[streamID]; ok {
		cancel()
	}
	delete(a.monitors, streamID)
	delete(a.states, streamID)
	delete(a.history, streamID)
	a.mu.Unlock()
}

func (a *AdaptiveBitrateService) monitorStream(ctx context.Context, streamID domain.StreamID, ctrl ports.LayerController, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.checkAndAdjustQuality(ctx, streamID, ctrl); err != nil {
				a.logger.Warnw("error checking quality for stream",
					"stream_id", streamID,
					"error", err,
				)
			}
		}
	}
}

func (a *AdaptiveBitrateService) checkAndAdjustQuality(ctx context.Context, streamID domain.StreamID, ctrl ports.LayerController) error {
	sample, err := ctrl.Stats(ctx, streamID)
	if err != nil {
		return err
	}

	p, ok := a.evaluate(streamID, sample, false)
	if !ok || !p.result.Approved {
		return nil
	}

	// State only moves once the SFU forwards the new layer.
	layer, _ := domain.Layer(p.result.Layer)
	if err := ctrl.SetActiveLayer(streamID, layer.RID); err != nil {
		return fmt.Errorf("switch stream %s to layer %s: %w", streamID, layer.Name, err)
	}
	a.commit(streamID, p)
	return nil
}

func (a *AdaptiveBitrateService) State(streamID domain.StreamID) (domain.QualityState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	state, ok := a.states[streamID]
	if !ok {
		return domain.QualityState{}, false
	}
	return *state, true
}

// GetQualityHistory returns approved layer changes for a stream, oldest first.
func (a *AdaptiveBitrateService) GetQualityHistory(streamID domain.StreamID) []qualitySnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	history := make([]qualitySnapshot, len(a.history[streamID]))
	copy(history, a.history[streamID])
	return history
}

// SetCheckInterval applies to loops started after the call.
func (a *AdaptiveBitrateService) SetCheckInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	a.mu.Lock()
	a.checkInterval = interval
	a.mu.Unlock()
}

// SetHoldDowns sets the minimum time between changes for upgrades and downgrades.
func (a *AdaptiveBitrateService) SetHoldDowns(upgrade, downgrade time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upgradeHoldDown = upgrade
	a.downgradeHoldDown = downgrade
}

func (a *AdaptiveBitrateService) OnSwitch(fn func(streamID domain.StreamID, from, to domain.SimulcastLayer)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSwitch = fn
}
