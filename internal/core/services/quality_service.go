package services

import (
	"math"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

const (
	lossPenaltyThreshold   = 0.01
	jitterPenaltyThreshold = 30 * time.Millisecond
	rttPenaltyThreshold    = 200 * time.Millisecond
	maxJitterPenalty       = 0.3
	maxRTTPenalty          = 0.2
)

// QualityService owns the simulcast ladder and turns transport statistics
// into bandwidth estimates and layer choices.
type QualityService struct {
	layers          []domain.SimulcastLayer
	smoothingFactor float64
	upgradeMargin   float64
}

func NewQualityService(smoothingFactor, upgradeMargin float64) *QualityService {
	if smoothingFactor <= 0 || smoothingFactor > 1 {
		smoothingFactor = 0.3
	}
	if upgradeMargin < 1 {
		upgradeMargin = 1.2
	}
	return &QualityService{
		layers:          domain.Layers(),
		smoothingFactor: smoothingFactor,
		upgradeMargin:   upgradeMargin,
	}
}

func (qs *QualityService) Layers() []domain.SimulcastLayer {
	return qs.layers
}

// EstimateBandwidth derives a smoothed bandwidth figure in kbps from a stats
// sample. prev is nil for the first sample of a stream.
func (qs *QualityService) EstimateBandwidth(sample domain.StatsSample, prev *domain.BandwidthEstimate) domain.BandwidthEstimate {
	est := domain.BandwidthEstimate{
		Timestamp: sample.Timestamp,
		Jitter:    sample.Jitter,
		RTT:       sample.RTT,
		BytesSent: sample.BytesSent,
	}

	if sample.PacketsSent > 0 {
		est.LossRatio = float64(sample.PacketsLost) / float64(sample.PacketsSent)
	}

	raw := sample.AvailableBitrate
	if raw <= 0 && prev != nil {
		elapsed := sample.Timestamp.Sub(prev.Timestamp).Seconds()
		if elapsed > 0 && sample.BytesSent >= prev.BytesSent {
			raw = float64(sample.BytesSent-prev.BytesSent) * 8 / 1000 / elapsed
		}
	}

	if est.LossRatio > lossPenaltyThreshold {
		raw *= 1 - est.LossRatio*0.5
	}
	if sample.Jitter > jitterPenaltyThreshold {
		jitterMs := float64(sample.Jitter) / float64(time.Millisecond)
		raw *= 1 - math.Min(jitterMs/100, maxJitterPenalty)
	}
	if sample.RTT > rttPenaltyThreshold {
		rttMs := float64(sample.RTT) / float64(time.Millisecond)
		raw *= 1 - math.Min(rttMs/1000, maxRTTPenalty)
	}
	if raw < 0 {
		raw = 0
	}
	est.RawKbps = raw

	if prev == nil {
		est.SmoothedKbps = raw
	} else {
		est.SmoothedKbps = qs.smoothingFactor*raw + (1-qs.smoothingFactor)*prev.SmoothedKbps
	}
	return est
}

// SelectLayer picks the highest layer the bandwidth supports. Moving above
// the current layer requires headroom of upgradeMargin over the target.
func (qs *QualityService) SelectLayer(bandwidthKbps float64, current int) domain.LayerDecision {
	chosen := domain.LayerLow
	required := float64(qs.layers[domain.LayerLow].TargetBitrate)

	for i := len(qs.layers) - 1; i >= 0; i-- {
		need := float64(qs.layers[i].TargetBitrate)
		if i > current {
			need *= qs.upgradeMargin
		}
		if bandwidthKbps >= need {
			chosen = i
			required = need
			break
		}
	}

	reason := domain.ReasonMaintain
	switch {
	case chosen > current:
		reason = domain.ReasonUpgrade
	case chosen < current:
		reason = domain.ReasonDowngrade
	}

	return domain.LayerDecision{
		Layer:             chosen,
		Reason:            reason,
		BandwidthKbps:     bandwidthKbps,
		RequiredBandwidth: required,
	}
}
