package domain

import (
	"math"
	"time"
)

type SimulcastLayer struct {
	Name          string
	RID           string
	Width         int
	Height        int
	TargetBitrate int // kbps
	Framerate     int
	MinBandwidth  float64
	MaxBandwidth  float64
}

const (
	LayerLow = iota
	LayerMedium
	LayerHigh
)

var layers = [...]SimulcastLayer{
	{Name: "low", RID: "q", Width: 640, Height: 360, TargetBitrate: 500, Framerate: 30, MinBandwidth: 0, MaxBandwidth: 1200},
	{Name: "medium", RID: "h", Width: 1280, Height: 720, TargetBitrate: 1200, Framerate: 30, MinBandwidth: 1200, MaxBandwidth: 2500},
	{Name: "high", RID: "f", Width: 1920, Height: 1080, TargetBitrate: 2500, Framerate: 30, MinBandwidth: 2500, MaxBandwidth: math.Inf(1)},
}

// Layers returns the simulcast ladder ordered from lowest to highest.
func Layers() []SimulcastLayer {
	out := make([]SimulcastLayer, len(layers))
	copy(out, layers[:])
	return out
}

func Layer(index int) (SimulcastLayer, bool) {
	if index < 0 || index >= len(layers) {
		return SimulcastLayer{}, false
	}
	return layers[index], true
}

func LayerByRID(rid string) (int, bool) {
	for i, l := range layers {
		if l.RID == rid {
			return i, true
		}
	}
	return 0, false
}

type DecisionReason string

const (
	ReasonMaintain  DecisionReason = "maintain"
	ReasonUpgrade   DecisionReason = "upgrade"
	ReasonDowngrade DecisionReason = "downgrade"
)

type LayerDecision struct {
	Layer             int
	Reason            DecisionReason
	BandwidthKbps     float64
	RequiredBandwidth float64
}

type QualityState struct {
	CurrentLayer int
	LastChange   time.Time
	Changed      bool
	Estimate     BandwidthEstimate
}

type HysteresisResult struct {
	Approved bool
	Layer    int
	Wait     time.Duration
}
