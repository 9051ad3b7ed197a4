package webrtc

import (
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// sampleFromReport folds a pion stats report into one StatsSample.
// Outbound RTP counters are preferred; a publish-only session has none, so
// inbound counters stand in for them.
func sampleFromReport(report webrtc.StatsReport, now time.Time) domain.StatsSample {
	sample := domain.StatsSample{Timestamp: now}

	var (
		inSent, inLost, inBytes uint64
		inJitter                time.Duration
		pairRTT                 time.Duration
	)

	for _, stat := range report {
		switch s := stat.(type) {
		case webrtc.ICECandidatePairStats:
			if s.State != webrtc.StatsICECandidatePairStateSucceeded && !s.Nominated {
				continue
			}
			if s.AvailableOutgoingBitrate > 0 {
				sample.AvailableBitrate = s.AvailableOutgoingBitrate / 1000
			}
			if s.CurrentRoundTripTime > 0 {
				pairRTT = seconds(s.CurrentRoundTripTime)
			}

		case webrtc.OutboundRTPStreamStats:
			sample.PacketsSent += uint64(s.PacketsSent)
			sample.BytesSent += s.BytesSent

		case webrtc.RemoteInboundRTPStreamStats:
			if s.PacketsLost > 0 {
				sample.PacketsLost += uint64(s.PacketsLost)
			}
			if j := seconds(s.Jitter); j > sample.Jitter {
				sample.Jitter = j
			}
			if rtt := seconds(s.RoundTripTime); rtt > sample.RTT {
				sample.RTT = rtt
			}

		case webrtc.InboundRTPStreamStats:
			inSent += uint64(s.PacketsReceived)
			if s.PacketsLost > 0 {
				inSent += uint64(s.PacketsLost)
				inLost += uint64(s.PacketsLost)
			}
			inBytes += s.BytesReceived
			if j := seconds(s.Jitter); j > inJitter {
				inJitter = j
			}
		}
	}

	if sample.PacketsSent == 0 {
		sample.PacketsSent = inSent
		sample.PacketsLost = inLost
		sample.BytesSent = inBytes
		if sample.Jitter == 0 {
			sample.Jitter = inJitter
		}
	}
	if sample.RTT == 0 {
		sample.RTT = pairRTT
	}
	return sample
}
