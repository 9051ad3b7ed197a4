package domain

import "time"

// StatsSample is one transport-statistics reading for a stream's peer session.
type StatsSample struct {
	Timestamp        time.Time
	PacketsSent      uint64
	PacketsLost      uint64
	BytesSent        uint64
	Jitter           time.Duration
	RTT              time.Duration
	AvailableBitrate float64 // kbps, 0 when the transport does not report it
}

type BandwidthEstimate struct {
	Timestamp    time.Time
	RawKbps      float64
	SmoothedKbps float64
	LossRatio    float64
	Jitter       time.Duration
	RTT          time.Duration
	BytesSent    uint64
}
