package domain

import (
	"time"
)

type StreamID string

type StreamType string

const (
	StreamTypeStore StreamType = "store"
	StreamTypeVideo StreamType = "video"
)

type StreamStatus string

const (
	StreamStatusScheduled  StreamStatus = "scheduled"
	StreamStatusLive       StreamStatus = "live"
	StreamStatusEnded      StreamStatus = "ended"
	StreamStatusTerminated StreamStatus = "terminated"
)

type Stream struct {
	ID            StreamID
	Type          StreamType
	Status        StreamStatus
	BroadcasterID UserID
	StoreID       string
	Title         string
	StartedAt     *time.Time
	EndedAt       *time.Time
}

func (s *Stream) IsLive() bool {
	return s.Status == StreamStatusLive
}

type ChatMessage struct {
	ID        string
	StreamID  StreamID
	UserID    UserID
	Text      string
	Timestamp time.Time
}

type StreamStats struct {
	StreamID      StreamID
	ViewerCount   int64
	HasBroadcast  bool
	ActiveLayer   string
	BandwidthKbps float64
	Timestamp     time.Time
}
