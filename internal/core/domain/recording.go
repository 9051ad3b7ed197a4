package domain

import "time"

type RecordingStatus string

const (
	RecordingNotStarted RecordingStatus = "NOT_STARTED"
	RecordingActive     RecordingStatus = "RECORDING"
	RecordingProcessing RecordingStatus = "PROCESSING"
	RecordingCompleted  RecordingStatus = "COMPLETED"
	RecordingFailed     RecordingStatus = "FAILED"
	RecordingExpired    RecordingStatus = "EXPIRED"
)

type RecordingSession struct {
	StreamID    StreamID        `json:"stream_id"`
	Status      RecordingStatus `json:"status"`
	LocalPath   string          `json:"-"`
	KeyPrefix   string          `json:"key_prefix,omitempty"`
	URL         string          `json:"url,omitempty"`
	CaptionsURL string          `json:"captions_url,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at,omitempty"`
	SizeBytes   int64           `json:"size_bytes"`
	Duration    time.Duration   `json:"duration"`
	Error       string          `json:"error,omitempty"`
}

func (r *RecordingSession) Terminal() bool {
	switch r.Status {
	case RecordingCompleted, RecordingFailed, RecordingExpired:
		return true
	}
	return false
}
