package domain

import "time"

type ServerNode struct {
	ID            string    `json:"id"`
	Address       string    `json:"address"`
	Capacity      int64     `json:"capacity"`
	Load          int64     `json:"load"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastSeen      time.Time `json:"last_seen"`
}

func (n ServerNode) Healthy(now time.Time, timeout time.Duration) bool {
	return now.Sub(n.LastHeartbeat) < timeout
}

type ViewerEventType string

const (
	ViewerJoined ViewerEventType = "viewer_join"
	ViewerLeft   ViewerEventType = "viewer_leave"
)

type ViewerEvent struct {
	Type        ViewerEventType `json:"type"`
	StreamID    StreamID        `json:"stream_id"`
	ViewerID    UserID          `json:"viewer_id"`
	ServerID    string          `json:"server_id"`
	ViewerCount int64           `json:"viewer_count"`
	Timestamp   time.Time       `json:"timestamp"`
}
