package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	apperrors "github.com/verawat1234/tchat-sub013/pkg/errors"
	"github.com/verawat1234/tchat-sub013/pkg/validation"
)

type StreamLifecycle interface {
	GetStream(ctx context.Context, streamID domain.StreamID) (*domain.Stream, error)
	GoLive(ctx context.Context, streamID domain.StreamID) (*domain.Stream, error)
	EndStream(ctx context.Context, streamID domain.StreamID) error
	GetStreamStats(ctx context.Context, streamID domain.StreamID) (*domain.StreamStats, error)
}

type Placement interface {
	SelectServer(ctx context.Context, streamID domain.StreamID) (domain.ServerNode, error)
	ViewerCount(ctx context.Context, streamID domain.StreamID) (int64, error)
	Servers() []domain.ServerNode
}

type Recordings interface {
	StartLive(ctx context.Context, streamID domain.StreamID) (domain.RecordingSession, error)
	Stop(ctx context.Context, streamID domain.StreamID) (domain.RecordingSession, error)
	Status(streamID domain.StreamID) (domain.RecordingSession, error)
}

type StreamHandler struct {
	streams    StreamLifecycle
	placement  Placement
	recordings Recordings // Optional, can be nil
	now        func() time.Time
}

func NewStreamHandler(streams StreamLifecycle, placement Placement, recordings Recordings) *StreamHandler {
	return &StreamHandler{
		streams:    streams,
		placement:  placement,
		recordings: recordings,
		now:        time.Now,
	}
}

// SetupRoutes registers the public read routes on api and the
// broadcaster-only control routes on control.
func (h *StreamHandler) SetupRoutes(api, control gin.IRoutes) {
	api.GET("/streams/:id", h.GetStream)
	api.GET("/streams/:id/server", h.GetServer)
	api.GET("/streams/:id/viewers", h.GetViewers)
	api.GET("/streams/:id/stats", h.GetStreamStats)
	api.GET("/streams/:id/recording", h.GetRecording)
	api.GET("/cluster/servers", h.ListServers)

	control.POST("/streams/:id/live", h.GoLive)
	control.POST("/streams/:id/end", h.EndStream)
	control.POST("/streams/:id/recording/start", h.StartRecording)
	control.POST("/streams/:id/recording/stop", h.StopRecording)
}

func streamParam(c *gin.Context) (domain.StreamID, bool) {
	id := c.Param("id")
	if err := validation.ValidateStreamID(id); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.StreamID(id), true
}

func streamResponse(s *domain.Stream) gin.H {
	return gin.H{
		"id":             s.ID,
		"type":           s.Type,
		"status":         s.Status,
		"broadcaster_id": s.BroadcasterID,
		"store_id":       s.StoreID,
		"title":          s.Title,
		"started_at":     s.StartedAt,
		"ended_at":       s.EndedAt,
	}
}

func (h *StreamHandler) GetStream(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}

	stream, err := h.streams.GetStream(c.Request.Context(), streamID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": streamResponse(stream)})
}

// GetServer answers which cluster node should serve the stream.
func (h *StreamHandler) GetServer(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}

	node, err := h.placement.SelectServer(c.Request.Context(), streamID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stream_id": streamID,
		"server_id": node.ID,
		"address":   node.Address,
		"load":      node.Load,
		"capacity":  node.Capacity,
	})
}

func (h *StreamHandler) GetViewers(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}

	count, err := h.placement.ViewerCount(c.Request.Context(), streamID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream_id": streamID, "viewer_count": count})
}

func (h *StreamHandler) GetStreamStats(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}

	stats, err := h.streams.GetStreamStats(c.Request.Context(), streamID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stream_id":      stats.StreamID,
		"viewer_count":   stats.ViewerCount,
		"broadcasting":   stats.HasBroadcast,
		"active_layer":   stats.ActiveLayer,
		"bandwidth_kbps": stats.BandwidthKbps,
		"timestamp":      stats.Timestamp,
	})
}

func (h *StreamHandler) ListServers(c *gin.Context) {
	now := h.now()
	servers := h.placement.Servers()
	out := make([]gin.H, 0, len(servers))
	for _, s := range servers {
		out = append(out, gin.H{
			"id":             s.ID,
			"address":        s.Address,
			"load":           s.Load,
			"capacity":       s.Capacity,
			"last_heartbeat": s.LastHeartbeat,
			"last_seen":      s.LastSeen,
			"age_seconds":    now.Sub(s.LastSeen).Seconds(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": out})
}

func (h *StreamHandler) GoLive(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}

	stream, err := h.streams.GoLive(c.Request.Context(), streamID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": streamResponse(stream)})
}

func (h *StreamHandler) EndStream(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}

	if err := h.streams.EndStream(c.Request.Context(), streamID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) recordingsEnabled(c *gin.Context) bool {
	if h.recordings == nil {
		_ = c.Error(apperrors.NewServiceUnavailableError("recording is disabled"))
		return false
	}
	return true
}

func (h *StreamHandler) StartRecording(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok || !h.recordingsEnabled(c) {
		return
	}

	session, err := h.recordings.StartLive(c.Request.Context(), streamID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"recording": session})
}

// StopRecording blocks until the upload finished and returns the final
// session, which is FAILED when encoding or upload did not succeed.
func (h *StreamHandler) StopRecording(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok || !h.recordingsEnabled(c) {
		return
	}

	session, err := h.recordings.Stop(c.Request.Context(), streamID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording": session})
}

func (h *StreamHandler) GetRecording(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok || !h.recordingsEnabled(c) {
		return
	}

	session, err := h.recordings.Status(streamID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording": session})
}
