package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/services"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/distributed"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/middleware"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories/memory"
)

type MockRecordings struct {
	mock.Mock
}

func (m *MockRecordings) StartLive(ctx context.Context, streamID domain.StreamID) (domain.RecordingSession, error) {
	args := m.Called(ctx, streamID)
	return args.Get(0).(domain.RecordingSession), args.Error(1)
}

func (m *MockRecordings) Stop(ctx context.Context, streamID domain.StreamID) (domain.RecordingSession, error) {
	args := m.Called(ctx, streamID)
	return args.Get(0).(domain.RecordingSession), args.Error(1)
}

func (m *MockRecordings) Status(streamID domain.StreamID) (domain.RecordingSession, error) {
	args := m.Called(streamID)
	return args.Get(0).(domain.RecordingSession), args.Error(1)
}

type testAPI struct {
	router      *gin.Engine
	coordinator *distributed.Coordinator
	recordings  *MockRecordings
}

func newTestAPI(t *testing.T, withRecordings bool) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	streams := memory.NewMemoryStreamRepository()
	require.NoError(t, streams.Save(ctx, &domain.Stream{
		ID: "s1", Type: domain.StreamTypeVideo, Status: domain.StreamStatusScheduled, BroadcasterID: "owner",
	}))

	cfg := distributed.DefaultCoordinatorConfig("srv-1")
	cfg.Address = "10.0.0.1:8080"
	coordinator := distributed.NewCoordinator(cfg, memory.NewMemorySharedState(), nil, logger)
	require.NoError(t, coordinator.RegisterServer(ctx))

	streamService := services.NewStreamService(streams, coordinator, nil, nil, logger)
	auth := services.NewAuthService("secret", streams)

	api := &testAPI{coordinator: coordinator, recordings: &MockRecordings{}}
	var recordings Recordings
	if withRecordings {
		recordings = api.recordings
	}
	handler := NewStreamHandler(streamService, coordinator, recordings)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	public := router.Group("/api/v1")
	control := router.Group("/api/v1", middleware.AuthMiddleware(auth, true), middleware.BroadcasterOnly(auth))
	handler.SetupRoutes(public, control)

	api.router = router
	return api
}

func (a *testAPI) do(t *testing.T, method, path, user string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(middleware.AnonymousUserHeader, user)
	}
	a.router.ServeHTTP(w, req)

	body := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func TestStreamHandler_Placement(t *testing.T) {
	api := newTestAPI(t, false)

	code, body := api.do(t, http.MethodGet, "/api/v1/streams/s1/server", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "srv-1", body["server_id"])
	assert.Equal(t, "10.0.0.1:8080", body["address"])

	code, body = api.do(t, http.MethodGet, "/api/v1/cluster/servers", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["servers"], 1)

	require.NoError(t, api.coordinator.UnregisterServer(context.Background()))
	code, body = api.do(t, http.MethodGet, "/api/v1/streams/s1/server", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", body["error"])
}

func TestStreamHandler_Viewers(t *testing.T) {
	api := newTestAPI(t, false)
	ctx := context.Background()

	require.NoError(t, api.coordinator.PublishViewerJoin(ctx, "s1", "v1"))
	require.NoError(t, api.coordinator.PublishViewerJoin(ctx, "s1", "v2"))

	code, body := api.do(t, http.MethodGet, "/api/v1/streams/s1/viewers", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["viewer_count"])

	code, body = api.do(t, http.MethodGet, "/api/v1/streams/s1/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["viewer_count"])
	assert.Equal(t, false, body["broadcasting"])
}

func TestStreamHandler_InvalidStreamID(t *testing.T) {
	api := newTestAPI(t, false)

	code, body := api.do(t, http.MethodGet, "/api/v1/streams/bad$id/viewers", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", body["error"])
}

func TestStreamHandler_Lifecycle(t *testing.T) {
	api := newTestAPI(t, false)

	code, _ := api.do(t, http.MethodPost, "/api/v1/streams/s1/live", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = api.do(t, http.MethodPost, "/api/v1/streams/s1/live", "intruder")
	assert.Equal(t, http.StatusForbidden, code)

	code, body := api.do(t, http.MethodPost, "/api/v1/streams/s1/live", "owner")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "live", body["stream"].(map[string]any)["status"])

	code, _ = api.do(t, http.MethodPost, "/api/v1/streams/s1/end", "owner")
	assert.Equal(t, http.StatusNoContent, code)

	code, body = api.do(t, http.MethodGet, "/api/v1/streams/s1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ended", body["stream"].(map[string]any)["status"])

	code, body = api.do(t, http.MethodPost, "/api/v1/streams/s1/live", "owner")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", body["error"])

	code, _ = api.do(t, http.MethodGet, "/api/v1/streams/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStreamHandler_Recording(t *testing.T) {
	api := newTestAPI(t, true)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	api.recordings.On("StartLive", mock.Anything, domain.StreamID("s1")).
		Return(domain.RecordingSession{StreamID: "s1", Status: domain.RecordingActive, StartedAt: started}, nil).Once()
	api.recordings.On("StartLive", mock.Anything, domain.StreamID("s1")).
		Return(domain.RecordingSession{}, domain.ErrRecordingActive).Once()
	api.recordings.On("Stop", mock.Anything, domain.StreamID("s1")).
		Return(domain.RecordingSession{
			StreamID:  "s1",
			Status:    domain.RecordingCompleted,
			URL:       "https://cdn.test/recordings/s1/x/master.m3u8",
			ExpiresAt: started.Add(30 * 24 * time.Hour),
		}, nil).Once()
	api.recordings.On("Status", domain.StreamID("s2")).
		Return(domain.RecordingSession{StreamID: "s2", Status: domain.RecordingNotStarted}, domain.ErrRecordingNotFound).Once()

	code, body := api.do(t, http.MethodPost, "/api/v1/streams/s1/recording/start", "owner")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "RECORDING", body["recording"].(map[string]any)["status"])

	code, body = api.do(t, http.MethodPost, "/api/v1/streams/s1/recording/start", "owner")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", body["error"])

	code, body = api.do(t, http.MethodPost, "/api/v1/streams/s1/recording/stop", "owner")
	require.Equal(t, http.StatusOK, code)
	rec := body["recording"].(map[string]any)
	assert.Equal(t, "COMPLETED", rec["status"])
	assert.Equal(t, "https://cdn.test/recordings/s1/x/master.m3u8", rec["url"])

	code, _ = api.do(t, http.MethodGet, "/api/v1/streams/s2/recording", "")
	assert.Equal(t, http.StatusNotFound, code)

	api.recordings.AssertExpectations(t)
}

func TestStreamHandler_RecordingDisabled(t *testing.T) {
	api := newTestAPI(t, false)

	code, body := api.do(t, http.MethodPost, "/api/v1/streams/s1/recording/start", "owner")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "recording is disabled", body["message"])
}
