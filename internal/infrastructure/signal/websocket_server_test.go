package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/distributed"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories/memory"
	webrtcinfra "github.com/verawat1234/tchat-sub013/internal/infrastructure/webrtc"
)

type MockPeerSessions struct {
	mock.Mock
}

func (m *MockPeerSessions) CreateSession(ctx context.Context, streamID domain.StreamID) error {
	return m.Called(streamID).Error(0)
}

func (m *MockPeerSessions) HandleOffer(ctx context.Context, streamID domain.StreamID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	args := m.Called(streamID, offer)
	return args.Get(0).(webrtc.SessionDescription), args.Error(1)
}

func (m *MockPeerSessions) AddICECandidate(streamID domain.StreamID, candidate webrtc.ICECandidateInit) error {
	return m.Called(streamID, candidate).Error(0)
}

func (m *MockPeerSessions) CloseSession(streamID domain.StreamID) error {
	return m.Called(streamID).Error(0)
}

type denyGuard struct{}

func (denyGuard) CheckBroadcastPermission(ctx context.Context, userID domain.UserID, streamID domain.StreamID) error {
	if userID == "intruder" {
		return errors.New("not the owner")
	}
	return nil
}

type testGateway struct {
	server      *WebSocketServer
	coordinator *distributed.Coordinator
	http        *httptest.Server
}

func newTestGateway(t *testing.T, mutate func(*Config)) *testGateway {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()
	coordinator := distributed.NewCoordinator(distributed.DefaultCoordinatorConfig("srv-1"), memory.NewMemorySharedState(), nil, logger)

	cfg := DefaultConfig()
	cfg.AllowAnonymous = true
	if mutate != nil {
		mutate(&cfg)
	}

	server := NewWebSocketServer(cfg, nil, coordinator, logger)
	server.SetBroadcastGuard(denyGuard{})
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		ts.Close()
	})

	return &testGateway{server: server, coordinator: coordinator, http: ts}
}

func (g *testGateway) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws?user_id=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, streamID domain.StreamID, userID domain.UserID, data any) {
	t.Helper()
	msg := Message{Type: msgType, StreamID: streamID, UserID: userID, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = raw
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil reads until a message of msgType arrives and returns it together
// with every message type seen on the way.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) (Message, []string) {
	t.Helper()
	var seen []string
	for {
		msg := read(t, conn)
		if msg.Type == msgType {
			return msg, seen
		}
		seen = append(seen, msg.Type)
	}
}

func decode[T any](t *testing.T, msg Message) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(msg.Data, &out))
	return out
}

func join(t *testing.T, conn *websocket.Conn, streamID domain.StreamID, broadcaster bool) JoinedData {
	t.Helper()
	send(t, conn, TypeJoinStream, streamID, "", JoinStreamData{IsBroadcaster: broadcaster})
	msg, _ := readUntil(t, conn, TypeJoined)
	return decode[JoinedData](t, msg)
}

// drain sends a heartbeat and returns the message types received before
// its acknowledgement.
func drain(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	send(t, conn, TypeHeartbeat, "", "", nil)
	_, seen := readUntil(t, conn, TypeHeartbeatAck)
	return seen
}

func count(types []string, msgType string) int {
	n := 0
	for _, tt := range types {
		if tt == msgType {
			n++
		}
	}
	return n
}

func TestWebSocketServer_BroadcasterAndViewers(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	broadcaster := g.dial(t, "host")
	joined := join(t, broadcaster, "S1", true)
	assert.Equal(t, domain.RoleBroadcaster, joined.Role)

	viewers := []*websocket.Conn{g.dial(t, "v1"), g.dial(t, "v2"), g.dial(t, "v3")}
	for i, v := range viewers {
		joined := join(t, v, "S1", false)
		assert.Equal(t, domain.RoleViewer, joined.Role)
		assert.Equal(t, int64(i+1), joined.ViewerCount)
	}

	// each VIEWER_JOIN reaches the broadcaster and earlier viewers only
	assert.Equal(t, 3, count(drain(t, broadcaster), TypeViewerJoin))
	assert.Equal(t, 2, count(drain(t, viewers[0]), TypeViewerJoin))
	assert.Equal(t, 1, count(drain(t, viewers[1]), TypeViewerJoin))
	assert.Equal(t, 0, count(drain(t, viewers[2]), TypeViewerJoin))

	n, err := g.coordinator.ViewerCount(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// drop v2 without a close frame
	require.NoError(t, viewers[1].UnderlyingConn().Close())

	leave, _ := readUntil(t, broadcaster, TypeViewerLeave)
	data := decode[ViewerData](t, leave)
	assert.Equal(t, domain.UserID("v2"), data.ViewerID)
	assert.Equal(t, int64(2), data.ViewerCount)

	leave, _ = readUntil(t, viewers[0], TypeViewerLeave)
	assert.Equal(t, domain.UserID("v2"), decode[ViewerData](t, leave).ViewerID)

	n, err = g.coordinator.ViewerCount(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWebSocketServer_RoomLifecycle(t *testing.T) {
	g := newTestGateway(t, nil)

	viewer := g.dial(t, "v1")
	join(t, viewer, "room-1", false)
	assert.True(t, g.server.HasRoom("room-1"))

	send(t, viewer, TypeLeaveStream, "room-1", "", nil)
	readUntil(t, viewer, TypeLeft)
	assert.False(t, g.server.HasRoom("room-1"))
	assert.Zero(t, g.server.RoomCount())

	// leaving again is a protocol error, not a disconnect
	send(t, viewer, TypeLeaveStream, "room-1", "", nil)
	msg, _ := readUntil(t, viewer, TypeError)
	assert.Equal(t, CodeNotJoined, decode[ErrorData](t, msg).Code)
	assert.Empty(t, drain(t, viewer))
}

func TestWebSocketServer_ProtocolErrors(t *testing.T) {
	g := newTestGateway(t, nil)
	conn := g.dial(t, "u1")

	tests := []struct {
		name string
		send func()
		code string
	}{
		{
			name: "malformed json",
			send: func() { require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json"))) },
			code: CodeInvalidMessage,
		},
		{
			name: "missing type",
			send: func() { require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"stream_id":"s1"}`))) },
			code: CodeInvalidMessage,
		},
		{
			name: "unknown type",
			send: func() { send(t, conn, "DANCE", "s1", "", nil) },
			code: CodeUnknownType,
		},
		{
			name: "offer before join",
			send: func() {
				send(t, conn, TypeOffer, "s1", "", OfferData{Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}})
			},
			code: CodeNotJoined,
		},
		{
			name: "invalid stream id",
			send: func() { send(t, conn, TypeJoinStream, "../s1", "", nil) },
			code: CodeInvalidMessage,
		},
		{
			name: "chat before join",
			send: func() { send(t, conn, TypeChat, "s1", "", ChatData{MessageText: "hi"}) },
			code: CodeNotJoined,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.send()
			msg, _ := readUntil(t, conn, TypeError)
			assert.Equal(t, tt.code, decode[ErrorData](t, msg).Code)
		})
	}

	// the connection survived every error
	assert.Empty(t, drain(t, conn))
}

func TestWebSocketServer_Unauthorized(t *testing.T) {
	g := newTestGateway(t, func(c *Config) { c.AllowAnonymous = false })

	url := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws?user_id=u1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketServer_BroadcasterReplaced(t *testing.T) {
	g := newTestGateway(t, nil)

	first := g.dial(t, "host-a")
	join(t, first, "s1", true)

	second := g.dial(t, "host-b")
	join(t, second, "s1", true)

	msg, _ := readUntil(t, first, TypeError)
	assert.Equal(t, CodeBroadcasterReplaced, decode[ErrorData](t, msg).Code)

	// the replaced broadcaster is back in the connected state
	send(t, first, TypeLeaveStream, "s1", "", nil)
	msg, _ = readUntil(t, first, TypeError)
	assert.Equal(t, CodeNotJoined, decode[ErrorData](t, msg).Code)
	assert.True(t, g.server.HasRoom("s1"))
}

func TestWebSocketServer_BroadcastForbidden(t *testing.T) {
	g := newTestGateway(t, nil)
	conn := g.dial(t, "intruder")

	send(t, conn, TypeJoinStream, "s1", "", JoinStreamData{Role: domain.RoleBroadcaster})
	msg, _ := readUntil(t, conn, TypeError)
	assert.Equal(t, CodeForbidden, decode[ErrorData](t, msg).Code)
	assert.False(t, g.server.HasRoom("s1"))
}

func TestWebSocketServer_EndedStreamRejected(t *testing.T) {
	g := newTestGateway(t, nil)
	streams := memory.NewMemoryStreamRepository()
	require.NoError(t, streams.Save(context.Background(), &domain.Stream{ID: "old", Status: domain.StreamStatusEnded}))
	g.server.SetStreamStore(streams)

	conn := g.dial(t, "v1")
	send(t, conn, TypeJoinStream, "old", "", nil)
	msg, _ := readUntil(t, conn, TypeError)
	assert.Equal(t, CodeForbidden, decode[ErrorData](t, msg).Code)
}

func TestWebSocketServer_OfferNegotiatesSession(t *testing.T) {
	g := newTestGateway(t, nil)
	sessions := new(MockPeerSessions)
	g.server.SetPeerSessions(sessions)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 10.0.0.1 5000 typ host"}

	sessions.On("HandleOffer", domain.StreamID("s1"), offer).Return(answer, nil).Once()
	sessions.On("AddICECandidate", domain.StreamID("s1"), candidate).Return(nil).Once()
	sessions.On("CloseSession", domain.StreamID("s1")).Return(nil).Once()

	host := g.dial(t, "host")
	join(t, host, "s1", true)

	send(t, host, TypeOffer, "s1", "", OfferData{Offer: offer})
	msg, _ := readUntil(t, host, TypeAnswer)
	assert.Equal(t, answer, decode[AnswerData](t, msg).Answer)

	send(t, host, TypeICECandidate, "s1", "", ICECandidateData{Candidate: candidate})
	drain(t, host)

	send(t, host, TypeLeaveStream, "s1", "", nil)
	readUntil(t, host, TypeLeft)

	sessions.AssertExpectations(t)
}

func TestWebSocketServer_OfferSessionFailure(t *testing.T) {
	g := newTestGateway(t, nil)
	sessions := new(MockPeerSessions)
	g.server.SetPeerSessions(sessions)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	sessions.On("HandleOffer", domain.StreamID("s1"), offer).
		Return(webrtc.SessionDescription{}, domain.ErrSessionExists).Once()
	sessions.On("CloseSession", domain.StreamID("s1")).Return(domain.ErrSessionNotFound).Maybe()

	host := g.dial(t, "host")
	join(t, host, "s1", true)

	send(t, host, TypeOffer, "s1", "", OfferData{Offer: offer})
	msg, _ := readUntil(t, host, TypeError)
	assert.Equal(t, CodeSessionError, decode[ErrorData](t, msg).Code)
}

func TestWebSocketServer_RelayToMember(t *testing.T) {
	g := newTestGateway(t, nil)

	host := g.dial(t, "host")
	join(t, host, "s1", true)
	viewer := g.dial(t, "v1")
	join(t, viewer, "s1", false)

	// viewer offer with no target goes to the broadcaster
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 viewer"}
	send(t, viewer, TypeOffer, "s1", "", OfferData{Offer: offer})
	msg, _ := readUntil(t, host, TypeOffer)
	assert.Equal(t, domain.UserID("v1"), msg.UserID)
	assert.Equal(t, offer, decode[OfferData](t, msg).Offer)

	// broadcaster answers the named viewer
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 host"}
	send(t, host, TypeAnswer, "s1", "v1", AnswerData{Answer: answer})
	msg, _ = readUntil(t, viewer, TypeAnswer)
	assert.Equal(t, domain.UserID("host"), msg.UserID)
	assert.Equal(t, answer, decode[AnswerData](t, msg).Answer)

	send(t, host, TypeICECandidate, "s1", "nobody", ICECandidateData{Candidate: webrtc.ICECandidateInit{Candidate: "candidate:x"}})
	msg, _ = readUntil(t, host, TypeError)
	assert.Equal(t, CodeInvalidMessage, decode[ErrorData](t, msg).Code)
}

func TestWebSocketServer_ChatAndReactions(t *testing.T) {
	g := newTestGateway(t, nil)
	history := memory.NewMemoryChatHistory(100)
	g.server.SetChatHistory(history)

	host := g.dial(t, "host")
	join(t, host, "s1", true)
	viewer := g.dial(t, "v1")
	join(t, viewer, "s1", false)

	send(t, viewer, TypeChat, "s1", "", ChatData{MessageText: "  hello  ", SenderName: "Vee"})
	for _, conn := range []*websocket.Conn{host, viewer} {
		msg, _ := readUntil(t, conn, TypeChat)
		chat := decode[ChatData](t, msg)
		assert.Equal(t, "hello", chat.MessageText)
		assert.Equal(t, domain.UserID("v1"), chat.SenderID)
		assert.Equal(t, "text", chat.MessageType)
		assert.NotEmpty(t, chat.MessageID)
	}

	stored, err := history.Range(context.Background(), "s1", time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Text)

	send(t, viewer, TypeReaction, "s1", "", ReactionData{ReactionType: "heart"})
	msg, _ := readUntil(t, host, TypeReaction)
	reaction := decode[ReactionData](t, msg)
	assert.Equal(t, "heart", reaction.ReactionType)
	assert.Equal(t, domain.UserID("v1"), reaction.ViewerID)

	send(t, viewer, TypeReaction, "s1", "", ReactionData{ReactionType: "NOT VALID"})
	msg, _ = readUntil(t, viewer, TypeError)
	assert.Equal(t, CodeInvalidMessage, decode[ErrorData](t, msg).Code)
}

func TestWebSocketServer_RateLimited(t *testing.T) {
	g := newTestGateway(t, func(c *Config) {
		c.MessagesPerSecond = 0.001
		c.Burst = 2
	})
	conn := g.dial(t, "u1")

	send(t, conn, TypeHeartbeat, "", "", nil)
	send(t, conn, TypeHeartbeat, "", "", nil)
	send(t, conn, TypeHeartbeat, "", "", nil)

	assert.Equal(t, TypeHeartbeatAck, read(t, conn).Type)
	assert.Equal(t, TypeHeartbeatAck, read(t, conn).Type)
	msg := read(t, conn)
	require.Equal(t, TypeError, msg.Type)
	assert.Equal(t, CodeRateLimited, decode[ErrorData](t, msg).Code)
}

func TestWebSocketServer_TerminateStream(t *testing.T) {
	g := newTestGateway(t, nil)

	host := g.dial(t, "host")
	join(t, host, "s1", true)
	viewer := g.dial(t, "v1")
	join(t, viewer, "s1", false)

	g.server.TerminateStream(context.Background(), "s1", "broadcaster is no longer verified")

	for _, conn := range []*websocket.Conn{host, viewer} {
		msg, _ := readUntil(t, conn, TypeError)
		assert.Equal(t, CodeStreamTerminated, decode[ErrorData](t, msg).Code)
	}
	assert.False(t, g.server.HasRoom("s1"))

	n, err := g.coordinator.ViewerCount(context.Background(), "s1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWebSocketServer_SessionEvents(t *testing.T) {
	g := newTestGateway(t, nil)
	sessions := new(MockPeerSessions)
	g.server.SetPeerSessions(sessions)
	closed := make(chan struct{}, 4)
	sessions.On("CloseSession", domain.StreamID("s1")).Return(nil).Run(func(mock.Arguments) {
		closed <- struct{}{}
	})

	var hooked []webrtcinfra.EventKind
	g.server.OnSessionEvent(func(ctx context.Context, ev SessionEvent) {
		hooked = append(hooked, ev.Kind)
	})

	host := g.dial(t, "host")
	join(t, host, "s1", true)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan SessionEvent, 4)
	done := make(chan struct{})
	go func() {
		g.server.RunSessionEvents(ctx, events)
		close(done)
	}()

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 192.0.2.1 9 typ host"}
	events <- SessionEvent{StreamID: "s1", Kind: webrtcinfra.EventLocalCandidate, Candidate: &candidate}
	events <- SessionEvent{StreamID: "s1", Kind: webrtcinfra.EventStateChange, State: webrtc.PeerConnectionStateFailed}

	msg, _ := readUntil(t, host, TypeICECandidate)
	assert.Equal(t, candidate, decode[ICECandidateData](t, msg).Candidate)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal state did not close the peer session")
	}

	cancel()
	<-done
	assert.Equal(t, []webrtcinfra.EventKind{webrtcinfra.EventLocalCandidate, webrtcinfra.EventStateChange}, hooked)
}
