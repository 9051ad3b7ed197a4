package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/monitoring"
	"github.com/verawat1234/tchat-sub013/pkg/tracing"
	"github.com/verawat1234/tchat-sub013/pkg/utils"
	"github.com/verawat1234/tchat-sub013/pkg/validation"
)

var errMissingIdentity = errors.New("missing caller identity")

// BroadcastGuard decides whether a user may take the broadcaster role.
type BroadcastGuard interface {
	CheckBroadcastPermission(ctx context.Context, userID domain.UserID, streamID domain.StreamID) error
}

type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	SendQueueSize     int
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	// AllowAnonymous accepts a bare user_id query parameter when no token
	// is presented.
	AllowAnonymous bool
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		MaxMessageSize: 64 * 1024,
	}
}

// WebSocketServer is the signaling gateway: it owns the room registry and
// runs the join/leave/offer/answer/ICE/chat protocol per connection.
type WebSocketServer struct {
	cfg      Config
	upgrader websocket.Upgrader

	auth     ports.Authenticator
	viewers  ports.ViewerCoordinator
	sessions ports.PeerSessions
	guard    BroadcastGuard
	streams  ports.StreamStore
	chat     ports.ChatHistory
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger

	rooms *roomRegistry

	mu      sync.RWMutex
	clients map[string]*Client
	wg      sync.WaitGroup

	sessionHooks []func(ctx context.Context, ev SessionEvent)
}

func NewWebSocketServer(cfg Config, auth ports.Authenticator, viewers ports.ViewerCoordinator, logger *zap.SugaredLogger) *WebSocketServer {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}

	s := &WebSocketServer{
		cfg:     cfg,
		auth:    auth,
		viewers: viewers,
		logger:  logger,
		rooms:   newRoomRegistry(),
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) SetPeerSessions(sessions ports.PeerSessions) { s.sessions = sessions }
func (s *WebSocketServer) SetBroadcastGuard(guard BroadcastGuard)      { s.guard = guard }
func (s *WebSocketServer) SetStreamStore(streams ports.StreamStore)    { s.streams = streams }
func (s *WebSocketServer) SetChatHistory(chat ports.ChatHistory)       { s.chat = chat }
func (s *WebSocketServer) SetMetrics(m *monitoring.PrometheusCollector) {
	s.metrics = m
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// identify resolves the caller from a token (query or bearer header), or
// from user_id when anonymous access is enabled.
func (s *WebSocketServer) identify(r *http.Request) (domain.UserID, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token != "" && s.auth != nil {
		return s.auth.Authenticate(token)
	}
	if s.cfg.AllowAnonymous {
		if id := r.URL.Query().Get("user_id"); id != "" {
			if err := validation.ValidateUserID(id); err != nil {
				return "", err
			}
			return domain.UserID(id), nil
		}
	}
	return "", errMissingIdentity
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identify(r)
	if err != nil {
		s.logger.Infow("websocket connection rejected", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), burst)
	}
	client := newClient(conn, userID, s.cfg.SendQueueSize, limiter)

	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()
	s.wg.Add(1)
	defer s.wg.Done()

	s.metrics.RecordClientConnected()
	s.logger.Infow("client connected", "connection_id", client.id, "user_id", userID)

	go s.writePump(client)
	s.readPump(client)
	s.disconnect(client)
}

func (s *WebSocketServer) readPump(c *Client) {
	conn := c.conn
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		c.touch()
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("connection closed unexpectedly", "connection_id", c.id, "user_id", c.userID, "error", err)
			}
			return
		}
		c.touch()
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if !c.allow() {
			s.deliver(c, errorMessage("", CodeRateLimited, "message rate exceeded"))
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			s.deliver(c, errorMessage("", CodeInvalidMessage, "malformed message envelope"))
			continue
		}
		s.metrics.RecordMessage(msg.Type)

		if err := s.handleMessage(context.Background(), c, msg); err != nil {
			s.replyError(c, msg.StreamID, err)
		}
	}
}

func (s *WebSocketServer) writePump(c *Client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debugw("write failed", "connection_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("ping failed", "connection_id", c.id, "error", err)
				return
			}
		}
	}
}

// disconnect runs once per connection after the read loop ends.
func (s *WebSocketServer) disconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if streamID, _ := c.Stream(); streamID != "" {
		s.leave(ctx, c, streamID)
	}

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	c.close()
	s.metrics.RecordClientDisconnected()
	s.logger.Infow("client disconnected", "connection_id", c.id, "user_id", c.userID)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, c *Client, msg Message) error {
	ctx, span := tracing.TraceWebSocketMessage(ctx, msg.Type, string(c.userID))
	defer span.End()

	var err error
	switch msg.Type {
	case TypeJoinStream:
		err = s.handleJoin(ctx, c, msg)
	case TypeLeaveStream:
		err = s.handleLeave(ctx, c, msg)
	case TypeOffer:
		err = s.handleOffer(ctx, c, msg)
	case TypeAnswer:
		err = s.handleAnswer(ctx, c, msg)
	case TypeICECandidate:
		err = s.handleICECandidate(ctx, c, msg)
	case TypeHeartbeat:
		s.deliver(c, newMessage(TypeHeartbeatAck, msg.StreamID, "", nil))
	case TypeChat:
		err = s.handleChat(ctx, c, msg)
	case TypeReaction:
		err = s.handleReaction(ctx, c, msg)
	default:
		err = newProtocolError(CodeUnknownType, fmt.Sprintf("unknown message type: %s", msg.Type))
	}

	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (s *WebSocketServer) replyError(c *Client, streamID domain.StreamID, err error) {
	code := CodeSessionError
	var perr *protocolError
	if errors.As(err, &perr) {
		code = perr.code
		err = errors.New(perr.msg)
	}
	s.logger.Infow("message rejected",
		"connection_id", c.id,
		"user_id", c.userID,
		"code", code,
		"error", err,
	)
	s.deliver(c, errorMessage(streamID, code, err.Error()))
}

// joined returns the stream the client is in, checking it against the
// envelope's stream_id when one is given.
func (s *WebSocketServer) joined(c *Client, msg Message) (domain.StreamID, domain.ClientRole, error) {
	streamID, role := c.Stream()
	if streamID == "" {
		return "", "", newProtocolError(CodeNotJoined, domain.ErrNotJoined.Error())
	}
	if msg.StreamID != "" && msg.StreamID != streamID {
		return "", "", newProtocolError(CodeNotJoined, fmt.Sprintf("not joined to stream %s", msg.StreamID))
	}
	return streamID, role, nil
}

func (s *WebSocketServer) handleJoin(ctx context.Context, c *Client, msg Message) error {
	streamID := msg.StreamID
	if err := validation.ValidateStreamID(string(streamID)); err != nil {
		return newProtocolError(CodeInvalidMessage, err.Error())
	}

	var data JoinStreamData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return newProtocolError(CodeInvalidMessage, "invalid join-stream data")
		}
	}
	role := data.role()

	if s.streams != nil {
		stream, err := s.streams.Get(ctx, streamID)
		switch {
		case err == nil && (stream.Status == domain.StreamStatusEnded || stream.Status == domain.StreamStatusTerminated):
			return newProtocolError(CodeForbidden, fmt.Sprintf("stream is %s", stream.Status))
		case err != nil && !errors.Is(err, domain.ErrStreamNotFound):
			return fmt.Errorf("failed to load stream: %w", err)
		}
	}

	if role == domain.RoleBroadcaster && s.guard != nil {
		if err := s.guard.CheckBroadcastPermission(ctx, c.userID, streamID); err != nil {
			return newProtocolError(CodeForbidden, "not allowed to broadcast on this stream")
		}
	}

	if prev, _ := c.Stream(); prev != "" {
		s.leave(ctx, c, prev)
	}

	replaced := s.rooms.join(streamID, c, role)
	c.setStream(streamID, role)

	if replaced != nil {
		replaced.clearStream(streamID)
		s.logger.Warnw("broadcaster replaced",
			"stream_id", streamID,
			"previous_user_id", replaced.userID,
			"user_id", c.userID,
		)
		s.deliver(replaced, errorMessage(streamID, CodeBroadcasterReplaced, "another broadcaster joined this stream"))
	}

	var count int64
	if role == domain.RoleViewer {
		if s.viewers != nil {
			if err := s.viewers.PublishViewerJoin(ctx, streamID, c.userID); err != nil {
				s.logger.Warnw("failed to publish viewer join", "stream_id", streamID, "user_id", c.userID, "error", err)
			}
		}
		count = s.viewerCount(ctx, streamID)
		s.BroadcastToStream(streamID, newMessage(TypeViewerJoin, streamID, c.userID, ViewerData{
			StreamID:    streamID,
			ViewerID:    c.userID,
			ViewerCount: count,
			Timestamp:   time.Now().UTC(),
		}), c.userID)
	} else {
		count = s.viewerCount(ctx, streamID)
	}
	s.metrics.SetRooms(s.rooms.len())

	s.logger.Infow("client joined stream",
		"connection_id", c.id,
		"user_id", c.userID,
		"stream_id", streamID,
		"role", role,
		"viewer_count", count,
	)

	s.deliver(c, newMessage(TypeJoined, streamID, c.userID, JoinedData{
		StreamID:     streamID,
		ConnectionID: c.id,
		Role:         role,
		ViewerCount:  count,
	}))
	return nil
}

func (s *WebSocketServer) handleLeave(ctx context.Context, c *Client, msg Message) error {
	streamID, _, err := s.joined(c, msg)
	if err != nil {
		return err
	}
	s.leave(ctx, c, streamID)
	s.deliver(c, newMessage(TypeLeft, streamID, c.userID, nil))
	return nil
}

// leave removes c from streamID and propagates the departure.
func (s *WebSocketServer) leave(ctx context.Context, c *Client, streamID domain.StreamID) {
	c.clearStream(streamID)
	role, ok := s.rooms.leave(streamID, c)
	if !ok {
		return
	}

	switch role {
	case domain.RoleViewer:
		if s.viewers != nil {
			if err := s.viewers.PublishViewerLeave(ctx, streamID, c.userID); err != nil {
				s.logger.Warnw("failed to publish viewer leave", "stream_id", streamID, "user_id", c.userID, "error", err)
			}
		}
		count := s.viewerCount(ctx, streamID)
		s.BroadcastToStream(streamID, newMessage(TypeViewerLeave, streamID, c.userID, ViewerData{
			StreamID:    streamID,
			ViewerID:    c.userID,
			ViewerCount: count,
			Timestamp:   time.Now().UTC(),
		}), "")

	case domain.RoleBroadcaster:
		if s.sessions != nil {
			if err := s.sessions.CloseSession(streamID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
				s.logger.Warnw("failed to close peer session", "stream_id", streamID, "error", err)
			}
		}
	}

	s.metrics.SetRooms(s.rooms.len())
	s.logger.Infow("client left stream",
		"connection_id", c.id,
		"user_id", c.userID,
		"stream_id", streamID,
		"role", role,
	)
}

func (s *WebSocketServer) viewerCount(ctx context.Context, streamID domain.StreamID) int64 {
	count := int64(s.rooms.viewerCount(streamID))
	if s.viewers != nil {
		n, err := s.viewers.ViewerCount(ctx, streamID)
		if err != nil {
			s.logger.Warnw("failed to read viewer count", "stream_id", streamID, "error", err)
		} else {
			count = n
		}
	}
	s.metrics.SetViewers(streamID, count)
	return count
}

// target resolves the recipient of a relayed message: the named user when
// user_id is set, otherwise the room's broadcaster.
func (s *WebSocketServer) target(c *Client, streamID domain.StreamID, userID domain.UserID) (*Client, error) {
	if userID != "" {
		t := s.rooms.findUser(streamID, userID)
		if t == nil {
			return nil, newProtocolError(CodeInvalidMessage, fmt.Sprintf("user %s is not in stream %s", userID, streamID))
		}
		return t, nil
	}
	b := s.rooms.broadcaster(streamID)
	if b == nil || b == c {
		return nil, newProtocolError(CodeSessionError, "stream has no broadcaster")
	}
	return b, nil
}

func (s *WebSocketServer) relay(from *Client, to *Client, msgType string, streamID domain.StreamID, data json.RawMessage) {
	s.deliver(to, Message{
		Type:      msgType,
		StreamID:  streamID,
		UserID:    from.userID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	s.logger.Debugw("relayed signaling message",
		"type", msgType,
		"stream_id", streamID,
		"from_user_id", from.userID,
		"to_user_id", to.userID,
	)
}

func (s *WebSocketServer) handleOffer(ctx context.Context, c *Client, msg Message) error {
	streamID, role, err := s.joined(c, msg)
	if err != nil {
		return err
	}

	var data OfferData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Offer.SDP == "" {
		return newProtocolError(CodeInvalidMessage, "offer requires an SDP")
	}

	if role != domain.RoleBroadcaster || (msg.UserID != "" && msg.UserID != c.userID) {
		to, err := s.target(c, streamID, msg.UserID)
		if err != nil {
			return err
		}
		s.relay(c, to, TypeOffer, streamID, msg.Data)
		return nil
	}

	if s.sessions == nil {
		return newProtocolError(CodeSessionError, "media sessions are not available on this server")
	}

	ctx, span := tracing.TraceWebRTC(ctx, "handle_offer", string(c.userID), string(streamID))
	defer span.End()

	answer, err := s.sessions.HandleOffer(ctx, streamID, data.Offer)
	if err != nil {
		return newProtocolError(CodeSessionError, err.Error())
	}

	s.deliver(c, newMessage(TypeAnswer, streamID, c.userID, AnswerData{Answer: answer}))
	return nil
}

func (s *WebSocketServer) handleAnswer(ctx context.Context, c *Client, msg Message) error {
	streamID, _, err := s.joined(c, msg)
	if err != nil {
		return err
	}

	var data AnswerData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Answer.SDP == "" {
		return newProtocolError(CodeInvalidMessage, "answer requires an SDP")
	}

	to, err := s.target(c, streamID, msg.UserID)
	if err != nil {
		return err
	}
	s.relay(c, to, TypeAnswer, streamID, msg.Data)
	return nil
}

func (s *WebSocketServer) handleICECandidate(ctx context.Context, c *Client, msg Message) error {
	streamID, role, err := s.joined(c, msg)
	if err != nil {
		return err
	}

	var data ICECandidateData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Candidate.Candidate == "" {
		return newProtocolError(CodeInvalidMessage, "ICE candidate is required")
	}

	if role == domain.RoleBroadcaster && (msg.UserID == "" || msg.UserID == c.userID) {
		if s.sessions == nil {
			return newProtocolError(CodeSessionError, "media sessions are not available on this server")
		}
		if err := s.sessions.AddICECandidate(streamID, data.Candidate); err != nil {
			return newProtocolError(CodeSessionError, err.Error())
		}
		return nil
	}

	to, err := s.target(c, streamID, msg.UserID)
	if err != nil {
		return err
	}
	s.relay(c, to, TypeICECandidate, streamID, msg.Data)
	return nil
}

func (s *WebSocketServer) handleChat(ctx context.Context, c *Client, msg Message) error {
	streamID, _, err := s.joined(c, msg)
	if err != nil {
		return err
	}

	var in ChatData
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		return newProtocolError(CodeInvalidMessage, "invalid chat data")
	}
	text := utils.SanitizeString(in.MessageText)
	if err := validation.ValidateChatText(text); err != nil {
		return newProtocolError(CodeInvalidMessage, err.Error())
	}
	if in.MessageType == "" {
		in.MessageType = "text"
	}

	out := ChatData{
		StreamID:    streamID,
		MessageID:   uuid.NewString(),
		SenderID:    c.userID,
		SenderName:  utils.TruncateString(utils.SanitizeString(in.SenderName), 64),
		MessageText: text,
		MessageType: in.MessageType,
		Timestamp:   time.Now().UTC(),
	}

	if s.chat != nil {
		if err := s.chat.Append(ctx, domain.ChatMessage{
			ID:        out.MessageID,
			StreamID:  streamID,
			UserID:    c.userID,
			Text:      text,
			Timestamp: out.Timestamp,
		}); err != nil {
			s.logger.Warnw("failed to store chat message", "stream_id", streamID, "error", err)
		}
	}

	s.BroadcastToStream(streamID, newMessage(TypeChat, streamID, c.userID, out), "")
	return nil
}

func (s *WebSocketServer) handleReaction(ctx context.Context, c *Client, msg Message) error {
	streamID, _, err := s.joined(c, msg)
	if err != nil {
		return err
	}

	var in ReactionData
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		return newProtocolError(CodeInvalidMessage, "invalid reaction data")
	}
	if err := validation.ValidateReactionType(in.ReactionType); err != nil {
		return newProtocolError(CodeInvalidMessage, err.Error())
	}

	s.BroadcastToStream(streamID, newMessage(TypeReaction, streamID, c.userID, ReactionData{
		StreamID:     streamID,
		ReactionID:   uuid.NewString(),
		ViewerID:     c.userID,
		ReactionType: in.ReactionType,
		Timestamp:    time.Now().UTC(),
	}), "")
	return nil
}

// deliver queues msg for one client, dropping it when the queue is full.
func (s *WebSocketServer) deliver(c *Client, msg Message) bool {
	if c.enqueue(msg) {
		return true
	}
	if c.isClosed() {
		return false
	}
	s.logger.Warnw("outbound queue full, message dropped",
		"connection_id", c.id,
		"user_id", c.userID,
		"type", msg.Type,
	)
	s.metrics.RecordDropped(msg.Type)
	return false
}

// BroadcastToStream queues msg for the broadcaster and every viewer of the
// stream except connections of excludeUserID. It never blocks; clients with
// a full queue miss the message. Returns the number of clients reached.
func (s *WebSocketServer) BroadcastToStream(streamID domain.StreamID, msg Message, excludeUserID domain.UserID) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Errorw("failed to encode broadcast", "stream_id", streamID, "type", msg.Type, "error", err)
		return 0
	}

	delivered := 0
	for _, c := range s.rooms.members(streamID, excludeUserID) {
		if c.enqueueRaw(payload) {
			delivered++
			continue
		}
		if c.isClosed() {
			continue
		}
		s.logger.Warnw("outbound queue full, message dropped",
			"connection_id", c.id,
			"user_id", c.userID,
			"stream_id", streamID,
			"type", msg.Type,
		)
		s.metrics.RecordDropped(msg.Type)
	}
	return delivered
}

// TerminateStream tells every member that the stream was shut down and
// removes them from the room. Connections stay open.
func (s *WebSocketServer) TerminateStream(ctx context.Context, streamID domain.StreamID, reason string) {
	s.BroadcastToStream(streamID, errorMessage(streamID, CodeStreamTerminated, reason), "")
	for _, c := range s.rooms.members(streamID, "") {
		s.leave(ctx, c, streamID)
	}
	s.logger.Infow("stream terminated for all members", "stream_id", streamID, "reason", reason)
}

// StreamTerminated lets the gateway act as the KYC monitor's notifier.
func (s *WebSocketServer) StreamTerminated(ctx context.Context, stream *domain.Stream, reason string) error {
	s.TerminateStream(ctx, stream.ID, reason)
	return nil
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *WebSocketServer) RoomCount() int {
	return s.rooms.len()
}

// Streams returns the IDs of streams with at least one member here.
func (s *WebSocketServer) Streams() []domain.StreamID {
	return s.rooms.streamIDs()
}

func (s *WebSocketServer) HasRoom(streamID domain.StreamID) bool {
	return s.rooms.exists(streamID)
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
		"rooms":       s.RoomCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// Shutdown closes every connection and waits for their cleanup, bounded by ctx.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
