package signal

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

// Message types. Client-originated types use the names clients already send,
// server-originated ones follow the same envelope.
const (
	TypeJoinStream   = "join-stream"
	TypeLeaveStream  = "leave-stream"
	TypeOffer        = "OFFER"
	TypeAnswer       = "ANSWER"
	TypeICECandidate = "ICE_CANDIDATE"
	TypeHeartbeat    = "heartbeat"
	TypeChat         = "CHAT"
	TypeReaction     = "REACTION"

	TypeJoined       = "joined"
	TypeLeft         = "left"
	TypeHeartbeatAck = "heartbeat-ack"
	TypeViewerJoin   = "VIEWER_JOIN"
	TypeViewerLeave  = "VIEWER_LEAVE"
	TypeError        = "error"
)

// Error codes carried in error envelopes.
const (
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeUnknownType         = "UNKNOWN_TYPE"
	CodeNotJoined           = "NOT_JOINED"
	CodeSessionError        = "SESSION_ERROR"
	CodeRateLimited         = "RATE_LIMITED"
	CodeForbidden           = "FORBIDDEN"
	CodeBroadcasterReplaced = "BROADCASTER_REPLACED"
	CodeStreamTerminated    = "STREAM_TERMINATED"
)

// Message is the JSON envelope for every frame in both directions.
type Message struct {
	Type      string          `json:"type"`
	StreamID  domain.StreamID `json:"stream_id,omitempty"`
	UserID    domain.UserID   `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type JoinStreamData struct {
	IsBroadcaster bool              `json:"is_broadcaster"`
	Role          domain.ClientRole `json:"role,omitempty"`
}

func (d JoinStreamData) role() domain.ClientRole {
	if d.IsBroadcaster || d.Role == domain.RoleBroadcaster {
		return domain.RoleBroadcaster
	}
	return domain.RoleViewer
}

type JoinedData struct {
	StreamID     domain.StreamID   `json:"stream_id"`
	ConnectionID string            `json:"connection_id"`
	Role         domain.ClientRole `json:"role"`
	ViewerCount  int64             `json:"viewer_count"`
}

type OfferData struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

type AnswerData struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidateData struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type ChatData struct {
	StreamID    domain.StreamID `json:"stream_id"`
	MessageID   string          `json:"message_id"`
	SenderID    domain.UserID   `json:"sender_id"`
	SenderName  string          `json:"sender_name,omitempty"`
	MessageText string          `json:"message_text"`
	MessageType string          `json:"message_type"`
	Timestamp   time.Time       `json:"timestamp"`
}

type ReactionData struct {
	StreamID     domain.StreamID `json:"stream_id"`
	ReactionID   string          `json:"reaction_id"`
	ViewerID     domain.UserID   `json:"viewer_id"`
	ReactionType string          `json:"reaction_type"`
	Timestamp    time.Time       `json:"timestamp"`
}

type ViewerData struct {
	StreamID    domain.StreamID `json:"stream_id"`
	ViewerID    domain.UserID   `json:"viewer_id"`
	ViewerCount int64           `json:"viewer_count"`
	Timestamp   time.Time       `json:"timestamp"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newMessage builds an envelope around data. Marshal failures only happen
// for programmer errors, so they degrade to an envelope without data.
func newMessage(msgType string, streamID domain.StreamID, userID domain.UserID, data any) Message {
	msg := Message{
		Type:      msgType,
		StreamID:  streamID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			msg.Data = raw
		}
	}
	return msg
}

func errorMessage(streamID domain.StreamID, code, text string) Message {
	return newMessage(TypeError, streamID, "", ErrorData{Code: code, Message: text})
}

// protocolError is answered to the sender as an error envelope; the
// connection stays open.
type protocolError struct {
	code string
	msg  string
}

func (e *protocolError) Error() string {
	return e.code + ": " + e.msg
}

func newProtocolError(code, msg string) error {
	return &protocolError{code: code, msg: msg}
}
