package signal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

func testClient(userID domain.UserID, queue int) *Client {
	return newClient(nil, userID, queue, nil)
}

func TestRoomRegistry_Lifecycle(t *testing.T) {
	r := newRoomRegistry()
	host := testClient("host", 1)
	v1 := testClient("v1", 1)
	v2 := testClient("v1", 1) // same user, second connection

	assert.Nil(t, r.join("s1", host, domain.RoleBroadcaster))
	r.join("s1", v1, domain.RoleViewer)
	r.join("s1", v2, domain.RoleViewer)
	assert.Equal(t, 2, r.viewerCount("s1"), "viewers are unique by connection")
	assert.Len(t, r.members("s1", ""), 3)
	assert.Len(t, r.members("s1", "v1"), 1)

	role, ok := r.leave("s1", v1)
	assert.True(t, ok)
	assert.Equal(t, domain.RoleViewer, role)

	role, ok = r.leave("s1", host)
	assert.True(t, ok)
	assert.Equal(t, domain.RoleBroadcaster, role)
	assert.True(t, r.exists("s1"))

	r.leave("s1", v2)
	assert.False(t, r.exists("s1"), "empty room is removed")
	assert.Zero(t, r.len())

	_, ok = r.leave("s1", v2)
	assert.False(t, ok)
}

func TestRoomRegistry_BroadcasterReplacement(t *testing.T) {
	r := newRoomRegistry()
	a := testClient("a", 1)
	b := testClient("b", 1)

	assert.Nil(t, r.join("s1", a, domain.RoleBroadcaster))
	assert.Same(t, a, r.join("s1", b, domain.RoleBroadcaster))
	assert.Same(t, b, r.broadcaster("s1"))

	// the replaced client no longer holds a role in the room
	_, ok := r.leave("s1", a)
	assert.False(t, ok)
}

func TestBroadcastToStream_DropsWhenQueueFull(t *testing.T) {
	s := NewWebSocketServer(DefaultConfig(), nil, nil, zaptest.NewLogger(t).Sugar())
	slow := testClient("slow", 1)
	fast := testClient("fast", 4)
	s.rooms.join("s1", slow, domain.RoleViewer)
	s.rooms.join("s1", fast, domain.RoleViewer)

	msg := newMessage(TypeReaction, "s1", "x", ReactionData{ReactionType: "heart"})
	assert.Equal(t, 2, s.BroadcastToStream("s1", msg, ""))
	assert.Equal(t, 1, s.BroadcastToStream("s1", msg, ""), "slow client's full queue drops the message")
	assert.Equal(t, 0, s.BroadcastToStream("s1", msg, "fast"))

	assert.Len(t, slow.send, 1)
	assert.Len(t, fast.send, 2)

	var got Message
	require.NoError(t, json.Unmarshal(<-fast.send, &got))
	assert.Equal(t, TypeReaction, got.Type)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := testClient("u", 1)
	c.close()
	c.close()
	assert.False(t, c.enqueue(newMessage(TypeHeartbeatAck, "", "", nil)))
}
