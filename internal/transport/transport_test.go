package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/reelhouse/internal/auth"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository/sqlite"
	"github.com/sakif/reelhouse/internal/service"
)

func httptestRequestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

// socketEnv runs the real chat service, hub and handler behind an
// httptest server.
type socketEnv struct {
	t      *testing.T
	db     *sqlite.DB
	chat   *service.ChatService
	hub    *Hub
	tokens *auth.TokenService
	server *httptest.Server
}

func newSocketEnv(t *testing.T, origins ...string) *socketEnv {
	t.Helper()
	logger := testLogger()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("socket-test-secret-0123456789abcdef", time.Hour)
	require.NoError(t, err)

	hub := NewHub(logger)
	chat := service.NewChatService(db, db, db, hub, logger)
	srv := httptest.NewServer(NewHandler(hub, chat, tokens, db, origins, logger))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &socketEnv{t: t, db: db, chat: chat, hub: hub, tokens: tokens, server: srv}
}

func (e *socketEnv) user(name string) *model.User {
	e.t.Helper()
	u := &model.User{Username: name, Email: name + "@example.com"}
	require.NoError(e.t, e.db.CreateUser(context.Background(), u))
	return u
}

func (e *socketEnv) conversation(a, b *model.User) string {
	e.t.Helper()
	conv, _, err := e.chat.CreateOrGetDirectConversation(context.Background(), a.ID, b.ID)
	require.NoError(e.t, err)
	return conv.ID
}

func (e *socketEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http")
}

func (e *socketEnv) dial(userID string) *testConn {
	e.t.Helper()
	token, err := e.tokens.Generate(userID)
	require.NoError(e.t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(e.t, err)
	resp.Body.Close()
	e.t.Cleanup(func() { conn.Close() })
	return &testConn{t: e.t, conn: conn}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (c *testConn) emit(event string, data any, ackID int64) {
	c.t.Helper()
	msg := map[string]any{"event": event, "data": data}
	if ackID != 0 {
		msg["ackId"] = ackID
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// next returns the next frame, failing after two seconds of silence.
func (c *testConn) next() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// expect reads the next frame and checks its event name.
func (c *testConn) expect(event string) json.RawMessage {
	c.t.Helper()
	f := c.next()
	require.Equal(c.t, event, f.Event, string(f.Data))
	return f.Data
}

func (c *testConn) expectAck(ackID int64) Ack {
	c.t.Helper()
	var ack struct {
		AckID   int64           `json:"ackId"`
		OK      bool            `json:"ok"`
		Message json.RawMessage `json:"message"`
		Error   *ErrorBody      `json:"error"`
	}
	require.NoError(c.t, json.Unmarshal(c.expect(EventAck), &ack))
	require.Equal(c.t, ackID, ack.AckID)
	out := Ack{AckID: ack.AckID, OK: ack.OK, Error: ack.Error}
	if len(ack.Message) > 0 {
		out.Message = ack.Message
	}
	return out
}

// =========================================================================
// HANDSHAKE
// =========================================================================

func TestHandshake_RequiresToken(t *testing.T) {
	e := newSocketEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(e.wsURL()+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshake_DeletedAccountIsRejected(t *testing.T) {
	e := newSocketEnv(t)
	u := e.user("alice")
	token, err := e.tokens.Generate(u.ID)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	conn.Close()

	require.NoError(t, e.db.SoftDeleteUser(context.Background(), u.ID))

	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL()+"?token="+token, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ghost, err := e.tokens.Generate("no-such-user")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(e.wsURL()+"?token="+ghost, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshake_QueryTokenAndOrigin(t *testing.T) {
	e := newSocketEnv(t, "https://app.example.com")
	u := e.user("alice")
	token, err := e.tokens.Generate(u.ID)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL()+"?token="+token,
		http.Header{"Origin": []string{"https://app.example.com"}})
	require.NoError(t, err)
	conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL()+"?token="+token,
		http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =========================================================================
// EVENTS
// =========================================================================

func TestSocket_SendBroadcastsAndAcks(t *testing.T) {
	e := newSocketEnv(t)
	alice, bob := e.user("alice"), e.user("bob")
	convID := e.conversation(alice, bob)

	ac, bc := e.dial(alice.ID), e.dial(bob.ID)
	ac.emit(EventJoin, map[string]string{"conversationId": convID}, 1)
	assert.True(t, ac.expectAck(1).OK)
	bc.emit(EventJoin, map[string]string{"conversationId": convID}, 1)
	assert.True(t, bc.expectAck(1).OK)

	// A forged userId in the payload is ignored.
	ac.emit(EventSend, map[string]string{"conversationId": convID, "content": "hello", "userId": bob.ID}, 2)

	var received model.Message
	require.NoError(t, json.Unmarshal(bc.expect(service.EventMessageNew), &received))
	assert.Equal(t, "hello", received.Content)
	assert.Equal(t, alice.ID, received.SenderID)

	// The sender sees the broadcast, then its ack.
	ac.expect(service.EventMessageNew)
	ack := ac.expectAck(2)
	assert.True(t, ack.OK)
	require.NotNil(t, ack.Message)
	var acked model.Message
	require.NoError(t, json.Unmarshal(ack.Message.(json.RawMessage), &acked))
	assert.Equal(t, received.ID, acked.ID)

	bc.emit(EventRead, map[string]string{"conversationId": convID}, 0)
	var read service.ReadEvent
	require.NoError(t, json.Unmarshal(ac.expect(service.EventMessageRead), &read))
	assert.Equal(t, service.ReadEvent{ConversationID: convID, UserID: bob.ID}, read)
}

func TestSocket_TypingGoesToOthersOnly(t *testing.T) {
	e := newSocketEnv(t)
	alice, bob := e.user("alice"), e.user("bob")
	convID := e.conversation(alice, bob)

	ac, bc := e.dial(alice.ID), e.dial(bob.ID)
	for _, c := range []*testConn{ac, bc} {
		c.emit(EventJoin, map[string]string{"conversationId": convID}, 1)
		require.True(t, c.expectAck(1).OK)
	}

	ac.emit(EventTypingStart, map[string]string{"conversationId": convID}, 5)
	// Alice's next frame is her ack, not her own typing event.
	assert.True(t, ac.expectAck(5).OK)

	var typing TypingEvent
	require.NoError(t, json.Unmarshal(bc.expect(EventTyping), &typing))
	assert.Equal(t, TypingEvent{ConversationID: convID, UserID: alice.ID, IsTyping: true}, typing)

	ac.emit(EventTypingStop, map[string]string{"conversationId": convID}, 0)
	require.NoError(t, json.Unmarshal(bc.expect(EventTyping), &typing))
	assert.False(t, typing.IsTyping)
}

func TestSocket_Rejections(t *testing.T) {
	e := newSocketEnv(t)
	alice, bob, carol := e.user("alice"), e.user("bob"), e.user("carol")
	convID := e.conversation(alice, bob)

	cc := e.dial(carol.ID)

	cc.emit(EventJoin, map[string]string{"conversationId": convID}, 1)
	ack := cc.expectAck(1)
	assert.False(t, ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "forbidden", ack.Error.Error)

	cc.emit(EventTypingStart, map[string]string{"conversationId": convID}, 2)
	assert.False(t, cc.expectAck(2).OK)

	cc.emit(EventSend, map[string]string{"conversationId": convID, "content": "let me in"}, 3)
	assert.Equal(t, "forbidden", cc.expectAck(3).Error.Error)

	cc.emit(EventJoin, map[string]string{}, 4)
	assert.Equal(t, "validation_error", cc.expectAck(4).Error.Error)

	// Without an ackId, failures arrive as error events.
	cc.emit("shout", map[string]string{}, 0)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(cc.expect(EventError), &body))
	assert.Equal(t, "validation_error", body.Error)

	require.NoError(t, cc.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	cc.expect(EventError)
}

func TestSocket_DisconnectLeavesRooms(t *testing.T) {
	e := newSocketEnv(t)
	alice, bob := e.user("alice"), e.user("bob")
	convID := e.conversation(alice, bob)

	ac := e.dial(alice.ID)
	ac.emit(EventJoin, map[string]string{"conversationId": convID}, 1)
	require.True(t, ac.expectAck(1).OK)
	require.Equal(t, 1, e.hub.ClientCount())

	require.NoError(t, ac.conn.Close())
	require.Eventually(t, func() bool { return e.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()
	assert.Empty(t, e.hub.rooms)
}
