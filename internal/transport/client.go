package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/metrics"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBufferSize = 256
	eventTimeout   = 10 * time.Second
)

// ChatAPI is the part of the chat service the transport calls.
// *service.ChatService implements it.
type ChatAPI interface {
	CanJoin(ctx context.Context, conversationID, userID string) error
	SendMessage(ctx context.Context, in service.SendMessageInput) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
}

// Client is one authenticated WebSocket connection.
//
// Two goroutines serve it: readPump decodes and dispatches inbound events
// one at a time, and writePump is the only writer to the connection.
type Client struct {
	hub    *Hub
	chat   ChatAPI
	conn   *websocket.Conn
	userID string
	send   chan []byte
	logger *slog.Logger

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(hub *Hub, chat ChatAPI, conn *websocket.Conn, userID string, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		chat:   chat,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		logger: logger.With(slog.String("userID", userID)),
		rooms:  make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the pumps. It returns immediately.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump reads frames until the connection fails, then unregisters the
// client, which drops all its room memberships.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("socket: unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var env inbound
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			metrics.RecordSocketEvent("invalid", apperror.ErrValidation)
			c.hub.sendTo(c, EventError, &ErrorBody{Error: "validation_error", Message: "frames must be {event, data, ackId?} JSON objects"})
			continue
		}
		c.dispatch(env)
	}
}

// writePump is the connection's only writer: queued frames and pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch runs one inbound event. The result goes back as an ack when the
// event carried an ackId; otherwise only failures are reported, as an
// error event.
func (c *Client) dispatch(env inbound) {
	ctx, cancel := context.WithTimeout(c.ctx, eventTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	switch env.Event {
	case EventJoin:
		err = c.handleJoin(ctx, env.Data)
	case EventLeave:
		err = c.handleLeave(env.Data)
	case EventTypingStart, EventTypingStop:
		err = c.handleTyping(env.Data, env.Event == EventTypingStart)
	case EventSend:
		result, err = c.handleSend(ctx, env.Data)
	case EventRead:
		err = c.handleRead(ctx, env.Data)
	default:
		err = apperror.ValidationFailed("event", "unknown event "+env.Event)
	}

	metrics.RecordSocketEvent(metricEventName(env.Event), err)
	if err != nil {
		c.logger.Debug("socket: event failed",
			slog.String("event", env.Event),
			slog.String("error", err.Error()),
		)
	}

	if env.AckID != nil {
		ack := Ack{AckID: *env.AckID, OK: err == nil, Message: result}
		if err != nil {
			ack.Message = nil
			ack.Error = errorBody(env.Event, err)
		}
		c.hub.sendTo(c, EventAck, ack)
		return
	}
	if err != nil {
		c.hub.sendTo(c, EventError, errorBody(env.Event, err))
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) error {
	p, err := decodeConversation(data)
	if err != nil {
		return err
	}
	if err := c.chat.CanJoin(ctx, p.ConversationID, c.userID); err != nil {
		return err
	}
	c.hub.Join(RoomKey(p.ConversationID), c)
	return nil
}

func (c *Client) handleLeave(data json.RawMessage) error {
	p, err := decodeConversation(data)
	if err != nil {
		return err
	}
	c.hub.Leave(RoomKey(p.ConversationID), c)
	return nil
}

// handleTyping relays typing state to the rest of the room. Only current
// room members may signal, and nothing is stored.
func (c *Client) handleTyping(data json.RawMessage, typing bool) error {
	p, err := decodeConversation(data)
	if err != nil {
		return err
	}
	room := RoomKey(p.ConversationID)
	if !c.hub.InRoom(room, c) {
		return apperror.Forbidden("join the conversation before sending typing events")
	}
	c.hub.broadcast(room, EventTyping, TypingEvent{
		ConversationID: p.ConversationID,
		UserID:         c.userID,
		IsTyping:       typing,
	}, c)
	return nil
}

func (c *Client) handleSend(ctx context.Context, data json.RawMessage) (*model.Message, error) {
	var p sendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperror.ValidationFailed("data", "message:send expects {conversationId, content, type?}")
	}
	return c.chat.SendMessage(ctx, service.SendMessageInput{
		ConversationID: p.ConversationID,
		SenderID:       c.userID,
		Content:        p.Content,
		Type:           p.Type,
	})
}

func (c *Client) handleRead(ctx context.Context, data json.RawMessage) error {
	p, err := decodeConversation(data)
	if err != nil {
		return err
	}
	_, err = c.chat.MarkRead(ctx, p.ConversationID, c.userID)
	return err
}

func decodeConversation(data json.RawMessage) (conversationPayload, error) {
	var p conversationPayload
	if len(data) == 0 || json.Unmarshal(data, &p) != nil {
		return p, apperror.ValidationFailed("data", "expected {conversationId}")
	}
	p.ConversationID = strings.TrimSpace(p.ConversationID)
	if p.ConversationID == "" {
		return p, apperror.ValidationFailed("conversationId", "conversationId is required")
	}
	return p, nil
}

// metricEventName keeps the metric's label set bounded.
func metricEventName(event string) string {
	switch event {
	case EventJoin, EventLeave, EventTypingStart, EventTypingStop, EventSend, EventRead:
		return event
	}
	return "unknown"
}
