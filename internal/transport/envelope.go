// Package transport is the real-time bridge between browsers and the chat
// service: one WebSocket per signed-in tab, multiplexed over named rooms.
//
//	browser ──ws──▶ Client.readPump ──▶ ChatAPI (service) ──▶ Hub.Broadcast
//	browser ◀─ws── Client.writePump ◀── client.send ◀────────────┘
//
// Frames in both directions are JSON envelopes:
//
//	{"event": "message:send", "data": {...}, "ackId": 7}
//
// Delivery is best-effort and at most once. A client that cannot keep up is
// disconnected rather than buffered for, and there is no replay on
// reconnect: clients refetch history over REST.
package transport

import (
	"encoding/json"
	"errors"

	"github.com/sakif/reelhouse/internal/apperror"
)

// Client → server events.
const (
	EventJoin        = "join:conversation"
	EventLeave       = "leave:conversation"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
	EventSend        = "message:send"
	EventRead        = "message:read"
)

// Server → client events. message:new and message:read are emitted by the
// chat service through Hub.Broadcast.
const (
	EventAck    = "ack"
	EventTyping = "typing"
	EventError  = "error"
)

// inbound is a frame received from a client. Data stays raw until the
// event name says what it should decode into.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID *int64          `json:"ackId,omitempty"`
}

// outbound is a frame sent to a client.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// conversationPayload is the data of join, leave, typing and read events.
// A userId in any payload is ignored: identity comes from the handshake.
type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type sendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
}

// TypingEvent is fanned out to the rest of the room.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// Ack answers an event that carried an ackId. Exactly one of Message and
// Error is set when the event produced one.
type Ack struct {
	AckID   int64      `json:"ackId"`
	OK      bool       `json:"ok"`
	Message any        `json:"message,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody mirrors the REST error shape.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// errorBody turns a service error into something safe to send. Anything
// that is not an apperror becomes a generic internal error.
func errorBody(event string, err error) *ErrorBody {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return &ErrorBody{Error: "internal_error", Message: "An internal error occurred", Event: event}
	}

	kind := "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		kind = "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		kind = "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		kind = "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		kind = "not_found"
	case errors.Is(err, apperror.ErrConflict):
		kind = "conflict"
	}
	if kind == "internal_error" {
		return &ErrorBody{Error: kind, Message: "An internal error occurred", Event: event}
	}
	return &ErrorBody{Error: kind, Message: appErr.Message, Event: event}
}
