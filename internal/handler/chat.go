package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/service"
)

// ChatHandler exposes conversations and messages over REST. The same
// ChatService backs the socket transport, so both paths apply one set of
// rules and both trigger the real-time broadcasts.
type ChatHandler struct {
	chat   *service.ChatService
	logger *slog.Logger
}

func NewChatHandler(chat *service.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

type createConversationRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Content        string `json:"content" validate:"required"`
	Type           string `json:"type,omitempty" validate:"omitempty,oneof=text image movie_share"`
}

type markReadRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

// HandleListConversations returns the caller's conversations, most recently
// active first.
//
// HTTP: GET /api/chat/conversations
func (h *ChatHandler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	list, err := h.chat.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleCreateConversation finds or creates the direct conversation with
// another user. 201 when it was created by this call, 200 otherwise.
//
// HTTP: POST /api/chat/conversations
// REQUEST BODY: {"participantId": "..."}
func (h *ChatHandler) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	conv, created, err := h.chat.CreateOrGetDirectConversation(r.Context(), userID, req.ParticipantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conv)
}

// HandleGetConversation returns one conversation with its participants.
//
// HTTP: GET /api/chat/conversations/{id}
func (h *ChatHandler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	conv, err := h.chat.GetConversation(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// HandleListMessages returns one page of history.
//
// HTTP: GET /api/chat/conversations/{id}/messages?limit=30&cursor=<messageId>
func (h *ChatHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.logger, apperror.ValidationFailed("limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	page, err := h.chat.ListMessages(r.Context(), chi.URLParam(r, "id"), userID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleSendMessage stores a message and broadcasts it to the room.
//
// HTTP: POST /api/chat/messages
// REQUEST BODY: {"conversationId": "...", "content": "...", "type": "text"}
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	msg, err := h.chat.SendMessage(r.Context(), service.SendMessageInput{
		ConversationID: req.ConversationID,
		SenderID:       userID,
		Content:        req.Content,
		Type:           req.Type,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleMarkRead marks everything the other participants sent as read by
// the caller.
//
// HTTP: POST /api/chat/messages/read
func (h *ChatHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req markReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if _, err := h.chat.MarkRead(r.Context(), req.ConversationID, userID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
