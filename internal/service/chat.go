// Package service contains the business logic layer of the application.
//
// THE THREE LAYERS:
//
//	Handler / socket transport → parse input, write responses
//	Service                    → validate, authorise, orchestrate
//	Repository                 → read and write the database
//
// Services accept plain values (never *http.Request) and return apperror
// values, so the REST handlers and the WebSocket transport share exactly the
// same rules. Every dependency is an interface injected by the constructor.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/metrics"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

const (
	DefaultMessageLimit = 30
	MaxMessageLimit     = 100
	MaxMessageLength    = 4000
)

// Events pushed to conversation rooms.
const (
	EventMessageNew  = "message:new"
	EventMessageRead = "message:read"
)

// Broadcaster pushes an event to every socket joined to a conversation's
// room. The transport hub implements it. Delivery is best-effort.
type Broadcaster interface {
	Broadcast(conversationID, event string, data any)
}

// ReadEvent is the payload of message:read.
type ReadEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// SendMessageInput carries the fields of a new message.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           string
}

// ChatService handles conversations, messages and read state.
type ChatService struct {
	users         repository.UserRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	broadcaster   Broadcaster
	logger        *slog.Logger
	now           func() time.Time
}

// NewChatService wires a ChatService. broadcaster may be nil, in which case
// nothing is pushed in real time and clients see new data on their next fetch.
func NewChatService(
	users repository.UserRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *ChatService {
	return &ChatService{
		users:         users,
		conversations: conversations,
		messages:      messages,
		broadcaster:   broadcaster,
		logger:        logger,
		now:           time.Now,
	}
}

// ListConversations returns every conversation the user takes part in,
// most recently active first, each with its last message and the number
// of messages from other participants the user has not read.
//
// The full set is returned. Conversation counts per user are small.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	list, err := s.conversations.ListConversationSummaries(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list conversations",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return list, nil
}

// CreateOrGetDirectConversation returns the direct conversation between
// userID and participantID, creating it if needed. created is true only
// when this call made the conversation.
//
// At most one direct conversation exists per unordered pair; the repository
// guarantees it even under concurrent calls from both sides.
func (s *ChatService) CreateOrGetDirectConversation(ctx context.Context, userID, participantID string) (*model.Conversation, bool, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, false, apperror.ValidationFailed("participantId", "participantId is required")
	}
	if participantID == userID {
		return nil, false, apperror.ValidationFailed("participantId", "cannot start a conversation with yourself")
	}

	other, err := s.users.GetUserByID(ctx, participantID)
	if err != nil {
		return nil, false, err
	}
	if other.IsDeleted {
		return nil, false, apperror.NotFound("user", participantID)
	}

	conv, created, err := s.conversations.FindOrCreateDirect(ctx, userID, participantID)
	if err != nil {
		s.logger.Error("failed to find or create conversation",
			slog.String("userID", userID),
			slog.String("participantID", participantID),
			slog.String("error", err.Error()),
		)
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}

	participants, err := s.conversations.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, false, fmt.Errorf("loading participants: %w", err)
	}
	conv.Participants = participants

	if created {
		s.logger.Info("conversation created",
			slog.String("conversationID", conv.ID),
			slog.String("userID", userID),
			slog.String("participantID", participantID),
		)
	}
	return conv, created, nil
}

// GetConversation returns one of the caller's conversations with its
// participants. Non-participants get Forbidden, as for an unknown id.
func (s *ChatService) GetConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	if err := s.ensureParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	participants, err := s.conversations.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}
	conv.Participants = participants
	return conv, nil
}

// ListMessages returns one page of history in chronological order.
//
// PAGINATION:
// Messages are read newest first, limit+1 at a time. The extra row only
// tells us whether older messages exist; it is dropped before returning.
// NextCursor is the oldest message on the page, and passing it back as
// cursor continues with strictly older messages.
func (s *ChatService) ListMessages(ctx context.Context, conversationID, requesterID string, limit int, cursor string) (*model.MessagePage, error) {
	if err := s.ensureParticipant(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}

	if cursor != "" {
		anchor, err := s.messages.GetMessage(ctx, cursor)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return nil, apperror.ValidationFailed("cursor", "cursor does not match a message")
			}
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
		if anchor.ConversationID != conversationID {
			return nil, apperror.ValidationFailed("cursor", "cursor does not match a message")
		}
	}

	rows, err := s.messages.ListMessages(ctx, repository.MessageQuery{
		ConversationID: conversationID,
		Before:         cursor,
		Limit:          limit + 1,
	})
	if err != nil {
		s.logger.Error("failed to list messages",
			slog.String("conversationID", conversationID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	page := &model.MessagePage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}

	// newest-first → chronological
	for i, j := 0, len(page.Items)-1; i < j; i, j = i+1, j-1 {
		page.Items[i], page.Items[j] = page.Items[j], page.Items[i]
	}
	if page.Items == nil {
		page.Items = []model.Message{}
	}
	return page, nil
}

// SendMessage validates, stores and broadcasts a message.
//
// The returned message carries the sender projection so the REST response
// and the message:new broadcast have the same shape.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (*model.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("content must be %d characters or less", MaxMessageLength))
	}

	msgType := in.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	switch msgType {
	case model.MessageTypeText, model.MessageTypeImage, model.MessageTypeMovieShare:
	default:
		return nil, apperror.ValidationFailed("type", fmt.Sprintf("unsupported message type %q", msgType))
	}

	if strings.TrimSpace(in.ConversationID) == "" {
		return nil, apperror.ValidationFailed("conversationId", "conversationId is required")
	}
	if err := s.ensureParticipant(ctx, in.ConversationID, in.SenderID); err != nil {
		return nil, err
	}

	sender, err := s.users.GetUserByID(ctx, in.SenderID)
	if err != nil {
		return nil, fmt.Errorf("loading sender: %w", err)
	}
	if sender.IsDeleted {
		return nil, apperror.Forbidden("account has been deleted")
	}

	msg := &model.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        content,
		Type:           msgType,
		CreatedAt:      s.now(),
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		s.logger.Error("failed to send message",
			slog.String("conversationID", in.ConversationID),
			slog.String("senderID", in.SenderID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("sending message: %w", err)
	}
	summary := sender.Summary()
	msg.Sender = &summary

	metrics.RecordMessageSent(msg.Type)
	s.logger.Info("message sent",
		slog.String("messageID", msg.ID),
		slog.String("conversationID", msg.ConversationID),
		slog.String("senderID", msg.SenderID),
	)

	s.broadcast(msg.ConversationID, EventMessageNew, msg)
	return msg, nil
}

// MarkRead records that readerID has seen every message in the conversation
// sent by someone else. Calling it again marks nothing new. It returns the
// number of messages newly marked. message:read is broadcast after every
// successful call, including one that marked nothing, so other tabs of the
// same reader clear their unread badge either way.
func (s *ChatService) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if strings.TrimSpace(conversationID) == "" {
		return 0, apperror.ValidationFailed("conversationId", "conversationId is required")
	}
	if err := s.ensureParticipant(ctx, conversationID, readerID); err != nil {
		return 0, err
	}

	n, err := s.messages.MarkConversationRead(ctx, conversationID, readerID, s.now())
	if err != nil {
		s.logger.Error("failed to mark conversation read",
			slog.String("conversationID", conversationID),
			slog.String("readerID", readerID),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("marking read: %w", err)
	}

	metrics.RecordReadReceipts(n)
	s.logger.Debug("conversation read",
		slog.String("conversationID", conversationID),
		slog.String("readerID", readerID),
		slog.Int("marked", n),
	)
	s.broadcast(conversationID, EventMessageRead, ReadEvent{ConversationID: conversationID, UserID: readerID})
	return n, nil
}

// CanJoin reports whether userID may subscribe to the conversation's room.
// It is the socket transport's gate for join:conversation.
func (s *ChatService) CanJoin(ctx context.Context, conversationID, userID string) error {
	return s.ensureParticipant(ctx, conversationID, userID)
}

// ensureParticipant returns Forbidden unless userID belongs to the
// conversation. An unknown conversation is also Forbidden, which avoids
// revealing which conversation ids exist.
func (s *ChatService) ensureParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("checking participant: %w", err)
	}
	if !ok {
		return apperror.Forbidden("you are not a participant in this conversation")
	}
	return nil
}

func (s *ChatService) broadcast(conversationID, event string, data any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(conversationID, event, data)
}
