package model

import "time"

// Message types accepted by the chat service.
const (
	MessageTypeText       = "text"
	MessageTypeImage      = "image"
	MessageTypeMovieShare = "movie_share"
)

// Conversation is a chat session between a fixed set of participants.
//
// DirectKey is only set for direct (non-group) conversations. It is the
// sorted pair of participant IDs joined with ":" and carries a UNIQUE
// constraint, so at most one direct conversation exists per unordered pair.
type Conversation struct {
	ID           string        `json:"id"`
	IsGroup      bool          `json:"isGroup"`
	DirectKey    *string       `json:"-"`
	Participants []UserSummary `json:"participants,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ConversationSummary is one row of the conversation list: the conversation,
// who is in it, the latest message and how many messages the viewer has not read.
type ConversationSummary struct {
	ID           string        `json:"id"`
	IsGroup      bool          `json:"isGroup"`
	Participants []UserSummary `json:"participants"`
	LastMessage  *Message      `json:"lastMessage"`
	Unread       int           `json:"unread"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Message belongs to exactly one conversation.
//
// IsRead is a projection, not a stored column: it reports whether at least
// one participant other than the sender has a read receipt for the message.
// Per-reader state lives in the message_reads table.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Sender         *UserSummary `json:"sender,omitempty"`
	Content        string       `json:"content"`
	Type           string       `json:"type"`
	IsRead         bool         `json:"isRead"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// MessagePage is one page of a conversation's history in chronological order.
// NextCursor is empty when there are no older messages.
type MessagePage struct {
	Items      []Message `json:"items"`
	NextCursor string    `json:"nextCursor"`
}
