// Package repository declares the storage interfaces the services depend on.
//
// Services never see *sql.DB. They receive these interfaces, which keeps them
// testable with in-memory SQLite or small hand-written fakes when a specific
// failure has to be injected.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/reelhouse/internal/model"
)

// ErrTransient marks a store error that is expected to go away after the
// connection is re-established (busy/locked database, dropped connection).
// Implementations wrap it so callers can test with errors.Is.
var ErrTransient = errors.New("transient store error")

// UserRepository stores accounts.
type UserRepository interface {
	// CreateUser inserts a new user and fills in ID and timestamps.
	// A username, email or GitHub id collision returns apperror.ErrConflict.
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	UpdateUserProfile(ctx context.Context, user *model.User) error
	SoftDeleteUser(ctx context.Context, id string) error
}

// ConversationRepository stores conversations and their participants.
type ConversationRepository interface {
	// FindOrCreateDirect returns the direct conversation between a and b,
	// creating it when none exists. created reports which case happened.
	FindOrCreateDirect(ctx context.Context, a, b string) (conv *model.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]model.UserSummary, error)
	// ListConversationSummaries returns every conversation userID takes part
	// in, newest activity first, with last message and unread count filled in.
	ListConversationSummaries(ctx context.Context, userID string) ([]model.ConversationSummary, error)
}

// MessageQuery selects one page of history. Before, when set, is the id of
// the message the page must be strictly older than.
type MessageQuery struct {
	ConversationID string
	Before         string
	Limit          int
}

// MessageRepository stores messages and per-reader read receipts.
type MessageRepository interface {
	// CreateMessage stores msg and bumps the conversation's updated_at to
	// the message time in the same transaction.
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// ListMessages returns up to q.Limit messages newest first.
	ListMessages(ctx context.Context, q MessageQuery) ([]model.Message, error)
	// MarkConversationRead records a read receipt for readerID on every
	// message in the conversation not sent by readerID. It returns how many
	// receipts were newly written.
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)
}

// ActivityRepository stores the append-only activity log.
type ActivityRepository interface {
	CreateActivity(ctx context.Context, a *model.UserActivity) error
	// CountActivities counts the user's activities of the given types whose
	// day key is on or after sinceDay. An empty sinceDay counts everything.
	CountActivities(ctx context.Context, userID string, types []string, sinceDay string) (int, error)
	// ListActivitiesBetween returns activities with startDay <= day <= endDay.
	ListActivitiesBetween(ctx context.Context, userID string, types []string, startDay, endDay string) ([]model.UserActivity, error)
	// Reconnect re-establishes the underlying connection after ErrTransient.
	Reconnect(ctx context.Context) error
}

// MovieRepository stores the local anchors for external content.
type MovieRepository interface {
	UpsertMovie(ctx context.Context, m *model.Movie) error
	GetMovie(ctx context.Context, id int64) (*model.Movie, error)
}

// FollowRepository stores follow edges.
type FollowRepository interface {
	// CreateFollow is a no-op when the edge already exists.
	CreateFollow(ctx context.Context, followerID, followingID string) error
	DeleteFollow(ctx context.Context, followerID, followingID string) error
	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
	CountFollows(ctx context.Context, userID string) (model.FollowCounts, error)
}
