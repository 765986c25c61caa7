package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

var _ repository.ConversationRepository = (*DB)(nil)

// DirectKey canonicalises an unordered pair of user ids. The same two users
// always produce the same key regardless of who starts the conversation.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

func scanConversation(s rowScanner) (*model.Conversation, error) {
	var (
		c   model.Conversation
		key sql.NullString
	)
	if err := s.Scan(&c.ID, &c.IsGroup, &key, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if key.Valid {
		k := key.String
		c.DirectKey = &k
	}
	return &c, nil
}

// FindOrCreateDirect returns the single direct conversation between a and b.
//
// RACE-FREE FIND-OR-CREATE:
// The insert uses ON CONFLICT(direct_key) DO NOTHING. If two requests race,
// the UNIQUE index lets exactly one insert win; the loser inserts nothing and
// both then read back the same row. created is true only for the winner,
// and only the winner adds the participant rows.
func (db *DB) FindOrCreateDirect(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	key := DirectKey(a, b)
	now := time.Now().UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, classify("sqlite: beginning conversation tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, is_group, direct_key, created_at, updated_at)
		 VALUES (?, 0, ?, ?, ?)
		 ON CONFLICT(direct_key) DO NOTHING`,
		xid.New().String(), key, now, now,
	)
	if err != nil {
		return nil, false, classify(fmt.Sprintf("sqlite: inserting conversation %s", key), err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: checking conversation insert: %w", err)
	}

	conv, err := scanConversation(tx.QueryRowContext(ctx,
		`SELECT id, is_group, direct_key, created_at, updated_at
		 FROM conversations WHERE direct_key = ?`, key))
	if err != nil {
		return nil, false, classify(fmt.Sprintf("sqlite: reading conversation %s", key), err)
	}

	if inserted == 1 {
		for _, uid := range []string{a, b} {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
				 VALUES (?, ?, ?)`,
				conv.ID, uid, now,
			)
			if err != nil {
				return nil, false, classify(fmt.Sprintf("sqlite: adding participant %s", uid), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, classify("sqlite: committing conversation", err)
	}
	return conv, inserted == 1, nil
}

// GetConversation returns a conversation by id.
func (db *DB) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := scanConversation(db.conn.QueryRowContext(ctx,
		`SELECT id, is_group, direct_key, created_at, updated_at
		 FROM conversations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("conversation", id)
		}
		return nil, classify(fmt.Sprintf("sqlite: getting conversation %s", id), err)
	}
	return conv, nil
}

// IsParticipant reports whether userID belongs to the conversation. An
// unknown conversation simply has no participants.
func (db *DB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var ok bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_participants
		                WHERE conversation_id = ? AND user_id = ?)`,
		conversationID, userID,
	).Scan(&ok)
	if err != nil {
		return false, classify("sqlite: checking participant", err)
	}
	return ok, nil
}

// ListParticipants returns the public projection of every participant.
func (db *DB) ListParticipants(ctx context.Context, conversationID string) ([]model.UserSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT u.id, u.username, u.image
		 FROM conversation_participants p JOIN users u ON u.id = p.user_id
		 WHERE p.conversation_id = ?
		 ORDER BY p.joined_at, u.id`,
		conversationID,
	)
	if err != nil {
		return nil, classify(fmt.Sprintf("sqlite: listing participants of %s", conversationID), err)
	}
	defer rows.Close()

	var out []model.UserSummary
	for rows.Next() {
		var s model.UserSummary
		if err := rows.Scan(&s.ID, &s.Username, &s.Image); err != nil {
			return nil, fmt.Errorf("sqlite: scanning participant row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: iterating participant rows", err)
	}
	return out, nil
}

// ListConversationSummaries builds the conversation list for userID.
//
// Three queries, each reading every conversation at once rather than one
// query per conversation:
//  1. the conversations with their unread counts
//  2. all participants of those conversations
//  3. the latest message of each (ROW_NUMBER over conversation_id)
//
// Each result set is closed before the next query runs. An in-memory
// database has a single pooled connection, so nested queries would block.
func (db *DB) ListConversationSummaries(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT c.id, c.is_group, c.updated_at,
		        (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.sender_id <> ?
		           AND NOT EXISTS (SELECT 1 FROM message_reads r
		                           WHERE r.message_id = m.id AND r.user_id = ?)) AS unread
		 FROM conversations c
		 JOIN conversation_participants p ON p.conversation_id = c.id
		 WHERE p.user_id = ?
		 ORDER BY c.updated_at DESC, c.rowid DESC`,
		userID, userID, userID,
	)
	if err != nil {
		return nil, classify(fmt.Sprintf("sqlite: listing conversations of %s", userID), err)
	}

	summaries := []model.ConversationSummary{}
	index := map[string]int{}
	for rows.Next() {
		var s model.ConversationSummary
		if err := rows.Scan(&s.ID, &s.IsGroup, timeScanner{&s.UpdatedAt}, &s.Unread); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning conversation row: %w", err)
		}
		s.Participants = []model.UserSummary{}
		index[s.ID] = len(summaries)
		summaries = append(summaries, s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, classify("sqlite: iterating conversation rows", err)
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	if err := db.fillParticipants(ctx, userID, summaries, index); err != nil {
		return nil, err
	}
	if err := db.fillLastMessages(ctx, userID, summaries, index); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (db *DB) fillParticipants(ctx context.Context, userID string, summaries []model.ConversationSummary, index map[string]int) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT p.conversation_id, u.id, u.username, u.image
		 FROM conversation_participants p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.conversation_id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)
		 ORDER BY p.joined_at, u.id`,
		userID,
	)
	if err != nil {
		return classify("sqlite: listing conversation participants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			convID string
			s      model.UserSummary
		)
		if err := rows.Scan(&convID, &s.ID, &s.Username, &s.Image); err != nil {
			return fmt.Errorf("sqlite: scanning participant row: %w", err)
		}
		if i, ok := index[convID]; ok {
			summaries[i].Participants = append(summaries[i].Participants, s)
		}
	}
	if err := rows.Err(); err != nil {
		return classify("sqlite: iterating participant rows", err)
	}
	return nil
}

func (db *DB) fillLastMessages(ctx context.Context, userID string, summaries []model.ConversationSummary, index map[string]int) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, content, type, created_at, is_read, username, image
		 FROM (
		     SELECT m.id, m.conversation_id, m.sender_id, m.content, m.type, m.created_at,
		            EXISTS (SELECT 1 FROM message_reads r
		                    WHERE r.message_id = m.id AND r.user_id <> m.sender_id) AS is_read,
		            u.username, u.image,
		            ROW_NUMBER() OVER (PARTITION BY m.conversation_id
		                               ORDER BY m.created_at DESC, m.rowid DESC) AS rn
		     FROM messages m
		     JOIN users u ON u.id = m.sender_id
		     WHERE m.conversation_id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)
		 )
		 WHERE rn = 1`,
		userID,
	)
	if err != nil {
		return classify("sqlite: listing last messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return fmt.Errorf("sqlite: scanning last message row: %w", err)
		}
		if i, ok := index[m.ConversationID]; ok {
			summaries[i].LastMessage = m
		}
	}
	if err := rows.Err(); err != nil {
		return classify("sqlite: iterating last message rows", err)
	}
	return nil
}
