package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

var _ repository.MessageRepository = (*DB)(nil)

// messageSelect projects a message with its sender and the derived read flag.
//
// is_read is true once anyone other than the sender has a receipt. For a
// direct conversation that is exactly "the other person has seen it".
const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.content, m.type, m.created_at,
	       EXISTS (SELECT 1 FROM message_reads r
	               WHERE r.message_id = m.id AND r.user_id <> m.sender_id) AS is_read,
	       u.username, u.image
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

func scanMessage(s rowScanner) (*model.Message, error) {
	var (
		m      model.Message
		sender model.UserSummary
	)
	err := s.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Content,
		&m.Type,
		timeScanner{&m.CreatedAt},
		&m.IsRead,
		&sender.Username,
		&sender.Image,
	)
	if err != nil {
		return nil, err
	}
	sender.ID = m.SenderID
	m.Sender = &sender
	return &m, nil
}

// CreateMessage inserts msg and bumps the conversation's updated_at so the
// conversation list re-sorts. Both writes share one transaction.
func (db *DB) CreateMessage(ctx context.Context, msg *model.Message) error {
	msg.ID = xid.New().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	// Stored text is compared lexically when paging, so every row must use
	// the same offset.
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("sqlite: beginning message tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.CreatedAt,
	)
	if err != nil {
		return classify(fmt.Sprintf("sqlite: inserting message into %s", msg.ConversationID), err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt, msg.ConversationID,
	)
	if err != nil {
		return classify(fmt.Sprintf("sqlite: touching conversation %s", msg.ConversationID), err)
	}

	if err := tx.Commit(); err != nil {
		return classify("sqlite: committing message", err)
	}
	return nil
}

// GetMessage returns one message with its sender projection.
func (db *DB) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(db.conn.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("message", id)
		}
		return nil, classify(fmt.Sprintf("sqlite: getting message %s", id), err)
	}
	return m, nil
}

// ListMessages returns up to q.Limit messages of a conversation, newest first.
//
// KEYSET PAGINATION:
// When q.Before is set the page starts strictly after that message in
// newest-first order. (created_at, rowid) is compared as a row value, so two
// messages stored in the same instant still page deterministically. The
// caller validates that the cursor message exists.
func (db *DB) ListMessages(ctx context.Context, q repository.MessageQuery) ([]model.Message, error) {
	query := messageSelect + ` WHERE m.conversation_id = ?`
	args := []any{q.ConversationID}

	if q.Before != "" {
		query += ` AND (m.created_at, m.rowid) <
			(SELECT c.created_at, c.rowid FROM messages c WHERE c.id = ?)`
		args = append(args, q.Before)
	}
	query += ` ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Sprintf("sqlite: listing messages of %s", q.ConversationID), err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, q.Limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: iterating message rows", err)
	}
	return msgs, nil
}

// MarkConversationRead writes a receipt for every message readerID did not
// send. INSERT OR IGNORE skips receipts that already exist, so calling it
// again changes nothing and RowsAffected counts only new receipts.
func (db *DB) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		 SELECT id, ?, ? FROM messages
		 WHERE conversation_id = ? AND sender_id <> ?`,
		readerID, at.UTC(), conversationID, readerID,
	)
	if err != nil {
		return 0, classify(fmt.Sprintf("sqlite: marking %s read for %s", conversationID, readerID), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting read receipts: %w", err)
	}
	return int(n), nil
}
