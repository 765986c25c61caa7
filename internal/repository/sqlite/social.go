package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

var (
	_ repository.MovieRepository  = (*DB)(nil)
	_ repository.FollowRepository = (*DB)(nil)
)

// =========================================================================
// MOVIES
// =========================================================================

// UpsertMovie creates the anchor row for a TMDB id or refreshes it.
// An empty PosterPath never overwrites a poster that is already cached.
func (db *DB) UpsertMovie(ctx context.Context, m *model.Movie) error {
	now := time.Now().UTC()
	if m.Type == "" {
		m.Type = model.ContentTypeMovie
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO movies (id, type, poster_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     type = excluded.type,
		     poster_path = CASE WHEN excluded.poster_path <> '' THEN excluded.poster_path
		                        ELSE movies.poster_path END,
		     updated_at = excluded.updated_at`,
		m.ID, m.Type, m.PosterPath, now, now,
	)
	if err != nil {
		return classify(fmt.Sprintf("sqlite: upserting movie %d", m.ID), err)
	}

	stored, err := db.GetMovie(ctx, m.ID)
	if err != nil {
		return err
	}
	*m = *stored
	return nil
}

// GetMovie returns the anchor row for a TMDB id.
func (db *DB) GetMovie(ctx context.Context, id int64) (*model.Movie, error) {
	var m model.Movie
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, type, poster_path, created_at, updated_at FROM movies WHERE id = ?`, id,
	).Scan(&m.ID, &m.Type, &m.PosterPath, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("movie", fmt.Sprint(id))
		}
		return nil, classify(fmt.Sprintf("sqlite: getting movie %d", id), err)
	}
	return &m, nil
}

// =========================================================================
// FOLLOWS
// =========================================================================

// CreateFollow adds the edge follower → following. Existing edges are kept.
func (db *DB) CreateFollow(ctx context.Context, followerID, followingID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO follows (follower_id, following_id, created_at) VALUES (?, ?, ?)`,
		followerID, followingID, time.Now().UTC(),
	)
	if err != nil {
		return classify(fmt.Sprintf("sqlite: following %s -> %s", followerID, followingID), err)
	}
	return nil
}

// DeleteFollow removes the edge if present.
func (db *DB) DeleteFollow(ctx context.Context, followerID, followingID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = ? AND following_id = ?`,
		followerID, followingID,
	)
	if err != nil {
		return classify(fmt.Sprintf("sqlite: unfollowing %s -> %s", followerID, followingID), err)
	}
	return nil
}

func (db *DB) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	var ok bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = ? AND following_id = ?)`,
		followerID, followingID,
	).Scan(&ok)
	if err != nil {
		return false, classify("sqlite: checking follow", err)
	}
	return ok, nil
}

// CountFollows counts both directions for userID.
func (db *DB) CountFollows(ctx context.Context, userID string) (model.FollowCounts, error) {
	var c model.FollowCounts
	err := db.conn.QueryRowContext(ctx,
		`SELECT
		     (SELECT COUNT(*) FROM follows WHERE following_id = ?),
		     (SELECT COUNT(*) FROM follows WHERE follower_id = ?)`,
		userID, userID,
	).Scan(&c.Followers, &c.Following)
	if err != nil {
		return c, classify(fmt.Sprintf("sqlite: counting follows for %s", userID), err)
	}
	return c, nil
}
