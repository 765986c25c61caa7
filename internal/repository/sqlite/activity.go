package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

var _ repository.ActivityRepository = (*DB)(nil)

// CreateActivity appends one activity row. The caller has already truncated
// ActivityDate and computed ActivityDay in the activity location.
func (db *DB) CreateActivity(ctx context.Context, a *model.UserActivity) error {
	a.ID = xid.New().String()
	a.CreatedAt = time.Now().UTC()
	if len(a.Metadata) == 0 {
		a.Metadata = json.RawMessage(`{}`)
	}

	var contentID any
	if a.ContentID != nil {
		contentID = *a.ContentID
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_activities
		   (id, user_id, activity_type, activity_date, activity_day, content_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.UserID,
		a.ActivityType,
		a.ActivityDate,
		a.ActivityDay,
		contentID,
		string(a.Metadata),
		a.CreatedAt,
	)
	if err != nil {
		return classify(fmt.Sprintf("sqlite: inserting activity for %s", a.UserID), err)
	}
	return nil
}

// activityFilter builds the shared WHERE clause for a user and a type set.
func activityFilter(userID string, types []string) (string, []any) {
	args := []any{userID}
	where := `user_id = ?`
	if len(types) > 0 {
		where += ` AND activity_type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}
	return where, args
}

// CountActivities counts matching activities on or after sinceDay.
// Day keys are zero-padded YYYY-MM-DD strings, so text order is date order.
func (db *DB) CountActivities(ctx context.Context, userID string, types []string, sinceDay string) (int, error) {
	where, args := activityFilter(userID, types)
	if sinceDay != "" {
		where += ` AND activity_day >= ?`
		args = append(args, sinceDay)
	}

	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_activities WHERE `+where, args...,
	).Scan(&n)
	if err != nil {
		return 0, classify(fmt.Sprintf("sqlite: counting activities for %s", userID), err)
	}
	return n, nil
}

// ListActivitiesBetween returns activities whose day key is within
// [startDay, endDay], oldest first.
func (db *DB) ListActivitiesBetween(ctx context.Context, userID string, types []string, startDay, endDay string) ([]model.UserActivity, error) {
	where, args := activityFilter(userID, types)
	where += ` AND activity_day >= ? AND activity_day <= ?`
	args = append(args, startDay, endDay)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, activity_type, activity_date, activity_day, content_id, metadata, created_at
		 FROM user_activities WHERE `+where+`
		 ORDER BY activity_day, created_at`,
		args...,
	)
	if err != nil {
		return nil, classify(fmt.Sprintf("sqlite: listing activities for %s", userID), err)
	}
	defer rows.Close()

	var out []model.UserActivity
	for rows.Next() {
		var (
			a         model.UserActivity
			contentID sql.NullInt64
			metadata  string
		)
		err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.ActivityType,
			timeScanner{&a.ActivityDate},
			&a.ActivityDay,
			&contentID,
			&metadata,
			timeScanner{&a.CreatedAt},
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning activity row: %w", err)
		}
		if contentID.Valid {
			id := contentID.Int64
			a.ContentID = &id
		}
		a.Metadata = json.RawMessage(metadata)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: iterating activity rows", err)
	}
	return out, nil
}
