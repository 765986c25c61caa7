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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, name, image, password_hash, github_id,
	is_deleted, deleted_at, created_at, updated_at`

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u         model.User
		githubID  sql.NullInt64
		deletedAt sql.NullTime
	)
	err := s.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.Name,
		&u.Image,
		&u.PasswordHash,
		&githubID,
		&u.IsDeleted,
		&deletedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

// CreateUser inserts a new user, generating its ID and timestamps.
//
// The username, email and github_id columns are all unique. A collision on
// any of them comes back as apperror.Conflict so the username generator can
// tell "taken, try another" apart from a real failure.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	var githubID any
	if user.GitHubID != nil {
		githubID = *user.GitHubID
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, name, image, password_hash, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.Name,
		user.Image,
		user.PasswordHash,
		githubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return classify(fmt.Sprintf("sqlite: inserting user %s", user.Username), err)
	}
	return nil
}

// GetUserByID retrieves a user by internal ID, including soft-deleted users.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, classify(fmt.Sprintf("sqlite: getting user %s", id), err)
	}
	return u, nil
}

// GetUserByEmail looks up an active user by email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND email <> '' AND is_deleted = 0`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, classify("sqlite: getting user by email", err)
	}
	return u, nil
}

// GetUserByGitHubID looks up an active user by GitHub account id.
func (db *DB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ? AND is_deleted = 0`, githubID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
		}
		return nil, classify(fmt.Sprintf("sqlite: getting user by github_id %d", githubID), err)
	}
	return u, nil
}

// UpdateUserProfile refreshes the display fields (name, image, email).
// Used on each GitHub login so profile changes upstream flow through.
func (db *DB) UpdateUserProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET name = ?, image = ?, email = ?, updated_at = ?
		 WHERE id = ? AND is_deleted = 0`,
		user.Name, user.Image, user.Email, user.UpdatedAt, user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("email", user.Email)
		}
		return classify(fmt.Sprintf("sqlite: updating user %s", user.ID), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// SoftDeleteUser marks the user deleted and scrubs personal data.
//
// The row stays so messages, follows and activity keep a valid foreign key.
// The username is rewritten to "deleted_<id>", which frees the old handle
// and can never collide because ids are unique. Deleting twice is a no-op.
func (db *DB) SoftDeleteUser(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET is_deleted = 1, deleted_at = ?, updated_at = ?,
		     username = 'deleted_' || id, email = '', name = '', image = '',
		     password_hash = '', github_id = NULL
		 WHERE id = ? AND is_deleted = 0`,
		now, now, id,
	)
	if err != nil {
		return classify(fmt.Sprintf("sqlite: soft-deleting user %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either unknown or already deleted; only the first is an error.
		if _, err := db.GetUserByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
