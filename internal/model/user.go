// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// An account can be created by email/password signup or by the GitHub OAuth
// callback. Either way a unique Username is assigned at creation time.
//
// SOFT DELETE:
// Deleting an account never removes the row. Messages, follows and activity
// still reference it, so the row is kept and the personal fields are scrubbed
// (see sqlite.DB.SoftDeleteUser). IsDeleted users cannot log in and cannot be
// messaged or followed.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	Name         string     `json:"name,omitempty"`
	Image        string     `json:"image,omitempty"`
	GitHubID     *int64     `json:"-"`
	PasswordHash string     `json:"-"`
	IsDeleted    bool       `json:"isDeleted"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// UserSummary is the public projection of a user embedded in chat payloads.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Image    string `json:"image"`
}

// Summary returns the public projection of u.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Image: u.Image}
}
