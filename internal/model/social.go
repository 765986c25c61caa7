package model

import "time"

// Content types for the local Movie anchor.
const (
	ContentTypeMovie    = "movie"
	ContentTypeTVSeries = "tv_series"
)

// Movie is the local anchor row for external TMDB content. The primary key
// is the TMDB id itself; nothing else about the title is stored locally.
type Movie struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	PosterPath string    `json:"posterPath"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Follow is a directed edge: FollowerID follows FollowingID.
type Follow struct {
	FollowerID  string    `json:"followerId"`
	FollowingID string    `json:"followingId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FollowCounts summarises both directions of a user's follow graph.
type FollowCounts struct {
	Followers int `json:"followers"`
	Following int `json:"following"`
}
