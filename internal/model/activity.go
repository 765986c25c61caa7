package model

import (
	"encoding/json"
	"time"
)

// Activity types accepted at the API boundary.
const (
	ActivityMovieWatched  = "movie_watched"
	ActivitySeriesWatched = "series_watched"
)

// WatchActivityTypes lists the activity types counted by stats and heatmaps.
var WatchActivityTypes = []string{ActivityMovieWatched, ActivitySeriesWatched}

// DayLayout is the grouping key format for activities.
const DayLayout = "2006-01-02"

// UserActivity is one append-only "watched" event.
//
// ActivityDate is always midnight in the activity location, and ActivityDay
// is the same instant rendered with DayLayout. Several rows may share a day.
type UserActivity struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	ActivityType string          `json:"activityType"`
	ActivityDate time.Time       `json:"activityDate"`
	ActivityDay  string          `json:"activityDay"`
	ContentID    *int64          `json:"contentId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ActivityStats holds the rolling-window counters shown on a profile.
type ActivityStats struct {
	TotalActivities int `json:"totalActivities"`
	YearActivities  int `json:"yearActivities"`
	MonthActivities int `json:"monthActivities"`
	WeekActivities  int `json:"weekActivities"`
}

// HeatmapEntry is one activity inside a heatmap cell.
type HeatmapEntry struct {
	ContentID    *int64          `json:"contentId"`
	Metadata     json.RawMessage `json:"metadata"`
	ActivityType string          `json:"activityType"`
}

// Heatmap maps each day key in [StartDate, EndDate] that has activity to its entries.
type Heatmap struct {
	Data      map[string][]HeatmapEntry `json:"data"`
	StartDate string                    `json:"startDate"`
	EndDate   string                    `json:"endDate"`
}
