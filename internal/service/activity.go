package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/metrics"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

// MonthLayout is the format of the heatmap month parameter.
const MonthLayout = "2006-01"

// LogActivityInput carries one "watched" event as received from a client.
//
// ActivityDate accepts RFC 3339 ("2024-03-14T23:59:00Z") or a bare date
// ("2024-03-14"). Either way only the calendar day survives.
type LogActivityInput struct {
	UserID       string
	ActivityType string
	ActivityDate string
	ContentID    *int64
	Metadata     json.RawMessage
}

// ActivityService records watch activity and aggregates it into profile
// stats and a calendar heatmap.
//
// TIME ZONE:
// All day, week, month and year boundaries are computed in one configured
// location (activity.timezone). Storing the day key computed in that
// location means a row never moves between days when queried later.
type ActivityService struct {
	activities repository.ActivityRepository
	movies     *MovieService
	logger     *slog.Logger
	loc        *time.Location
	now        func() time.Time
}

// NewActivityService wires an ActivityService. movies may be nil, in which
// case no Movie anchor rows are written. A nil loc means time.Local.
func NewActivityService(
	activities repository.ActivityRepository,
	movies *MovieService,
	loc *time.Location,
	logger *slog.Logger,
) *ActivityService {
	if loc == nil {
		loc = time.Local
	}
	return &ActivityService{
		activities: activities,
		movies:     movies,
		logger:     logger,
		loc:        loc,
		now:        time.Now,
	}
}

// LogActivity validates and appends one activity.
func (s *ActivityService) LogActivity(ctx context.Context, in LogActivityInput) (*model.UserActivity, error) {
	switch in.ActivityType {
	case model.ActivityMovieWatched, model.ActivitySeriesWatched:
	case "":
		return nil, apperror.ValidationFailed("activityType", "activityType is required")
	default:
		return nil, apperror.ValidationFailed("activityType",
			fmt.Sprintf("activityType must be %s or %s", model.ActivityMovieWatched, model.ActivitySeriesWatched))
	}

	if strings.TrimSpace(in.ActivityDate) == "" {
		return nil, apperror.ValidationFailed("activityDate", "activityDate is required")
	}
	day, err := s.parseDay(in.ActivityDate)
	if err != nil {
		return nil, apperror.ValidationFailed("activityDate", "activityDate must be RFC 3339 or YYYY-MM-DD")
	}

	if in.ContentID != nil && *in.ContentID <= 0 {
		return nil, apperror.ValidationFailed("contentId", "contentId must be a positive TMDB id")
	}

	metadata := bytes.TrimSpace(in.Metadata)
	if len(metadata) == 0 || bytes.Equal(metadata, []byte("null")) {
		metadata = []byte(`{}`)
	}
	var fields map[string]any
	if err := json.Unmarshal(metadata, &fields); err != nil {
		return nil, apperror.ValidationFailed("metadata", "metadata must be a JSON object")
	}

	if in.ContentID != nil && s.movies != nil {
		// The anchor row is a convenience for other features; failing to
		// write it must not lose the user's activity.
		if _, err := s.movies.EnsureMovie(ctx, *in.ContentID, contentTypeFor(in.ActivityType, fields)); err != nil {
			s.logger.Warn("could not upsert movie anchor",
				slog.Int64("contentID", *in.ContentID),
				slog.String("error", err.Error()),
			)
		}
	}

	a := &model.UserActivity{
		UserID:       in.UserID,
		ActivityType: in.ActivityType,
		ActivityDate: day,
		ActivityDay:  day.Format(model.DayLayout),
		ContentID:    in.ContentID,
		Metadata:     json.RawMessage(metadata),
	}
	if err := s.activities.CreateActivity(ctx, a); err != nil {
		s.logger.Error("failed to log activity",
			slog.String("userID", in.UserID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("logging activity: %w", err)
	}

	metrics.RecordActivityLogged(a.ActivityType)
	s.logger.Info("activity logged",
		slog.String("activityID", a.ID),
		slog.String("userID", a.UserID),
		slog.String("type", a.ActivityType),
		slog.String("day", a.ActivityDay),
	)
	return a, nil
}

// GetUserActivityStats counts the user's watch activity all-time and since
// the start of the current year, month and week (weeks start on Sunday).
//
// RETRY POLICY:
// If the batch fails with repository.ErrTransient, the store is asked to
// reconnect and the whole batch runs exactly once more. Any other error, or
// a second failure, is returned.
func (s *ActivityService) GetUserActivityStats(ctx context.Context, userID string) (*model.ActivityStats, error) {
	stats, err := s.countStats(ctx, userID)
	if err != nil && errors.Is(err, repository.ErrTransient) {
		s.logger.Warn("transient error computing activity stats, reconnecting",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		metrics.StatsRetries.Inc()
		if rerr := s.activities.Reconnect(ctx); rerr != nil {
			s.logger.Error("reconnect failed", slog.String("error", rerr.Error()))
			return nil, fmt.Errorf("reconnecting activity store: %w", rerr)
		}
		stats, err = s.countStats(ctx, userID)
	}
	if err != nil {
		s.logger.Error("failed to compute activity stats",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("computing activity stats: %w", err)
	}
	return stats, nil
}

// countStats runs the four counts concurrently.
func (s *ActivityService) countStats(ctx context.Context, userID string) (*model.ActivityStats, error) {
	now := s.now().In(s.loc)
	today := startOfDay(now)
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, s.loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))

	var stats model.ActivityStats
	g, gctx := errgroup.WithContext(ctx)

	count := func(dst *int, since string) {
		g.Go(func() error {
			n, err := s.activities.CountActivities(gctx, userID, model.WatchActivityTypes, since)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	count(&stats.TotalActivities, "")
	count(&stats.YearActivities, yearStart.Format(model.DayLayout))
	count(&stats.MonthActivities, monthStart.Format(model.DayLayout))
	count(&stats.WeekActivities, weekStart.Format(model.DayLayout))

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetHeatmapData covers the previous and the current calendar month.
func (s *ActivityService) GetHeatmapData(ctx context.Context, userID string) (*model.Heatmap, error) {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, s.loc)
	end := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, s.loc)
	return s.heatmap(ctx, userID, start, end)
}

// GetHeatmapDataForMonth covers one month given as YYYY-MM.
func (s *ActivityService) GetHeatmapDataForMonth(ctx context.Context, userID, month string) (*model.Heatmap, error) {
	first, err := time.ParseInLocation(MonthLayout, strings.TrimSpace(month), s.loc)
	if err != nil {
		return nil, apperror.ValidationFailed("month", "month must be YYYY-MM")
	}
	end := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, s.loc)
	return s.heatmap(ctx, userID, first, end)
}

func (s *ActivityService) heatmap(ctx context.Context, userID string, start, end time.Time) (*model.Heatmap, error) {
	startDay, endDay := start.Format(model.DayLayout), end.Format(model.DayLayout)

	rows, err := s.activities.ListActivitiesBetween(ctx, userID, model.WatchActivityTypes, startDay, endDay)
	if err != nil {
		s.logger.Error("failed to load heatmap",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("loading heatmap: %w", err)
	}

	h := &model.Heatmap{
		Data:      make(map[string][]model.HeatmapEntry),
		StartDate: startDay,
		EndDate:   endDay,
	}
	for _, a := range rows {
		h.Data[a.ActivityDay] = append(h.Data[a.ActivityDay], model.HeatmapEntry{
			ContentID:    a.ContentID,
			Metadata:     a.Metadata,
			ActivityType: a.ActivityType,
		})
	}
	return h, nil
}

// parseDay turns a client date into midnight of that calendar day in s.loc.
//
// An RFC 3339 timestamp is first converted into s.loc, so the day is the
// one the configured time zone was in at that instant. A bare date or a
// zone-less timestamp is read as already being in s.loc.
func (s *ActivityService) parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return startOfDay(t.In(s.loc)), nil
	}
	for _, layout := range []string{model.DayLayout, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, raw, s.loc); err == nil {
			return startOfDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// contentTypeFor picks the Movie anchor type. metadata.contentType wins
// when present; otherwise the activity type decides.
func contentTypeFor(activityType string, metadata map[string]any) string {
	if ct, ok := metadata["contentType"].(string); ok {
		switch strings.ToLower(ct) {
		case "tv", "tv_series", "series":
			return model.ContentTypeTVSeries
		case "movie":
			return model.ContentTypeMovie
		}
	}
	if activityType == model.ActivitySeriesWatched {
		return model.ContentTypeTVSeries
	}
	return model.ContentTypeMovie
}
