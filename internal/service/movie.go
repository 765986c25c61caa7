package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

// PosterLookup fetches the poster path of a TMDB title. *tmdb.Client
// implements it.
type PosterLookup interface {
	PosterPath(ctx context.Context, id int64, contentType string) (string, error)
}

// MovieService maintains the local anchor rows for TMDB content.
type MovieService struct {
	movies  repository.MovieRepository
	posters PosterLookup
	logger  *slog.Logger
}

// NewMovieService wires a MovieService. posters may be nil when no TMDB
// key is configured; anchors are then stored without a poster.
func NewMovieService(movies repository.MovieRepository, posters PosterLookup, logger *slog.Logger) *MovieService {
	return &MovieService{movies: movies, posters: posters, logger: logger}
}

// EnsureMovie creates the anchor for a TMDB id on first use.
//
// A row that already has a poster is returned as is. Otherwise the poster is
// looked up (when possible) and the row upserted. Lookup failures are logged
// and the anchor is stored without a poster.
func (s *MovieService) EnsureMovie(ctx context.Context, id int64, contentType string) (*model.Movie, error) {
	if id <= 0 {
		return nil, apperror.ValidationFailed("contentId", "contentId must be a positive TMDB id")
	}
	switch contentType {
	case model.ContentTypeMovie, model.ContentTypeTVSeries:
	case "":
		contentType = model.ContentTypeMovie
	default:
		return nil, apperror.ValidationFailed("type", fmt.Sprintf("unsupported content type %q", contentType))
	}

	existing, err := s.movies.GetMovie(ctx, id)
	switch {
	case err == nil && existing.PosterPath != "":
		return existing, nil
	case err != nil && !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("loading movie %d: %w", id, err)
	}

	m := &model.Movie{ID: id, Type: contentType}
	if s.posters != nil {
		poster, err := s.posters.PosterPath(ctx, id, contentType)
		if err != nil {
			s.logger.Warn("poster lookup failed",
				slog.Int64("contentID", id),
				slog.String("error", err.Error()),
			)
		}
		m.PosterPath = poster
	}

	if err := s.movies.UpsertMovie(ctx, m); err != nil {
		return nil, fmt.Errorf("upserting movie %d: %w", id, err)
	}
	return m, nil
}
