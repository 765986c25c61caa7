package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/model"
)

type fakePosters struct {
	paths map[int64]string
	err   error
	calls int
}

func (f *fakePosters) PosterPath(_ context.Context, id int64, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.paths[id], nil
}

func TestEnsureMovie_LooksUpPosterOnce(t *testing.T) {
	db := newTestStore(t)
	posters := &fakePosters{paths: map[int64]string{550: "/fight-club.jpg"}}
	svc := NewMovieService(db, posters, testLogger())
	ctx := context.Background()

	m, err := svc.EnsureMovie(ctx, 550, "")
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeMovie, m.Type)
	assert.Equal(t, "/fight-club.jpg", m.PosterPath)

	_, err = svc.EnsureMovie(ctx, 550, model.ContentTypeMovie)
	require.NoError(t, err)
	assert.Equal(t, 1, posters.calls, "a stored poster is reused")
}

func TestEnsureMovie_LookupFailureStillStoresAnchor(t *testing.T) {
	db := newTestStore(t)
	posters := &fakePosters{err: errors.New("tmdb: circuit open")}
	svc := NewMovieService(db, posters, testLogger())

	m, err := svc.EnsureMovie(context.Background(), 27205, model.ContentTypeMovie)
	require.NoError(t, err)
	assert.Empty(t, m.PosterPath)

	stored, err := db.GetMovie(context.Background(), 27205)
	require.NoError(t, err)
	assert.Equal(t, int64(27205), stored.ID)
}

func TestEnsureMovie_NoPosterSource(t *testing.T) {
	db := newTestStore(t)
	svc := NewMovieService(db, nil, testLogger())

	m, err := svc.EnsureMovie(context.Background(), 1, model.ContentTypeTVSeries)
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeTVSeries, m.Type)
}

func TestEnsureMovie_Validation(t *testing.T) {
	svc := NewMovieService(newTestStore(t), nil, testLogger())

	_, err := svc.EnsureMovie(context.Background(), 0, model.ContentTypeMovie)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.EnsureMovie(context.Background(), 5, "podcast")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
