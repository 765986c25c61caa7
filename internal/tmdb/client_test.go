package tmdb

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/reelhouse/internal/model"
)

func newTestClient(t *testing.T, apiKey string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: apiKey, BaseURL: srv.URL + "/3/", RequestsPerSecond: 1000, Burst: 100},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{}, slog.Default())
	assert.Error(t, err)
}

func TestPosterPath(t *testing.T) {
	c := newTestClient(t, "v3key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v3key", r.URL.Query().Get("api_key"))
		switch r.URL.Path {
		case "/3/movie/550":
			w.Write([]byte(`{"id":550,"title":"Fight Club","poster_path":"/pB8BM7pdSp6B6Ih7QZ4DrQ3PmJK.jpg"}`))
		case "/3/tv/1399":
			w.Write([]byte(`{"id":1399,"name":"Game of Thrones","poster_path":"/1XS1oqL89opfnbLl8WnZY1O1uJx.jpg"}`))
		case "/3/movie/7":
			w.Write([]byte(`{"id":7,"poster_path":null}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status_code":34,"status_message":"The resource you requested could not be found."}`))
		}
	})
	ctx := context.Background()

	p, err := c.PosterPath(ctx, 550, model.ContentTypeMovie)
	require.NoError(t, err)
	assert.Equal(t, "/pB8BM7pdSp6B6Ih7QZ4DrQ3PmJK.jpg", p)

	p, err = c.PosterPath(ctx, 1399, model.ContentTypeTVSeries)
	require.NoError(t, err)
	assert.Equal(t, "/1XS1oqL89opfnbLl8WnZY1O1uJx.jpg", p)

	p, err = c.PosterPath(ctx, 7, model.ContentTypeMovie)
	require.NoError(t, err)
	assert.Empty(t, p)

	_, err = c.PosterPath(ctx, 999999, model.ContentTypeMovie)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPosterPath_BearerToken(t *testing.T) {
	const token = "eyJhbGciOiJIUzI1NiJ9.eyJhdWQiOiJ4In0.c2ln"
	c := newTestClient(t, token, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		assert.Empty(t, r.URL.Query().Get("api_key"))
		w.Write([]byte(`{"poster_path":"/x.jpg"}`))
	})

	p, err := c.PosterPath(context.Background(), 1, model.ContentTypeMovie)
	require.NoError(t, err)
	assert.Equal(t, "/x.jpg", p)
}

func TestPosterPath_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	for i := 0; i < tripAfter; i++ {
		_, err := c.PosterPath(ctx, 1, model.ContentTypeMovie)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	_, err := c.PosterPath(ctx, 1, model.ContentTypeMovie)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(tripAfter), hits.Load(), "an open breaker does not call TMDB")
}

func TestPosterPath_NotFoundDoesNotTrip(t *testing.T) {
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < tripAfter+2; i++ {
		_, err := c.PosterPath(context.Background(), 1, model.ContentTypeMovie)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestPosterPath_CancelledContext(t *testing.T) {
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PosterPath(ctx, 1, model.ContentTypeMovie)
	assert.Error(t, err)
}
