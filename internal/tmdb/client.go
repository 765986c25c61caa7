// Package tmdb is a small client for The Movie Database API. The app only
// needs poster paths for the local Movie anchor rows.
//
// Every call passes through a token-bucket limiter and a circuit breaker,
// so a slow or failing TMDB degrades to "no poster" instead of piling up
// goroutines behind a 15 second timeout.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/sakif/reelhouse/internal/metrics"
	"github.com/sakif/reelhouse/internal/model"
)

const (
	DefaultBaseURL = "https://api.themoviedb.org/3"
	DefaultTimeout = 15 * time.Second

	// TMDB allows roughly 50 requests per second per key.
	defaultRate  = 20
	defaultBurst = 10

	tripAfter = 5
)

// ErrNotFound means TMDB has no title with that id.
var ErrNotFound = errors.New("tmdb: title not found")

// Config configures a Client. Zero values fall back to the defaults.
type Config struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tmdb: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	c := &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		// A missing title is a valid answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("tmdb: circuit breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// PosterPath returns the poster path ("/abc.jpg") of a movie or TV series.
// An empty string with a nil error means TMDB has no poster for it.
func (c *Client) PosterPath(ctx context.Context, id int64, contentType string) (string, error) {
	kind := "movie"
	if contentType == model.ContentTypeTVSeries {
		kind = "tv"
	}

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RecordTMDBRequest("rate_limited")
		return "", fmt.Errorf("tmdb: waiting for rate limiter: %w", err)
	}

	poster, err := c.breaker.Execute(func() (string, error) {
		return c.fetchPoster(ctx, kind, id)
	})
	switch {
	case err == nil:
		metrics.RecordTMDBRequest("ok")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordTMDBRequest("circuit_open")
	case errors.Is(err, ErrNotFound):
		metrics.RecordTMDBRequest("not_found")
	default:
		metrics.RecordTMDBRequest("error")
	}
	return poster, err
}

type titleResponse struct {
	PosterPath *string `json:"poster_path"`
}

func (c *Client) fetchPoster(ctx context.Context, kind string, id int64) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%d", c.baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("tmdb: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	// v4 read access tokens are JWTs and go in the header; v3 keys go in
	// the query string.
	if strings.Count(c.apiKey, ".") == 2 {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		req.URL.RawQuery = url.Values{"api_key": {c.apiKey}}.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tmdb: GET /%s/%d: %w", kind, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("tmdb: GET /%s/%d: status %d: %s", kind, id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var title titleResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&title); err != nil {
		return "", fmt.Errorf("tmdb: decoding /%s/%d: %w", kind, id, err)
	}
	if title.PosterPath == nil {
		return "", nil
	}
	return *title.PosterPath, nil
}
