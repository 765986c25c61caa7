package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/model"
)

// CookieName is the HttpOnly cookie carrying the session token.
const CookieName = "token"

// contextKey is unexported so no other package can read or overwrite the
// user ID stored by this package.
type contextKey string

const userIDKey contextKey = "userID"

// ErrNoToken is returned by TokenFromRequest when no credential is present.
var ErrNoToken = errors.New("auth: no token in request")

// ErrAccountClosed means the token is valid but its user is unknown or
// soft-deleted.
var ErrAccountClosed = errors.New("auth: account no longer exists")

// ErrAccountLookup wraps a storage failure while resolving the token's user.
var ErrAccountLookup = errors.New("auth: account lookup failed")

// AccountLookup resolves the user behind a token. service.AuthService
// implements it.
type AccountLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAuth rejects requests without a valid token, or whose account is
// gone, and stores the user ID in the context for the rest.
//
// Chi applies middlewares as a chain: req → M1 → M2 → Handler → M2 → M1.
// This one short-circuits the chain when authentication fails.
func RequireAuth(tokens *TokenService, accounts AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := Authenticate(r, tokens, accounts)
			if err != nil {
				WriteAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalAuth stores the user ID when a valid token for a live account is
// present and lets every other request through anonymously.
func OptionalAuth(tokens *TokenService, accounts AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := Authenticate(r, tokens, accounts); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteAuthError writes the JSON body for a failed Authenticate: 500 when
// the account could not be looked up, 401 otherwise.
func WriteAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if errors.Is(err, ErrAccountLookup) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal_error","message":"An internal error occurred"}`))
		return
	}
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user's ID, or ("", false)
// for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// Authenticate extracts and validates the request's token, then checks that
// its user still exists and is not deleted.
func Authenticate(r *http.Request, tokens *TokenService, accounts AccountLookup) (string, error) {
	raw, err := TokenFromRequest(r)
	if err != nil {
		return "", err
	}
	userID, err := tokens.Validate(raw)
	if err != nil {
		return "", err
	}

	user, err := accounts.GetUserByID(r.Context(), userID)
	switch {
	case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrUnauthorized):
		return "", ErrAccountClosed
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrAccountLookup, err)
	case user == nil || user.IsDeleted:
		return "", ErrAccountClosed
	}
	return userID, nil
}

// TokenFromRequest finds the raw token. Lookup order:
//  1. the "token" cookie (browsers, including the WebSocket handshake)
//  2. Authorization: Bearer <token> (API clients)
//  3. ?token=<token> (WebSocket clients that cannot set headers)
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", ErrNoToken
}
