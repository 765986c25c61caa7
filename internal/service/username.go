package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

const (
	minUsernameLength   = 3
	maxUsernameLength   = 20
	usernameSuffixLen   = 4
	maxUsernameAttempts = 10
)

// UsernameAllocator inserts new users under a unique, generated username.
//
// ALGORITHM:
//  1. Derive a base from the first usable hint (GitHub login, email local
//     part, display name): lowercase, only [a-z0-9_], at most 20 chars,
//     padded with "user" when shorter than 3.
//  2. Try the base itself, then base + 4 random digits.
//  3. Each attempt is an INSERT. Only a unique-constraint conflict moves on
//     to the next attempt; any other error stops immediately.
//
// Inserting directly (rather than checking availability first) means two
// signups racing for the same handle cannot both get it.
type UsernameAllocator struct {
	users  repository.UserRepository
	logger *slog.Logger
	suffix func() string
}

// NewUsernameAllocator creates an allocator with a random numeric suffix.
func NewUsernameAllocator(users repository.UserRepository, logger *slog.Logger) *UsernameAllocator {
	return &UsernameAllocator{
		users:  users,
		logger: logger,
		suffix: func() string { return fmt.Sprintf("%04d", rand.IntN(10000)) },
	}
}

// Create inserts user, choosing its Username from hints.
func (a *UsernameAllocator) Create(ctx context.Context, user *model.User, hints ...string) error {
	base := UsernameBase(hints...)
	stem := base
	if len(stem) > maxUsernameLength-usernameSuffixLen {
		stem = stem[:maxUsernameLength-usernameSuffixLen]
	}

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		user.Username = base
		if attempt > 0 {
			user.Username = stem + a.suffix()
		}

		err := a.users.CreateUser(ctx, user)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return err
		}
		a.logger.Debug("username taken, retrying",
			slog.String("candidate", user.Username),
			slog.Int("attempt", attempt+1),
		)
	}

	a.logger.Warn("username generation exhausted", slog.String("base", base))
	return apperror.Conflict("username", base)
}

// UsernameBase derives the base handle from the first hint that yields
// any valid characters. Email addresses contribute their local part.
func UsernameBase(hints ...string) string {
	for _, h := range hints {
		if at := strings.IndexByte(h, '@'); at >= 0 {
			h = h[:at]
		}
		if base := sanitizeUsername(h); base != "" {
			return padUsername(base)
		}
	}
	return "user"
}

// sanitizeUsername lowercases s and keeps [a-z0-9_]. Separators common in
// names and handles ('-', '.', ' ') become '_'.
func sanitizeUsername(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-', r == '.', r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > maxUsernameLength {
		out = out[:maxUsernameLength]
	}
	return out
}

func padUsername(s string) string {
	if len(s) < minUsernameLength {
		s += "user"
	}
	return s
}
