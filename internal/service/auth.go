package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/auth"
	"github.com/sakif/reelhouse/internal/model"
	"github.com/sakif/reelhouse/internal/repository"
)

// AuthService handles sign-up, sign-in and account deletion.
//
//	AuthHandler (HTTP) → AuthService → UserRepository (DB)
//	                               ↘ TokenService, PasswordService
//
// It never sets cookies or reads requests; the handler owns HTTP.
type AuthService struct {
	users     repository.UserRepository
	usernames *UsernameAllocator
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		usernames: NewUsernameAllocator(users, logger),
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the user and a freshly issued token so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Signup creates an email/password account with a generated username.
// Field formats were checked at the boundary; the service enforces rules
// that need the database (email uniqueness).
func (s *AuthService) Signup(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if len(password) < 8 {
		return nil, apperror.ValidationFailed("password", "password must be at least 8 characters")
	}

	switch _, err := s.users.GetUserByEmail(ctx, email); {
	case err == nil:
		return nil, apperror.Conflict("email", email)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("checking email: %w", err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	user := &model.User{Email: email, Name: name, PasswordHash: hash}
	if err := s.usernames.Create(ctx, user, email, name); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			s.logger.Error("failed to create user", slog.String("error", err.Error()))
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user signed up",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return s.issue(user)
}

// Login checks an email/password pair. Unknown email, wrong password,
// deleted account and OAuth-only account all return the same Unauthorized
// error so the response does not reveal which accounts exist.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	invalid := apperror.Unauthorized("invalid email or password")

	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user.IsDeleted || user.PasswordHash == "" {
		return nil, invalid
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, invalid
		}
		return nil, fmt.Errorf("verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterGitHub handles the OAuth callback.
//
// First login creates the user with a username derived from the GitHub
// login. Later logins refresh name, avatar and email from GitHub. The
// GitHub ID is the stable key; logins can be renamed upstream.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user, err := s.users.GetUserByGitHubID(ctx, ghUser.ID)
	switch {
	case err == nil:
		user.Name = ghUser.Name
		user.Image = ghUser.AvatarURL
		if ghUser.Email != "" {
			user.Email = strings.ToLower(ghUser.Email)
		}
		if err := s.users.UpdateUserProfile(ctx, user); err != nil {
			// A stale profile is not worth failing the login over.
			s.logger.Warn("could not refresh GitHub profile",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}

	case errors.Is(err, apperror.ErrNotFound):
		ghID := ghUser.ID
		user = &model.User{
			Name:     ghUser.Name,
			Image:    ghUser.AvatarURL,
			Email:    strings.ToLower(ghUser.Email),
			GitHubID: &ghID,
		}
		if user.Email != "" {
			if _, err := s.users.GetUserByEmail(ctx, user.Email); err == nil {
				// Email belongs to a password account; don't collide with it.
				user.Email = ""
			}
		}
		if err := s.usernames.Create(ctx, user, ghUser.Login, ghUser.Name, ghUser.Email); err != nil {
			return nil, fmt.Errorf("service/auth: registering GitHub user %d: %w", ghUser.ID, err)
		}
		s.logger.Info("user registered via GitHub",
			slog.String("userID", user.ID),
			slog.String("username", user.Username),
		)

	default:
		return nil, fmt.Errorf("service/auth: looking up GitHub user %d: %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub", slog.String("userID", user.ID))
	return s.issue(user)
}

// GetUserByID returns the user behind an authenticated request. A deleted
// account is reported as Unauthorized: its old tokens must stop working.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.Unauthorized("authentication required")
	}
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("account no longer exists")
		}
		return nil, fmt.Errorf("fetching user %s: %w", id, err)
	}
	if user.IsDeleted {
		return nil, apperror.Unauthorized("account no longer exists")
	}
	return user, nil
}

// DeleteAccount soft-deletes the user and scrubs personal data. Messages,
// follows and activity rows remain and keep pointing at the scrubbed row.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.users.SoftDeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting account %s: %w", userID, err)
	}
	s.logger.Info("account deleted", slog.String("userID", userID))
	return nil
}

// ValidateToken returns the user ID inside a session token.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", apperror.Unauthorized("invalid or expired token")
	}
	return userID, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}
