package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/auth"
	"github.com/sakif/reelhouse/internal/repository/sqlite"
)

// newTestAuthService wires an AuthService to an in-memory database.
// bcrypt cost 4 is the minimum and keeps the tests fast.
func newTestAuthService(t *testing.T) (*AuthService, *sqlite.DB) {
	t.Helper()
	db := newTestStore(t)
	ts, err := auth.NewTokenService("test-secret-at-least-32-characters!", 0)
	require.NoError(t, err)
	return NewAuthService(db, ts, auth.NewPasswordServiceForTest(4), testLogger()), db
}

// =========================================================================
// SIGNUP / LOGIN
// =========================================================================

func TestSignup(t *testing.T) {
	svc, _ := newTestAuthService(t)

	res, err := svc.Signup(context.Background(), " Ada@Example.com ", "correct horse", "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.Equal(t, "ada", res.User.Username)
	assert.NotEqual(t, "correct horse", res.User.PasswordHash)

	userID, err := svc.ValidateToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, userID)
}

func TestSignup_Errors(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "ada@example.com", "correct horse", "Ada")
	require.NoError(t, err)

	_, err = svc.Signup(ctx, "ADA@example.com", "another pass", "Ada Again")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = svc.Signup(ctx, "new@example.com", "short", "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.Signup(ctx, "", "correct horse", "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestSignup_SameLocalPartGetsSuffix(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	first, err := svc.Signup(ctx, "sam@one.example", "password-1", "")
	require.NoError(t, err)
	second, err := svc.Signup(ctx, "sam@two.example", "password-2", "")
	require.NoError(t, err)

	assert.Equal(t, "sam", first.User.Username)
	assert.Regexp(t, `^sam\d{4}$`, second.User.Username)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	signed, err := svc.Signup(ctx, "ada@example.com", "correct horse", "Ada")
	require.NoError(t, err)

	res, err := svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, signed.User.ID, res.User.ID)
	assert.NotEmpty(t, res.Token)

	_, err = svc.Login(ctx, "ada@example.com", "wrong horse")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = svc.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

// =========================================================================
// GITHUB
// =========================================================================

func TestLoginOrRegisterGitHub_NewThenReturning(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	gh := &auth.GitHubUser{ID: 42, Login: "OctoCat", Name: "Mona", Email: "octocat@github.com", AvatarURL: "https://avatars.example/42"}

	first, err := svc.LoginOrRegisterGitHub(ctx, gh)
	require.NoError(t, err)
	assert.Equal(t, "octocat", first.User.Username)
	require.NotNil(t, first.User.GitHubID)
	assert.Equal(t, int64(42), *first.User.GitHubID)

	gh.Name = "Mona Lisa"
	gh.AvatarURL = "https://avatars.example/42?v=2"
	second, err := svc.LoginOrRegisterGitHub(ctx, gh)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, "octocat", second.User.Username)

	stored, err := svc.GetUserByID(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mona Lisa", stored.Name)
	assert.Equal(t, "https://avatars.example/42?v=2", stored.Image)
}

func TestLoginOrRegisterGitHub_EmailOwnedByPasswordAccount(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	pw, err := svc.Signup(ctx, "mona@example.com", "correct horse", "Mona")
	require.NoError(t, err)

	res, err := svc.LoginOrRegisterGitHub(ctx, &auth.GitHubUser{ID: 7, Login: "mona", Email: "mona@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, pw.User.ID, res.User.ID)
	assert.Empty(t, res.User.Email)
	assert.Regexp(t, `^mona\d{4}$`, res.User.Username)
}

func TestLoginOrRegisterGitHub_NilUser(t *testing.T) {
	svc, _ := newTestAuthService(t)
	_, err := svc.LoginOrRegisterGitHub(context.Background(), nil)
	assert.Error(t, err)
}

// =========================================================================
// ACCOUNT
// =========================================================================

func TestDeleteAccount(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	res, err := svc.Signup(ctx, "ada@example.com", "correct horse", "Ada")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx, res.User.ID))
	require.NoError(t, svc.DeleteAccount(ctx, res.User.ID), "deleting twice is a no-op")

	_, err = svc.GetUserByID(ctx, res.User.ID)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = svc.Login(ctx, "ada@example.com", "correct horse")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	// The email is free again.
	_, err = svc.Signup(ctx, "ada@example.com", "correct horse", "Ada")
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteAccount(ctx, "missing"), apperror.ErrNotFound)
}

func TestGetUserByID_Unknown(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.GetUserByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = svc.GetUserByID(context.Background(), "")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestValidateToken_Garbage(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}
