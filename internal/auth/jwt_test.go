package auth

import (
	"strings"
	"testing"
	"time"
)

// newTestTokenService uses a fixed secret so tests are deterministic.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-32-characters!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", 0); err == nil {
		t.Fatal("NewTokenService() should reject short secrets")
	}
	if _, err := NewTokenService("thirty-one-characters-is-short!", 0); err == nil {
		t.Fatal("NewTokenService() should reject a 31 byte secret")
	}
}

func TestNewTokenService_DefaultTTL(t *testing.T) {
	ts, err := NewTokenService("this-secret-is-exactly-32-chars!", 0)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	if ts.TTL() != DefaultTokenTTL {
		t.Errorf("TTL() = %v, want %v", ts.TTL(), DefaultTokenTTL)
	}
}

// =========================================================================
// GENERATE / VALIDATE
// =========================================================================

func TestGenerate_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("user-123")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	// header.payload.signature
	if got := strings.Count(token, "."); got != 2 {
		t.Errorf("token has %d dots, want 2", got)
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("user-abc")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	userID, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if userID != "user-abc" {
		t.Errorf("Validate() = %q, want %q", userID, "user-abc")
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, err := NewTokenService("a-completely-different-secret-value", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	expired, _ := ts.GenerateWithDuration("user-1", -time.Minute)
	valid, _ := ts.Generate("user-1")
	otherUser, _ := ts.Generate("user-2")
	// user-1's header and payload with user-2's signature.
	tampered := valid[:strings.LastIndex(valid, ".")] + otherUser[strings.LastIndex(otherUser, "."):]
	foreign, _ := other.Generate("user-1")
	noSubject, _ := ts.Generate("")

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"tampered signature", tampered},
		{"signed with another secret", foreign},
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"no subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Validate(tt.token); err == nil {
				t.Errorf("Validate(%s) should fail", tt.name)
			}
		})
	}
}
