package auth

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/mapsync/internal/domain"
)

func TestResolveRoundTrip(t *testing.T) {
	actor := domain.Actor{UserID: uuid.New(), DisplayName: "alice"}
	token, err := SignToken("secret", actor)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	resolved, err := NewJWTResolver("secret").Resolve(token)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.UserID != actor.UserID {
		t.Fatalf("expected user %s, got %s", actor.UserID, resolved.UserID)
	}
	if resolved.DisplayName != "alice" {
		t.Fatalf("expected display name alice, got %q", resolved.DisplayName)
	}
}

func TestResolveWrongSecret(t *testing.T) {
	token, err := SignToken("secret", domain.Actor{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := NewJWTResolver("other-secret").Resolve(token); err == nil {
		t.Fatalf("expected resolve to fail with the wrong secret")
	}
}

func TestResolveEmptyToken(t *testing.T) {
	if _, err := NewJWTResolver("secret").Resolve(""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestResolveNilUUIDSubject(t *testing.T) {
	token, err := SignToken("secret", domain.Actor{})
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := NewJWTResolver("secret").Resolve(token); err != nil {
		t.Fatalf("nil uuid subject should still parse: %v", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/abc?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(r); got != "from-query" {
		t.Fatalf("query token should win, got %q", got)
	}

	r = httptest.NewRequest("GET", "/api/maps", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(r); got != "from-header" {
		t.Fatalf("expected header token, got %q", got)
	}

	r = httptest.NewRequest("GET", "/api/maps", nil)
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}
