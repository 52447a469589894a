package auth

import (
	"net/http"
	"testing"
	"time"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	m, err := NewTokenManager("0123456789012345678901234567890123", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	tok, err := m.Issue("user-1", 5)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Sub != "user-1" || claims.RoleLevel != 5 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, err := NewTokenManager("0123456789012345678901234567890123", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	// NewTokenManager replaces a non-positive ttl with the default, so the
	// negative ttl that yields an already-expired token is set directly.
	m.ttl = -time.Minute
	tok, err := m.Issue("user-1", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Verify(tok); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestClampRoleLevel(t *testing.T) {
	cases := map[int]int{-1: 1, 0: 1, 1: 1, 3: 3, 5: 5, 6: 5, 99: 5}
	for in, want := range cases {
		if got := ClampRoleLevel(in); got != want {
			t.Errorf("ClampRoleLevel(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestIsAdminThreshold(t *testing.T) {
	if IsAdmin(2) {
		t.Fatal("level 2 should not be admin")
	}
	if !IsAdmin(3) {
		t.Fatal("level 3 should be admin")
	}
	if !IsSuperAdmin(5) {
		t.Fatal("level 5 should be super-admin")
	}
	if IsSuperAdmin(4) {
		t.Fatal("level 4 should not be super-admin")
	}
}

func TestExtractTokenPrecedence(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/api?token=query-token", nil)
	req.Header.Set("Authorization", "Bearer header-token")

	if got := ExtractToken(req, "override-token"); got != "override-token" {
		t.Fatalf("expected override precedence, got %q", got)
	}
	if got := ExtractToken(req, ""); got != "query-token" {
		t.Fatalf("expected query precedence over header, got %q", got)
	}

	req2, _ := http.NewRequest(http.MethodGet, "http://example.com/api", nil)
	req2.Header.Set("Authorization", "Bearer header-token")
	if got := ExtractToken(req2, ""); got != "header-token" {
		t.Fatalf("expected header fallback, got %q", got)
	}

	req3, _ := http.NewRequest(http.MethodGet, "http://example.com/api", nil)
	if got := ExtractToken(req3, ""); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}
