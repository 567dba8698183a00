package token

import (
	"testing"
	"time"

	"ojbackend/pkg/errors"
)

func newTestAuthority(t *testing.T, ttl time.Duration) *Authority {
	t.Helper()
	authority, err := NewAuthority(Config{Secret: "test-secret", TTL: ttl})
	if err != nil {
		t.Fatalf("NewAuthority failed: %v", err)
	}
	return authority
}

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	authority := newTestAuthority(t, time.Minute)

	raw, err := authority.Issue("sub-1", "alice")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if raw == "" {
		t.Fatal("expected a non-empty token")
	}

	creator, err := authority.Verify("sub-1", raw)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if creator != "alice" {
		t.Errorf("creator: got %q, want %q", creator, "alice")
	}
}

func TestVerifyRejectsWrongSubmission(t *testing.T) {
	t.Parallel()

	authority := newTestAuthority(t, time.Minute)

	raw, err := authority.Issue("sub-1", "alice")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := authority.Verify("sub-2", raw); !errors.Is(err, errors.TokenInvalid) {
		t.Errorf("expected TokenInvalid for mismatched submission, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	authority := newTestAuthority(t, time.Minute).WithClock(func() time.Time { return now })

	raw, err := authority.Issue("sub-1", "alice")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := authority.Verify("sub-1", raw); !errors.Is(err, errors.TokenExpired) {
		t.Errorf("expected TokenExpired, got %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	authority := newTestAuthority(t, time.Minute)

	raw, err := authority.Issue("sub-1", "alice")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	tampered := raw[:len(raw)-2] + "xx"
	if _, err := authority.Verify("sub-1", tampered); !errors.Is(err, errors.TokenInvalid) {
		t.Errorf("expected TokenInvalid for tampered token, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	t.Parallel()

	issuer := newTestAuthority(t, time.Minute)
	other, err := NewAuthority(Config{Secret: "another-secret", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewAuthority failed: %v", err)
	}

	raw, err := issuer.Issue("sub-1", "alice")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := other.Verify("sub-1", raw); !errors.Is(err, errors.TokenInvalid) {
		t.Errorf("expected TokenInvalid for foreign secret, got %v", err)
	}
}

func TestVerifyRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	authority := newTestAuthority(t, time.Minute)
	if _, err := authority.Verify("sub-1", ""); !errors.Is(err, errors.TokenInvalid) {
		t.Errorf("expected TokenInvalid for empty token, got %v", err)
	}
}
