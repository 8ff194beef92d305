package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer("secret", "codehub")
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	verifier, err := NewVerifier("secret", "codehub")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	token, err := issuer.Issue("ci-bot", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "ci-bot" || claims.Issuer != "codehub" || claims.ID == "" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ExpiresAt == nil {
		t.Error("ExpiresAt should be set for a positive ttl")
	}
}

func TestIssue_NoExpiry(t *testing.T) {
	issuer, _ := NewIssuer("secret", "codehub")
	verifier, _ := NewVerifier("secret", "")

	token, err := issuer.Issue("cli", 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", claims.ExpiresAt)
	}
}

func TestVerify_Rejects(t *testing.T) {
	issuer, _ := NewIssuer("secret", "codehub")
	good, _ := issuer.Issue("user", time.Hour)

	expiredIssuer, _ := NewIssuer("secret", "codehub")
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredIssuer.Issue("user", time.Hour)

	otherIssuer, _ := NewIssuer("secret", "someone-else")
	wrongIss, _ := otherIssuer.Issue("user", time.Hour)

	otherSecret, _ := NewIssuer("different", "codehub")
	wrongSig, _ := otherSecret.Issue("user", time.Hour)

	verifier, _ := NewVerifier("secret", "codehub")

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"wrong issuer", wrongIss, ErrInvalidToken},
		{"wrong secret", wrongSig, ErrInvalidToken},
		{"tampered", good + "x", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNoSecret(t *testing.T) {
	if _, err := NewIssuer("", "codehub"); !errors.Is(err, ErrNoSecret) {
		t.Errorf("NewIssuer() error = %v, want ErrNoSecret", err)
	}
	if _, err := NewVerifier("", "codehub"); !errors.Is(err, ErrNoSecret) {
		t.Errorf("NewVerifier() error = %v, want ErrNoSecret", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc.def", "abc.def"},
		{"bearer abc.def", "abc.def"},
		{"Basic dXNlcg==", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := BearerToken(r); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
