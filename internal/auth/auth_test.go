package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/rucio-go/rucio/cmn/errs"
)

var secret = []byte("test-secret")

func TestResolveValidToken(t *testing.T) {
	r := NewResolver(secret)

	tok, err := r.Issue(secret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	account, err := r.Resolve(tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if account != "alice" {
		t.Fatalf("account = %q, want %q", account, "alice")
	}
}

func TestResolveExpiredToken(t *testing.T) {
	r := NewResolver(secret)

	tok, err := r.Issue(secret, "alice", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := r.Resolve(tok); !errs.Is(err, errs.CannotAuthenticate) {
		t.Fatalf("Resolve(expired) = %v, want CannotAuthenticate", err)
	}
}

func TestResolveWrongSigningMethod(t *testing.T) {
	r := NewResolver(secret)

	claims := Claims{
		Account: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := r.Resolve(signed); !errs.Is(err, errs.CannotAuthenticate) {
		t.Fatalf("Resolve(none-alg) = %v, want CannotAuthenticate", err)
	}
}

func TestResolveMissingAccountClaim(t *testing.T) {
	r := NewResolver(secret)

	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := r.Resolve(signed); !errs.Is(err, errs.CannotAuthenticate) {
		t.Fatalf("Resolve(no account) = %v, want CannotAuthenticate", err)
	}
}

func TestResolveWrongSecret(t *testing.T) {
	r := NewResolver(secret)

	tok, err := r.Issue([]byte("a-different-secret"), "alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := r.Resolve(tok); !errs.Is(err, errs.CannotAuthenticate) {
		t.Fatalf("Resolve(wrong secret) = %v, want CannotAuthenticate", err)
	}
}
