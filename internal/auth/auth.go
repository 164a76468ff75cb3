// Package auth resolves an already-issued bearer token to the account it
// was granted to. The core never authenticates a principal itself — §1
// scopes the "full authn/z system" out as an external collaborator — so
// this package is a verifying client of tokens minted elsewhere, exactly
// the shape spec.md §6 describes: "the core receives only the resulting
// account".
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/rucio-go/rucio/cmn/errs"
)

// Claims is the minimal shape Rucio-Go's tokens carry: the account claim
// plus the standard registered claims for expiry/issuer checks.
type Claims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// Resolver verifies a bearer token's signature and expiry, returning the
// account it was issued for.
type Resolver struct {
	keyFunc jwt.Keyfunc
}

// NewResolver builds a Resolver around a fixed HMAC secret, the simplest
// verification shape for a single-issuer deployment; a multi-issuer
// deployment would supply a jwt.Keyfunc that looks up the key by kid.
func NewResolver(secret []byte) *Resolver {
	return &Resolver{
		keyFunc: func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errs.New(errs.CannotAuthenticate, "unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		},
	}
}

// Resolve verifies tokenString and returns the account claim it carries.
func (r *Resolver) Resolve(tokenString string) (string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, r.keyFunc)
	if err != nil {
		return "", errs.Wrap(errs.CannotAuthenticate, err, "parsing bearer token")
	}
	if !token.Valid {
		return "", errs.New(errs.CannotAuthenticate, "token is not valid")
	}
	if claims.Account == "" {
		return "", errs.New(errs.CannotAuthenticate, "token carries no account claim")
	}
	return claims.Account, nil
}

// Issue mints a token for account, used only by tests and local
// bootstrapping — the production issuer is external to this module (§1).
func (r *Resolver) Issue(secret []byte, account string, ttl time.Duration) (string, error) {
	claims := Claims{
		Account: account,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
