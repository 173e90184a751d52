// Package jwtauth verifies HS256 tokens signed with a shared secret. It
// backs local and staging setups where no Firebase project is attached.
package jwtauth

import (
	"context"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	issuer string
}

func New(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) Verify(ctx context.Context, token string) (models.Session, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return models.Session{}, apperr.AuthRequired("jwt rejected: %v", err)
	}
	if c.Subject == "" {
		return models.Session{}, apperr.AuthRequired("jwt has no subject")
	}
	return models.Session{UserID: c.Subject, Email: c.Email}, nil
}

// Issue signs a token for userID; used by tooling and tests.
func (v *Verifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
