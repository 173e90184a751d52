package firebaseauth

import (
	"context"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/pkg/errors"
)

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Verifier checks Firebase ID tokens minted by the mobile client SDK.
type Verifier struct {
	v tokenVerifier
}

func New(ctx context.Context, app *firebase.App) (*Verifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firebase auth client")
	}
	return &Verifier{v: client}, nil
}

func newWithVerifier(v tokenVerifier) *Verifier {
	return &Verifier{v: v}
}

func (f *Verifier) Verify(ctx context.Context, token string) (models.Session, error) {
	t, err := f.v.VerifyIDToken(ctx, token)
	if err != nil {
		return models.Session{}, apperr.AuthRequired("firebase id token rejected: %v", err)
	}
	if t.UID == "" {
		return models.Session{}, apperr.AuthRequired("firebase id token has no uid")
	}
	email, _ := t.Claims["email"].(string)
	return models.Session{UserID: t.UID, Email: email}, nil
}
