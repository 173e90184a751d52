// Package firestoretrips stores trips, shares and users in Cloud Firestore.
package firestoretrips

import (
	"context"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection  = "users"
	tripsCollection  = "trips"
	sharesCollection = "eta_shares"
)

type Storage struct {
	client *firestore.Client
}

func New(ctx context.Context, app *firebase.App) (*Storage, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firestore client")
	}
	return NewWithClient(client), nil
}

func NewWithClient(client *firestore.Client) *Storage {
	return &Storage{client: client}
}

func (s *Storage) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

// mapErr translates gRPC codes returned by Firestore into apperr kinds.
func mapErr(err error, what, id string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return apperr.NotFound("%s %s not found", what, id)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return apperr.Validation("%s %s: %v", what, id, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return apperr.PermissionDenied("%s %s: %v", what, id, err)
	default:
		return apperr.TransientIO(err, "%s %s", what, id)
	}
}
