package firestoretrips

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

func (s *Storage) CreateTrip(ctx context.Context, in models.TripCreateInput) (*models.Trip, error) {
	if in.OwnerID == "" {
		return nil, apperr.Validation("owner id is required")
	}
	if in.ETASeconds < 0 {
		return nil, apperr.Validation("eta seconds must not be negative")
	}

	now := time.Now().UTC()
	startedAt := in.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	doc := tripDoc{
		OwnerID:           in.OwnerID,
		OriginLabel:       in.OriginLabel,
		DestinationLabel:  in.DestinationLabel,
		OriginCoords:      in.OriginCoords,
		DestinationCoords: in.DestinationCoords,
		ETASeconds:        in.ETASeconds,
		StartedAt:         startedAt.UTC(),
		Status:            string(models.TripStatusOngoing),
		SharedWith:        []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	ref := s.client.Collection(tripsCollection).NewDoc()
	if _, err := ref.Create(ctx, doc); err != nil {
		return nil, mapErr(errors.Wrap(err, "create trip"), "trip", ref.ID)
	}
	return doc.toModel(ref.ID), nil
}

func (s *Storage) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	if id == "" {
		return nil, apperr.NotFound("trip not found")
	}
	snap, err := s.client.Collection(tripsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err, "trip", id)
	}
	return decodeTrip(snap)
}

func (s *Storage) UpdateTripFields(ctx context.Context, id string, f models.TripFields) error {
	if f.Empty() {
		return nil
	}
	if id == "" {
		return apperr.NotFound("trip not found")
	}
	_, err := s.client.Collection(tripsCollection).Doc(id).Update(ctx, tripUpdates(f))
	if err != nil {
		return mapErr(err, "trip", id)
	}
	return nil
}

// ListOngoingTrips needs the composite index (status, startedAt, __name__).
func (s *Storage) ListOngoingTrips(ctx context.Context, after storage.TripCursor, limit int) ([]*models.Trip, error) {
	limit = storage.ClampLimit(limit)

	q := s.client.Collection(tripsCollection).
		Where("status", "==", string(models.TripStatusOngoing)).
		OrderBy("startedAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	if !after.IsZero() {
		q = q.StartAfter(after.StartedAt, after.ID)
	}
	it := q.Limit(limit).Documents(ctx)
	defer it.Stop()

	var out []*models.Trip
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapErr(err, "trips", "ongoing")
		}
		t, err := decodeTrip(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTrip(snap *firestore.DocumentSnapshot) (*models.Trip, error) {
	var d tripDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, apperr.TransientIO(errors.Wrap(err, "decode trip"), "trip %s", snap.Ref.ID)
	}
	return d.toModel(snap.Ref.ID), nil
}
