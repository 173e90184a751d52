package firestoretrips

import (
	"context"
	"log/slog"

	"cloud.google.com/go/firestore"
	"github.com/BearBump/SafeArrival/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const subscriptionBuffer = 16

func (s *Storage) SubscribeTrip(ctx context.Context, id string) (<-chan *models.Trip, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(tripsCollection).Doc(id).Snapshots(ctx)

	out := make(chan *models.Trip, subscriptionBuffer)
	go func() {
		defer close(out)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				logFeedStop(ctx, id, err)
				return
			}
			if !snap.Exists() {
				continue
			}
			t, err := decodeTrip(snap)
			if err != nil {
				slog.Warn("trip snapshot decode failed", "trip_id", id, "err", err)
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

func (s *Storage) SubscribeTrips(ctx context.Context) (<-chan *models.Trip, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(tripsCollection).Query.Snapshots(ctx)

	out := make(chan *models.Trip, subscriptionBuffer)
	go func() {
		defer close(out)
		defer it.Stop()

		for {
			qs, err := it.Next()
			if err != nil {
				logFeedStop(ctx, "", err)
				return
			}
			for _, ch := range qs.Changes {
				if ch.Kind == firestore.DocumentRemoved {
					continue
				}
				t, err := decodeTrip(ch.Doc)
				if err != nil {
					slog.Warn("trip snapshot decode failed", "trip_id", ch.Doc.Ref.ID, "err", err)
					continue
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

func logFeedStop(ctx context.Context, id string, err error) {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled {
		return
	}
	slog.Warn("trip snapshot feed stopped", "trip_id", id, "err", err)
}
