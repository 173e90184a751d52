package pgtrips

import (
	"context"
	"log/slog"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/pkg/errors"
)

const subscriptionBuffer = 16

func (s *Storage) SubscribeTrip(ctx context.Context, id string) (<-chan *models.Trip, func(), error) {
	return s.subscribe(ctx, id)
}

func (s *Storage) SubscribeTrips(ctx context.Context) (<-chan *models.Trip, func(), error) {
	return s.subscribe(ctx, "")
}

// subscribe holds one pooled connection on LISTEN and re-reads the trip
// named in every notification. An empty id means every trip.
func (s *Storage) subscribe(ctx context.Context, id string) (<-chan *models.Trip, func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		cancel()
		return nil, nil, apperr.TransientIO(errors.Wrap(err, "acquire conn"), "subscribe")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		cancel()
		return nil, nil, apperr.TransientIO(errors.Wrap(err, "listen"), "subscribe")
	}

	out := make(chan *models.Trip, subscriptionBuffer)
	go func() {
		defer close(out)
		// The session still has LISTEN active; drop it instead of returning it to the pool.
		defer func() {
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("trip change feed stopped", "trip_id", id, "err", err)
				}
				return
			}
			if id != "" && n.Payload != id {
				continue
			}

			t, err := s.GetTrip(ctx, n.Payload)
			if err != nil {
				slog.Warn("trip change feed read failed", "trip_id", n.Payload, "err", err)
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
