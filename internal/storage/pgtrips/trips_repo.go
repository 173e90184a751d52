package pgtrips

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const tripColumns = `
  id, owner_id, origin_label, destination_label,
  origin_lat, origin_lng, destination_lat, destination_lng,
  eta_seconds, started_at, status, shared_with, puzzle_completed,
  last_lat, last_lng, last_location_update,
  expired_lat, expired_lng, expiration_time, duration_seconds,
  completion_time, end_time, created_at, updated_at`

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

	id := uuid.NewString()
	oLat, oLng := splitPoint(in.OriginCoords)
	dLat, dLng := splitPoint(in.DestinationCoords)

	_, err := s.db.Exec(ctx, `
INSERT INTO trips (
  id, owner_id, origin_label, destination_label,
  origin_lat, origin_lng, destination_lat, destination_lng,
  eta_seconds, started_at, status, shared_with, puzzle_completed,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'{}',false,$12,$12)
`, id, in.OwnerID, in.OriginLabel, in.DestinationLabel,
		oLat, oLng, dLat, dLng,
		in.ETASeconds, startedAt.UTC(), models.TripStatusOngoing, now)
	if err != nil {
		return nil, apperr.TransientIO(errors.Wrap(err, "insert trip"), "create trip")
	}

	return s.GetTrip(ctx, id)
}

func (s *Storage) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("trip %s not found", id)
		}
		return nil, apperr.TransientIO(errors.Wrap(err, "select trip"), "get trip")
	}
	return t, nil
}

func (s *Storage) UpdateTripFields(ctx context.Context, id string, f models.TripFields) error {
	if f.Empty() {
		return nil
	}

	q, args := buildTripUpdate(id, f)
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return apperr.TransientIO(errors.Wrap(err, "update trip"), "update trip")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("trip %s not found", id)
	}
	return nil
}

func (s *Storage) ListOngoingTrips(ctx context.Context, after storage.TripCursor, limit int) ([]*models.Trip, error) {
	limit = storage.ClampLimit(limit)

	var (
		rows pgx.Rows
		err  error
	)
	if after.IsZero() {
		rows, err = s.db.Query(ctx, `
SELECT `+tripColumns+`
FROM trips
WHERE status = $1
ORDER BY started_at, id
LIMIT $2
`, models.TripStatusOngoing, limit)
	} else {
		rows, err = s.db.Query(ctx, `
SELECT `+tripColumns+`
FROM trips
WHERE status = $1 AND (started_at, id) > ($2, $3)
ORDER BY started_at, id
LIMIT $4
`, models.TripStatusOngoing, after.StartedAt, after.ID, limit)
	}
	if err != nil {
		return nil, apperr.TransientIO(errors.Wrap(err, "select ongoing trips"), "list trips")
	}
	defer rows.Close()

	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, apperr.TransientIO(errors.Wrap(err, "scan trip"), "list trips")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, apperr.TransientIO(errors.Wrap(rows.Err(), "rows"), "list trips")
	}
	return out, nil
}

// buildTripUpdate renders an UPDATE touching only the set fields.
func buildTripUpdate(id string, f models.TripFields) (string, []any) {
	sets := make([]string, 0, 12)
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.SharedWith != nil {
		sw := *f.SharedWith
		if sw == nil {
			sw = []string{}
		}
		add("shared_with", sw)
	}
	if f.PuzzleCompleted != nil {
		add("puzzle_completed", *f.PuzzleCompleted)
	}
	if f.LastKnownLocation != nil {
		add("last_lat", f.LastKnownLocation.Lat)
		add("last_lng", f.LastKnownLocation.Lng)
	}
	if f.LastLocationUpdate != nil {
		add("last_location_update", f.LastLocationUpdate.UTC())
	}
	if f.ExpiredLocation != nil {
		add("expired_lat", f.ExpiredLocation.Lat)
		add("expired_lng", f.ExpiredLocation.Lng)
	}
	if f.ExpirationTime != nil {
		add("expiration_time", f.ExpirationTime.UTC())
	}
	if f.DurationSeconds != nil {
		add("duration_seconds", *f.DurationSeconds)
	}
	if f.CompletionTime != nil {
		add("completion_time", f.CompletionTime.UTC())
	}
	if f.EndTime != nil {
		add("end_time", f.EndTime.UTC())
	}
	sets = append(sets, "updated_at = now()")

	return "UPDATE trips SET " + strings.Join(sets, ", ") + " WHERE id = $1", args
}

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var (
		t                      models.Trip
		status                 string
		oLat, oLng, dLat, dLng *float64
		lLat, lLng, xLat, xLng *float64
	)
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.OriginLabel, &t.DestinationLabel,
		&oLat, &oLng, &dLat, &dLng,
		&t.ETASeconds, &t.StartedAt, &status, &t.SharedWith, &t.PuzzleCompleted,
		&lLat, &lLng, &t.LastLocationUpdate,
		&xLat, &xLng, &t.ExpirationTime, &t.DurationSeconds,
		&t.CompletionTime, &t.EndTime, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = models.TripStatus(status)
	t.OriginCoords = joinPoint(oLat, oLng)
	t.DestinationCoords = joinPoint(dLat, dLng)
	t.LastKnownLocation = joinPoint(lLat, lLng)
	t.ExpiredLocation = joinPoint(xLat, xLng)
	if t.SharedWith == nil {
		t.SharedWith = []string{}
	}
	return &t, nil
}

func splitPoint(p *models.GeoPoint) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Lat, p.Lng
	return &lat, &lng
}

func joinPoint(lat, lng *float64) *models.GeoPoint {
	if lat == nil || lng == nil {
		return nil
	}
	return &models.GeoPoint{Lat: *lat, Lng: *lng}
}
