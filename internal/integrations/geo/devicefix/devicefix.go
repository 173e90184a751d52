// Package devicefix keeps the latest position each traveler's phone reported
// and serves it as the "current device position" to server-side readers.
package devicefix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultMaxAge = 2 * time.Minute

type Store struct {
	c      *redis.Client
	maxAge time.Duration
}

// New stores fixes in Redis; a fix older than maxAge counts as missing.
func New(addr string, maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Store{
		c:      redis.NewClient(&redis.Options{Addr: addr}),
		maxAge: maxAge,
	}
}

func (s *Store) Close() error {
	return s.c.Close()
}

func (s *Store) Report(ctx context.Context, fix models.DeviceFix) error {
	if fix.UserID == "" {
		return apperr.Validation("userId is required")
	}
	switch fix.Permission {
	case models.LocationPermissionGranted:
		if fix.Point == nil {
			return apperr.Validation("point is required when permission is granted")
		}
		if !fix.Point.Valid() {
			return apperr.Validation("point is out of range")
		}
	case models.LocationPermissionDenied:
		fix.Point = nil
	default:
		return apperr.Validation("unknown permission %q", fix.Permission)
	}
	if fix.ReportedAt.IsZero() {
		fix.ReportedAt = time.Now().UTC()
	}

	b, err := json.Marshal(fix)
	if err != nil {
		return errors.Wrap(err, "marshal device fix")
	}
	// The permission outlives the fix so a denial stays visible after the point goes stale.
	pipe := s.c.TxPipeline()
	pipe.Set(ctx, fixKey(fix.UserID), b, s.maxAge)
	pipe.Set(ctx, permissionKey(fix.UserID), string(fix.Permission), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.TransientIO(err, "store device fix")
	}
	return nil
}

func (s *Store) Permission(ctx context.Context, userID string) (models.LocationPermission, error) {
	v, err := s.c.Get(ctx, permissionKey(userID)).Result()
	if err == redis.Nil {
		return "", apperr.NotFound("no location permission reported for user %s", userID)
	}
	if err != nil {
		return "", apperr.TransientIO(err, "read location permission")
	}
	return models.LocationPermission(v), nil
}

func (s *Store) CurrentPosition(ctx context.Context, userID string, accuracy geo.Accuracy) (models.GeoPoint, error) {
	perm, err := s.Permission(ctx, userID)
	if err == nil && perm == models.LocationPermissionDenied {
		return models.GeoPoint{}, apperr.PermissionDenied("location permission denied by user %s", userID)
	}

	b, err := s.c.Get(ctx, fixKey(userID)).Bytes()
	if err == redis.Nil {
		return models.GeoPoint{}, apperr.TransientIO(nil, "no recent position for user %s", userID)
	}
	if err != nil {
		return models.GeoPoint{}, apperr.TransientIO(err, "read device fix")
	}

	var fix models.DeviceFix
	if err := json.Unmarshal(b, &fix); err != nil {
		return models.GeoPoint{}, errors.Wrap(err, "unmarshal device fix")
	}
	if fix.Point == nil {
		return models.GeoPoint{}, apperr.TransientIO(nil, "no recent position for user %s", userID)
	}
	if accuracy > 0 && fix.AccuracyMeters > float64(accuracy) {
		slog.Debug("device fix coarser than requested", "user_id", userID, "accuracy_m", fix.AccuracyMeters, "wanted_m", float64(accuracy))
	}
	return *fix.Point, nil
}

func fixKey(userID string) string {
	return fmt.Sprintf("device:%s:fix", userID)
}

func permissionKey(userID string) string {
	return fmt.Sprintf("device:%s:permission", userID)
}
