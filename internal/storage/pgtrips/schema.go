package pgtrips

import (
	"context"

	"github.com/pkg/errors"
)

const changeChannel = "trip_changes"

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT '',
  push_token TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS trips (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  origin_label TEXT NOT NULL DEFAULT '',
  destination_label TEXT NOT NULL DEFAULT '',
  origin_lat DOUBLE PRECISION NULL,
  origin_lng DOUBLE PRECISION NULL,
  destination_lat DOUBLE PRECISION NULL,
  destination_lng DOUBLE PRECISION NULL,
  eta_seconds BIGINT NOT NULL CHECK (eta_seconds >= 0),
  started_at TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL,
  shared_with TEXT[] NOT NULL DEFAULT '{}',
  puzzle_completed BOOLEAN NOT NULL DEFAULT false,
  last_lat DOUBLE PRECISION NULL,
  last_lng DOUBLE PRECISION NULL,
  last_location_update TIMESTAMPTZ NULL,
  expired_lat DOUBLE PRECISION NULL,
  expired_lng DOUBLE PRECISION NULL,
  expiration_time TIMESTAMPTZ NULL,
  duration_seconds BIGINT NULL,
  completion_time TIMESTAMPTZ NULL,
  end_time TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT trips_puzzle_implies_completed CHECK (NOT puzzle_completed OR status = 'completed')
)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_ongoing_started_at_id ON trips(started_at, id) WHERE status = 'ongoing'`,
		`CREATE INDEX IF NOT EXISTS idx_trips_owner_id ON trips(owner_id)`,
		`
CREATE TABLE IF NOT EXISTS eta_shares (
  id TEXT PRIMARY KEY,
  trip_id TEXT NOT NULL REFERENCES trips(id),
  from_user_id TEXT NOT NULL,
  to_user_id TEXT NOT NULL,
  eta TIMESTAMPTZ NOT NULL,
  read BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_eta_shares_to_user_created_at ON eta_shares(to_user_id, created_at DESC)`,
		`
CREATE OR REPLACE FUNCTION notify_trip_change() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('` + changeChannel + `', NEW.id);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trips_notify_change ON trips`,
		`CREATE TRIGGER trips_notify_change AFTER INSERT OR UPDATE ON trips FOR EACH ROW EXECUTE FUNCTION notify_trip_change()`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
