package pgtrips

import (
	"context"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateShare(ctx context.Context, in models.ShareCreateInput) (*models.ETAShare, error) {
	sh := &models.ETAShare{
		ID:         uuid.NewString(),
		TripID:     in.TripID,
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		ETA:        in.ETA.UTC(),
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO eta_shares (id, trip_id, from_user_id, to_user_id, eta, read, created_at)
VALUES ($1,$2,$3,$4,$5,false,$6)
`, sh.ID, sh.TripID, sh.FromUserID, sh.ToUserID, sh.ETA, sh.CreatedAt)
	if err != nil {
		return nil, apperr.TransientIO(errors.Wrap(err, "insert share"), "create share")
	}
	return sh, nil
}

func (s *Storage) GetShare(ctx context.Context, id string) (*models.ETAShare, error) {
	var sh models.ETAShare
	err := s.db.QueryRow(ctx, `
SELECT id, trip_id, from_user_id, to_user_id, eta, read, created_at
FROM eta_shares
WHERE id = $1
`, id).Scan(&sh.ID, &sh.TripID, &sh.FromUserID, &sh.ToUserID, &sh.ETA, &sh.Read, &sh.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("share %s not found", id)
		}
		return nil, apperr.TransientIO(errors.Wrap(err, "select share"), "get share")
	}
	return &sh, nil
}

func (s *Storage) MarkShareRead(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE eta_shares SET read = true WHERE id = $1`, id)
	if err != nil {
		return apperr.TransientIO(errors.Wrap(err, "update share"), "mark share read")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("share %s not found", id)
	}
	return nil
}

func (s *Storage) ListSharesForRecipient(ctx context.Context, userID string, limit int) ([]*models.ETAShare, error) {
	limit = storage.ClampLimit(limit)

	rows, err := s.db.Query(ctx, `
SELECT id, trip_id, from_user_id, to_user_id, eta, read, created_at
FROM eta_shares
WHERE to_user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, apperr.TransientIO(errors.Wrap(err, "select shares"), "list shares")
	}
	defer rows.Close()

	var out []*models.ETAShare
	for rows.Next() {
		var sh models.ETAShare
		if err := rows.Scan(&sh.ID, &sh.TripID, &sh.FromUserID, &sh.ToUserID, &sh.ETA, &sh.Read, &sh.CreatedAt); err != nil {
			return nil, apperr.TransientIO(errors.Wrap(err, "scan share"), "list shares")
		}
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, apperr.TransientIO(errors.Wrap(rows.Err(), "rows"), "list shares")
	}
	return out, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx, `SELECT id, display_name, push_token FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.DisplayName, &u.PushToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("user %s not found", id)
		}
		return nil, apperr.TransientIO(errors.Wrap(err, "select user"), "get user")
	}
	return &u, nil
}

// UpsertUser is used by seeding and tests; users are otherwise written by the client SDK.
func (s *Storage) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO users (id, display_name, push_token)
VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, push_token = EXCLUDED.push_token
`, u.ID, u.DisplayName, u.PushToken)
	if err != nil {
		return apperr.TransientIO(errors.Wrap(err, "upsert user"), "upsert user")
	}
	return nil
}
