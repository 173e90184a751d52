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

func (s *Storage) CreateShare(ctx context.Context, in models.ShareCreateInput) (*models.ETAShare, error) {
	doc := shareDoc{
		TripID:     in.TripID,
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		ETA:        in.ETA.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	ref := s.client.Collection(sharesCollection).NewDoc()
	if _, err := ref.Create(ctx, doc); err != nil {
		return nil, mapErr(errors.Wrap(err, "create share"), "share", ref.ID)
	}
	return doc.toModel(ref.ID), nil
}

func (s *Storage) GetShare(ctx context.Context, id string) (*models.ETAShare, error) {
	if id == "" {
		return nil, apperr.NotFound("share not found")
	}
	snap, err := s.client.Collection(sharesCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err, "share", id)
	}
	var d shareDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, apperr.TransientIO(errors.Wrap(err, "decode share"), "share %s", id)
	}
	return d.toModel(id), nil
}

func (s *Storage) MarkShareRead(ctx context.Context, id string) error {
	if id == "" {
		return apperr.NotFound("share not found")
	}
	_, err := s.client.Collection(sharesCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
	})
	if err != nil {
		return mapErr(err, "share", id)
	}
	return nil
}

func (s *Storage) ListSharesForRecipient(ctx context.Context, userID string, limit int) ([]*models.ETAShare, error) {
	limit = storage.ClampLimit(limit)

	it := s.client.Collection(sharesCollection).
		Where("toUserId", "==", userID).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer it.Stop()

	var out []*models.ETAShare
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapErr(err, "shares for", userID)
		}
		var d shareDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, apperr.TransientIO(errors.Wrap(err, "decode share"), "share %s", snap.Ref.ID)
		}
		out = append(out, d.toModel(snap.Ref.ID))
	}
	return out, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, apperr.NotFound("user not found")
	}
	snap, err := s.client.Collection(usersCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err, "user", id)
	}
	var d userDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, apperr.TransientIO(errors.Wrap(err, "decode user"), "user %s", id)
	}
	return &models.User{ID: id, DisplayName: d.DisplayName, PushToken: d.PushToken}, nil
}

func (s *Storage) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.client.Collection(usersCollection).Doc(u.ID).Set(ctx, userDoc{
		DisplayName: u.DisplayName,
		PushToken:   u.PushToken,
	})
	if err != nil {
		return mapErr(err, "user", u.ID)
	}
	return nil
}
