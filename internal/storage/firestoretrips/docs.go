package firestoretrips

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/BearBump/SafeArrival/internal/models"
)

type tripDoc struct {
	OwnerID           string           `firestore:"ownerId"`
	OriginLabel       string           `firestore:"originLabel"`
	DestinationLabel  string           `firestore:"destinationLabel"`
	OriginCoords      *models.GeoPoint `firestore:"originCoords"`
	DestinationCoords *models.GeoPoint `firestore:"destinationCoords"`
	ETASeconds        int64            `firestore:"etaSeconds"`
	StartedAt         time.Time        `firestore:"startedAt"`
	Status            string           `firestore:"status"`
	SharedWith        []string         `firestore:"sharedWith"`
	PuzzleCompleted   bool             `firestore:"puzzleCompleted"`

	LastKnownLocation  *models.GeoPoint `firestore:"lastKnownLocation"`
	LastLocationUpdate *time.Time       `firestore:"lastLocationUpdate"`
	ExpiredLocation    *models.GeoPoint `firestore:"expiredLocation"`
	ExpirationTime     *time.Time       `firestore:"expirationTime"`
	DurationSeconds    *int64           `firestore:"duration"`
	CompletionTime     *time.Time       `firestore:"completionTime"`
	EndTime            *time.Time       `firestore:"endTime"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d tripDoc) toModel(id string) *models.Trip {
	sw := d.SharedWith
	if sw == nil {
		sw = []string{}
	}
	return &models.Trip{
		ID:                 id,
		OwnerID:            d.OwnerID,
		OriginLabel:        d.OriginLabel,
		DestinationLabel:   d.DestinationLabel,
		OriginCoords:       d.OriginCoords,
		DestinationCoords:  d.DestinationCoords,
		ETASeconds:         d.ETASeconds,
		StartedAt:          d.StartedAt,
		Status:             models.TripStatus(d.Status),
		SharedWith:         sw,
		PuzzleCompleted:    d.PuzzleCompleted,
		LastKnownLocation:  d.LastKnownLocation,
		LastLocationUpdate: d.LastLocationUpdate,
		ExpiredLocation:    d.ExpiredLocation,
		ExpirationTime:     d.ExpirationTime,
		DurationSeconds:    d.DurationSeconds,
		CompletionTime:     d.CompletionTime,
		EndTime:            d.EndTime,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

type shareDoc struct {
	TripID     string    `firestore:"tripId"`
	FromUserID string    `firestore:"fromUserId"`
	ToUserID   string    `firestore:"toUserId"`
	ETA        time.Time `firestore:"etaIso"`
	Read       bool      `firestore:"read"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func (d shareDoc) toModel(id string) *models.ETAShare {
	return &models.ETAShare{
		ID:         id,
		TripID:     d.TripID,
		FromUserID: d.FromUserID,
		ToUserID:   d.ToUserID,
		ETA:        d.ETA,
		Read:       d.Read,
		CreatedAt:  d.CreatedAt,
	}
}

type userDoc struct {
	DisplayName string `firestore:"displayName"`
	PushToken   string `firestore:"pushToken"`
}

// tripUpdates lists one field path per set field, plus updatedAt.
func tripUpdates(f models.TripFields) []firestore.Update {
	var ups []firestore.Update
	add := func(path string, v any) {
		ups = append(ups, firestore.Update{Path: path, Value: v})
	}

	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.SharedWith != nil {
		sw := *f.SharedWith
		if sw == nil {
			sw = []string{}
		}
		add("sharedWith", sw)
	}
	if f.PuzzleCompleted != nil {
		add("puzzleCompleted", *f.PuzzleCompleted)
	}
	if f.LastKnownLocation != nil {
		add("lastKnownLocation", *f.LastKnownLocation)
	}
	if f.LastLocationUpdate != nil {
		add("lastLocationUpdate", f.LastLocationUpdate.UTC())
	}
	if f.ExpiredLocation != nil {
		add("expiredLocation", *f.ExpiredLocation)
	}
	if f.ExpirationTime != nil {
		add("expirationTime", f.ExpirationTime.UTC())
	}
	if f.DurationSeconds != nil {
		add("duration", *f.DurationSeconds)
	}
	if f.CompletionTime != nil {
		add("completionTime", f.CompletionTime.UTC())
	}
	if f.EndTime != nil {
		add("endTime", f.EndTime.UTC())
	}
	add("updatedAt", firestore.ServerTimestamp)
	return ups
}
