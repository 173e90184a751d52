package models

import "time"

type TripStatus string

// Trip statuses. Only ongoing is non-terminal.
const (
	TripStatusOngoing   TripStatus = "ongoing"
	TripStatusCompleted TripStatus = "completed"
	TripStatusExpired   TripStatus = "expired"
	TripStatusCancelled TripStatus = "cancelled"
)

func (s TripStatus) Terminal() bool {
	switch s {
	case TripStatusCompleted, TripStatusExpired, TripStatusCancelled:
		return true
	default:
		return false
	}
}

func (s TripStatus) Valid() bool {
	return s == TripStatusOngoing || s.Terminal()
}

type GeoPoint struct {
	Lat float64 `json:"lat" firestore:"lat"`
	Lng float64 `json:"lng" firestore:"lng"`
}

func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type Trip struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"ownerId"`
	OriginLabel       string     `json:"originLabel"`
	DestinationLabel  string     `json:"destinationLabel"`
	OriginCoords      *GeoPoint  `json:"originCoords,omitempty"`
	DestinationCoords *GeoPoint  `json:"destinationCoords,omitempty"`
	ETASeconds        int64      `json:"etaSeconds"`
	StartedAt         time.Time  `json:"startedAt"`
	Status            TripStatus `json:"status"`
	SharedWith        []string   `json:"sharedWith"`
	PuzzleCompleted   bool       `json:"puzzleCompleted"`

	LastKnownLocation  *GeoPoint  `json:"lastKnownLocation,omitempty"`
	LastLocationUpdate *time.Time `json:"lastLocationUpdate,omitempty"`

	ExpiredLocation *GeoPoint  `json:"expiredLocation,omitempty"`
	ExpirationTime  *time.Time `json:"expirationTime,omitempty"`
	DurationSeconds *int64     `json:"duration,omitempty"`
	CompletionTime  *time.Time `json:"completionTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DueAt is the wall-clock instant the countdown reaches zero.
func (t *Trip) DueAt() time.Time {
	return t.StartedAt.Add(time.Duration(t.ETASeconds) * time.Second)
}

type TripCreateInput struct {
	OwnerID           string
	OriginLabel       string
	DestinationLabel  string
	OriginCoords      *GeoPoint
	DestinationCoords *GeoPoint
	ETASeconds        int64
	StartedAt         time.Time
}

// TripFields is a partial update: nil fields are left untouched in the store.
type TripFields struct {
	Status             *TripStatus
	SharedWith         *[]string
	PuzzleCompleted    *bool
	LastKnownLocation  *GeoPoint
	LastLocationUpdate *time.Time
	ExpiredLocation    *GeoPoint
	ExpirationTime     *time.Time
	DurationSeconds    *int64
	CompletionTime     *time.Time
	EndTime            *time.Time
}

func (f TripFields) Empty() bool {
	return f.Status == nil && f.SharedWith == nil && f.PuzzleCompleted == nil &&
		f.LastKnownLocation == nil && f.LastLocationUpdate == nil &&
		f.ExpiredLocation == nil && f.ExpirationTime == nil &&
		f.DurationSeconds == nil && f.CompletionTime == nil && f.EndTime == nil
}

// Apply copies the set fields onto t.
func (f TripFields) Apply(t *Trip) {
	if f.Status != nil {
		t.Status = *f.Status
	}
	if f.SharedWith != nil {
		t.SharedWith = append([]string(nil), (*f.SharedWith)...)
	}
	if f.PuzzleCompleted != nil {
		t.PuzzleCompleted = *f.PuzzleCompleted
	}
	if f.LastKnownLocation != nil {
		p := *f.LastKnownLocation
		t.LastKnownLocation = &p
	}
	if f.LastLocationUpdate != nil {
		v := *f.LastLocationUpdate
		t.LastLocationUpdate = &v
	}
	if f.ExpiredLocation != nil {
		p := *f.ExpiredLocation
		t.ExpiredLocation = &p
	}
	if f.ExpirationTime != nil {
		v := *f.ExpirationTime
		t.ExpirationTime = &v
	}
	if f.DurationSeconds != nil {
		v := *f.DurationSeconds
		t.DurationSeconds = &v
	}
	if f.CompletionTime != nil {
		v := *f.CompletionTime
		t.CompletionTime = &v
	}
	if f.EndTime != nil {
		v := *f.EndTime
		t.EndTime = &v
	}
}
