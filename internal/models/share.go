package models

import "time"

// ETAShare is one outbound arrival estimate for one recipient.
// TripID is a reference; the share does not own the trip.
type ETAShare struct {
	ID         string    `json:"id"`
	TripID     string    `json:"tripId"`
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	ETA        time.Time `json:"etaIso"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ShareCreateInput struct {
	TripID     string
	FromUserID string
	ToUserID   string
	ETA        time.Time
}

// SharePreview is what a recipient sees in their list. Expired is derived,
// never stored.
type SharePreview struct {
	Share            ETAShare   `json:"share"`
	TripStatus       TripStatus `json:"tripStatus"`
	DestinationLabel string     `json:"destinationLabel"`
	RemainingSeconds int64      `json:"remainingSeconds"`
	Expired          bool       `json:"expired"`
}
