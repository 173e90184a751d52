package models

// DisplayState is what observers of a running trip render.
type DisplayState struct {
	TripID             string     `json:"tripId"`
	Status             TripStatus `json:"status"`
	RemainingSeconds   int64      `json:"remainingSeconds"`
	RemainingFormatted string     `json:"remainingFormatted"`
	Expired            bool       `json:"expired"`
	LastError          string     `json:"lastError,omitempty"`
}
