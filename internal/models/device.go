package models

import "time"

type LocationPermission string

const (
	LocationPermissionGranted LocationPermission = "granted"
	LocationPermissionDenied  LocationPermission = "denied"
)

// DeviceFix is the latest position a traveler's phone reported.
type DeviceFix struct {
	UserID         string             `json:"userId"`
	Point          *GeoPoint          `json:"point,omitempty"`
	AccuracyMeters float64            `json:"accuracyMeters,omitempty"`
	Permission     LocationPermission `json:"permission"`
	ReportedAt     time.Time          `json:"reportedAt"`
}

type Address struct {
	FormattedAddress string   `json:"formattedAddress"`
	Point            GeoPoint `json:"point"`
}
