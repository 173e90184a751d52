package geo

import (
	"context"

	"github.com/BearBump/SafeArrival/internal/models"
)

// Accuracy is a hint for one-shot position reads, in meters.
type Accuracy float64

const (
	AccuracyHigh     Accuracy = 50
	AccuracyBalanced Accuracy = 500
	AccuracyLow      Accuracy = 5000
)

// Locator reads the device position of a traveler.
type Locator interface {
	Permission(ctx context.Context, userID string) (models.LocationPermission, error)
	CurrentPosition(ctx context.Context, userID string, accuracy Accuracy) (models.GeoPoint, error)
}

type Geocoder interface {
	ReverseGeocode(ctx context.Context, p models.GeoPoint) (models.Address, error)
	Geocode(ctx context.Context, address string) (models.Address, error)
}
