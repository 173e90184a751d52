package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/models"
)

// Geocoder derives stable coordinates from the address text, so the same
// label always lands on the same point. Used when no Maps key is configured.
type Geocoder struct{}

func NewGeocoder() *Geocoder { return &Geocoder{} }

func (g *Geocoder) Geocode(ctx context.Context, address string) (models.Address, error) {
	if address == "" {
		return models.Address{}, apperr.Validation("address is required")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(address))
	v := h.Sum64()

	lat := float64(v%180_000)/1000 - 90
	lng := float64((v/180_000)%360_000)/1000 - 180
	return models.Address{FormattedAddress: address, Point: models.GeoPoint{Lat: lat, Lng: lng}}, nil
}

func (g *Geocoder) ReverseGeocode(ctx context.Context, p models.GeoPoint) (models.Address, error) {
	return models.Address{FormattedAddress: fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lng), Point: p}, nil
}

// Locator serves positions set by the caller.
type Locator struct {
	mu     sync.Mutex
	points map[string]models.GeoPoint
	denied map[string]bool
	err    error
	calls  int
}

func NewLocator() *Locator {
	return &Locator{points: map[string]models.GeoPoint{}, denied: map[string]bool{}}
}

func (l *Locator) Set(userID string, p models.GeoPoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.points[userID] = p
	delete(l.denied, userID)
}

func (l *Locator) Deny(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.denied[userID] = true
}

// FailWith makes every read fail with err until cleared with nil.
func (l *Locator) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *Locator) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *Locator) Permission(ctx context.Context, userID string) (models.LocationPermission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denied[userID] {
		return models.LocationPermissionDenied, nil
	}
	return models.LocationPermissionGranted, nil
}

func (l *Locator) CurrentPosition(ctx context.Context, userID string, accuracy geo.Accuracy) (models.GeoPoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return models.GeoPoint{}, l.err
	}
	if l.denied[userID] {
		return models.GeoPoint{}, apperr.PermissionDenied("location permission denied by user %s", userID)
	}
	p, ok := l.points[userID]
	if !ok {
		return models.GeoPoint{}, apperr.TransientIO(nil, "no recent position for user %s", userID)
	}
	return p, nil
}
