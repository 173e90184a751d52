package trips

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/devicefix"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/fake"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/services/tripcache"
	"github.com/BearBump/SafeArrival/internal/storage/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) CreateTrip(ctx context.Context, in models.TripCreateInput) (*models.Trip, error) {
	args := m.Called(ctx, in)
	t, _ := args.Get(0).(*models.Trip)
	return t, args.Error(1)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishTripEvent(ctx context.Context, ev messages.TripEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type ServiceSuite struct {
	suite.Suite

	repo   *mockRepository
	events *mockEvents
	store  *memstore.Store
	svc    *Service
	now    time.Time
	alice  models.Session
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &mockRepository{}
	s.events = &mockEvents{}
	s.store = memstore.New()
	s.now = time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	s.alice = models.Session{UserID: "alice"}
	s.svc = New(s.repo, tripcache.New(s.store, nil, 0), fake.NewGeocoder(), nil, s.events).
		WithClock(func() time.Time { return s.now })
}

func (s *ServiceSuite) TestCreate_GeocodesAndPublishesStarted() {
	dest := "Central Library"
	want, _ := fake.NewGeocoder().Geocode(context.Background(), dest)

	s.repo.On("CreateTrip", mock.Anything, mock.MatchedBy(func(in models.TripCreateInput) bool {
		return in.OwnerID == "alice" &&
			in.DestinationLabel == dest &&
			in.DestinationCoords != nil && *in.DestinationCoords == want.Point &&
			in.ETASeconds == 1200 &&
			in.StartedAt.Equal(s.now)
	})).Return(&models.Trip{
		ID: "t1", OwnerID: "alice", DestinationLabel: dest, ETASeconds: 1200,
		StartedAt: s.now, Status: models.TripStatusOngoing,
	}, nil).Once()
	s.events.On("PublishTripEvent", mock.Anything, mock.MatchedBy(func(ev messages.TripEvent) bool {
		return ev.Kind == messages.TripStarted && ev.TripID == "t1" && ev.Trip != nil
	})).Return(nil).Once()

	v, err := s.svc.Create(context.Background(), s.alice, CreateRequest{DestinationLabel: "  " + dest + " ", ETASeconds: 1200})
	s.Require().NoError(err)
	s.Require().Equal("t1", v.Trip.ID)
	s.Require().Equal(int64(1200), v.Display.RemainingSeconds)
	s.Require().Equal("20:00", v.Display.RemainingFormatted)
	s.Require().False(v.Display.Expired)

	s.repo.AssertExpectations(s.T())
	s.events.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestCreate_ReverseGeocodesOriginLabel() {
	origin := models.GeoPoint{Lat: 10.5, Lng: -20.25}
	s.repo.On("CreateTrip", mock.Anything, mock.MatchedBy(func(in models.TripCreateInput) bool {
		return in.OriginLabel == "10.50000, -20.25000"
	})).Return(&models.Trip{ID: "t2", OwnerID: "alice", Status: models.TripStatusOngoing, StartedAt: s.now}, nil).Once()
	s.events.On("PublishTripEvent", mock.Anything, mock.Anything).Return(errors.New("kafka down")).Once()

	_, err := s.svc.Create(context.Background(), s.alice, CreateRequest{
		OriginCoords: &origin, DestinationLabel: "Work", ETASeconds: 60,
	})
	s.Require().NoError(err)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestCreate_ValidateErrors() {
	ctx := context.Background()

	_, err := s.svc.Create(ctx, models.Session{}, CreateRequest{DestinationLabel: "x"})
	s.Require().ErrorIs(err, apperr.ErrAuthRequired)

	_, err = s.svc.Create(ctx, s.alice, CreateRequest{DestinationLabel: "x", ETASeconds: -1})
	s.Require().ErrorIs(err, apperr.ErrValidation)

	_, err = s.svc.Create(ctx, s.alice, CreateRequest{ETASeconds: 10})
	s.Require().ErrorIs(err, apperr.ErrValidation)

	_, err = s.svc.Create(ctx, s.alice, CreateRequest{DestinationCoords: &models.GeoPoint{Lat: 91}, ETASeconds: 10})
	s.Require().ErrorIs(err, apperr.ErrValidation)

	_, err = s.svc.Create(ctx, s.alice, CreateRequest{DestinationLabel: "x", ETASeconds: maxETASeconds + 1})
	s.Require().ErrorIs(err, apperr.ErrValidation)

	s.repo.AssertNotCalled(s.T(), "CreateTrip", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestGet_VisibleToOwnerAndRecipients() {
	ctx := context.Background()
	trip, err := s.store.CreateTrip(ctx, models.TripCreateInput{OwnerID: "alice", ETASeconds: 60, StartedAt: s.now.Add(-2 * time.Minute)})
	s.Require().NoError(err)
	sw := []string{"bob"}
	s.Require().NoError(s.store.UpdateTripFields(ctx, trip.ID, models.TripFields{SharedWith: &sw}))

	v, err := s.svc.Get(ctx, s.alice, trip.ID)
	s.Require().NoError(err)
	s.Require().True(v.Display.Expired)
	s.Require().Zero(v.Display.RemainingSeconds)

	_, err = s.svc.Get(ctx, models.Session{UserID: "bob"}, trip.ID)
	s.Require().NoError(err)

	_, err = s.svc.Get(ctx, models.Session{UserID: "eve"}, trip.ID)
	s.Require().ErrorIs(err, apperr.ErrNotFound)

	_, err = s.svc.Get(ctx, s.alice, "missing")
	s.Require().ErrorIs(err, apperr.ErrNotFound)
}

func (s *ServiceSuite) TestDisplay_CompletedIsNeverExpired() {
	ctx := context.Background()
	trip, _ := s.store.CreateTrip(ctx, models.TripCreateInput{OwnerID: "alice", ETASeconds: 60, StartedAt: s.now.Add(-time.Hour)})
	st := models.TripStatusCompleted
	done := true
	s.Require().NoError(s.store.UpdateTripFields(ctx, trip.ID, models.TripFields{Status: &st, PuzzleCompleted: &done}))

	d, err := s.svc.Display(ctx, s.alice, trip.ID)
	s.Require().NoError(err)
	s.Require().False(d.Expired)
	s.Require().Equal(models.TripStatusCompleted, d.Status)
}

func (s *ServiceSuite) TestReportPosition() {
	mr := miniredis.RunT(s.T())
	fixes := devicefix.New(mr.Addr(), time.Minute)
	defer fixes.Close()
	svc := New(s.repo, tripcache.New(s.store, nil, 0), nil, fixes, nil).
		WithClock(func() time.Time { return time.Now().UTC() })
	ctx := context.Background()

	s.Require().NoError(svc.ReportPosition(ctx, s.alice, PositionReport{Point: &models.GeoPoint{Lat: 1, Lng: 2}}))
	p, err := fixes.CurrentPosition(ctx, "alice", 50)
	s.Require().NoError(err)
	s.Require().Equal(models.GeoPoint{Lat: 1, Lng: 2}, p)

	s.Require().NoError(svc.ReportPosition(ctx, s.alice, PositionReport{Permission: models.LocationPermissionDenied}))
	_, err = fixes.CurrentPosition(ctx, "alice", 50)
	s.Require().ErrorIs(err, apperr.ErrPermissionDenied)

	s.Require().ErrorIs(svc.ReportPosition(ctx, models.Session{}, PositionReport{}), apperr.ErrAuthRequired)
	s.Require().ErrorIs(svc.ReportPosition(ctx, s.alice, PositionReport{}), apperr.ErrValidation)
	s.Require().ErrorIs(s.svc.ReportPosition(ctx, s.alice, PositionReport{}), apperr.ErrTransientIO)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
