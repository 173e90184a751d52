package pgtrips

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() || os.Getenv("SKIP_DOCKER_TESTS") != "" {
		t.Skip("docker tests disabled")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "safearrival_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/safearrival_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGTrips_RepoFlow(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	trip, err := st.CreateTrip(ctx, models.TripCreateInput{
		OwnerID:           "owner-1",
		OriginLabel:       "Home",
		DestinationLabel:  "Office",
		DestinationCoords: &models.GeoPoint{Lat: 55.75, Lng: 37.61},
		ETASeconds:        600,
		StartedAt:         started,
	})
	require.NoError(t, err)
	require.NotEmpty(t, trip.ID)
	require.Equal(t, models.TripStatusOngoing, trip.Status)
	require.Empty(t, trip.SharedWith)
	require.Nil(t, trip.OriginCoords)
	require.Equal(t, &models.GeoPoint{Lat: 55.75, Lng: 37.61}, trip.DestinationCoords)
	require.WithinDuration(t, started, trip.StartedAt, time.Second)

	ongoing, err := st.ListOngoingTrips(ctx, storage.TripCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, ongoing, 1)

	// partial update leaves other columns alone
	loc := models.GeoPoint{Lat: 1, Lng: 2}
	now := time.Now().UTC()
	require.NoError(t, st.UpdateTripFields(ctx, trip.ID, models.TripFields{
		LastKnownLocation:  &loc,
		LastLocationUpdate: &now,
	}))
	got, err := st.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	require.Equal(t, &loc, got.LastKnownLocation)
	require.Equal(t, models.TripStatusOngoing, got.Status)
	require.Equal(t, "Office", got.DestinationLabel)

	status := models.TripStatusCompleted
	done := true
	dur := int64(60)
	require.NoError(t, st.UpdateTripFields(ctx, trip.ID, models.TripFields{
		Status:          &status,
		PuzzleCompleted: &done,
		DurationSeconds: &dur,
		CompletionTime:  &now,
	}))
	got, err = st.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.TripStatusCompleted, got.Status)
	require.True(t, got.PuzzleCompleted)
	require.Equal(t, int64(60), *got.DurationSeconds)
	require.Equal(t, &loc, got.LastKnownLocation)

	ongoing, err = st.ListOngoingTrips(ctx, storage.TripCursor{}, 10)
	require.NoError(t, err)
	require.Empty(t, ongoing)

	err = st.UpdateTripFields(ctx, "missing", models.TripFields{Status: &status})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = st.GetTrip(ctx, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPGTrips_ListOngoingTripsPages(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		_, err := st.CreateTrip(ctx, models.TripCreateInput{
			OwnerID:    "o",
			ETASeconds: 60,
			StartedAt:  base.Add(time.Duration(i/2) * time.Second),
		})
		require.NoError(t, err)
	}

	first, err := st.ListOngoingTrips(ctx, storage.TripCursor{}, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := st.ListOngoingTrips(ctx, storage.CursorOf(first[2]), 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)

	seen := make(map[string]bool)
	for _, trip := range append(first, rest...) {
		require.False(t, seen[trip.ID])
		seen[trip.ID] = true
	}
	require.True(t, storage.CursorOf(first[2]).Before(rest[0]))
}

func TestPGTrips_PuzzleRequiresCompleted(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	trip, err := st.CreateTrip(ctx, models.TripCreateInput{OwnerID: "o", ETASeconds: 60})
	require.NoError(t, err)

	done := true
	err = st.UpdateTripFields(ctx, trip.ID, models.TripFields{PuzzleCompleted: &done})
	require.ErrorIs(t, err, apperr.ErrTransientIO)
}

func TestPGTrips_SharesAndUsers(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	trip, err := st.CreateTrip(ctx, models.TripCreateInput{OwnerID: "a", ETASeconds: 60})
	require.NoError(t, err)
	require.NoError(t, st.UpsertUser(ctx, models.User{ID: "b", DisplayName: "Bob", PushToken: "tok"}))

	eta := time.Now().UTC().Add(10 * time.Minute)
	for i := 0; i < 2; i++ {
		_, err := st.CreateShare(ctx, models.ShareCreateInput{TripID: trip.ID, FromUserID: "a", ToUserID: "b", ETA: eta})
		require.NoError(t, err)
	}

	shares, err := st.ListSharesForRecipient(ctx, "b", 0)
	require.NoError(t, err)
	require.Len(t, shares, 2)
	require.False(t, shares[0].Read)

	require.NoError(t, st.MarkShareRead(ctx, shares[0].ID))
	sh, err := st.GetShare(ctx, shares[0].ID)
	require.NoError(t, err)
	require.True(t, sh.Read)
	require.WithinDuration(t, eta, sh.ETA, time.Millisecond)

	require.ErrorIs(t, st.MarkShareRead(ctx, "nope"), apperr.ErrNotFound)

	u, err := st.GetUser(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, "tok", u.PushToken)
	_, err = st.GetUser(ctx, "zzz")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPGTrips_SubscribeTrip(t *testing.T) {
	st := newTestStorage(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	trip, err := st.CreateTrip(ctx, models.TripCreateInput{OwnerID: "o", ETASeconds: 60})
	require.NoError(t, err)
	other, err := st.CreateTrip(ctx, models.TripCreateInput{OwnerID: "o", ETASeconds: 60})
	require.NoError(t, err)

	ch, stop, err := st.SubscribeTrip(ctx, trip.ID)
	require.NoError(t, err)
	defer stop()

	status := models.TripStatusCancelled
	now := time.Now().UTC()
	require.NoError(t, st.UpdateTripFields(ctx, other.ID, models.TripFields{Status: &status, EndTime: &now}))
	require.NoError(t, st.UpdateTripFields(ctx, trip.ID, models.TripFields{Status: &status, EndTime: &now}))

	select {
	case got := <-ch:
		require.Equal(t, trip.ID, got.ID)
		require.Equal(t, models.TripStatusCancelled, got.Status)
	case <-ctx.Done():
		t.Fatal("no change delivered")
	}

	stop()
	for range ch {
	}
}
