package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/SafeArrival/internal/api/tripsapi"
	"github.com/BearBump/SafeArrival/internal/auth/jwtauth"
	"github.com/BearBump/SafeArrival/internal/integrations/geo/fake"
	"github.com/BearBump/SafeArrival/internal/integrations/push"
	"github.com/BearBump/SafeArrival/internal/services/lifecycle"
	"github.com/BearBump/SafeArrival/internal/services/sharing"
	"github.com/BearBump/SafeArrival/internal/services/tripcache"
	"github.com/BearBump/SafeArrival/internal/services/trips"
	"github.com/BearBump/SafeArrival/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

func newTestAPI() *tripsapi.API {
	store := memstore.New()
	tc := tripcache.New(store, nil, 0)
	locator := fake.NewLocator()
	geocoder := fake.NewGeocoder()
	return tripsapi.New(
		trips.New(store, tc, geocoder, nil, nil),
		lifecycle.New(store, locator, nil, tc, push.Noop{}),
		sharing.New(store, tc, push.Noop{}, nil),
		geocoder,
	)
}

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func TestRunTripAPI_ServesOpsAndAPI(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := tripAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runTripAPI(ctx, opts, newTestAPI(), jwtauth.New("s", "safearrival"))
	}()

	base := "http://" + <-addrCh

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "\"swagger\"")

	resp, err = http.Get(base + "/v1/shares/incoming")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting api to stop")
	}
}

func TestRunTripAPI_CORSPreflight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := tripAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
		corsOrigins: []string{"http://app.local"},
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}
	go func() { _ = runTripAPI(ctx, opts, newTestAPI(), jwtauth.New("s", "safearrival")) }()
	base := "http://" + <-addrCh

	req, err := http.NewRequest(http.MethodOptions, base+"/v1/trips", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://app.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "http://app.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRunTripAPI_MissingSwagger(t *testing.T) {
	err := runTripAPI(context.Background(), tripAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, newTestAPI(), jwtauth.New("s", "safearrival"))
	require.Error(t, err)

	err = runTripAPI(context.Background(), tripAPIOpts{httpAddr: "127.0.0.1:0"}, newTestAPI(), jwtauth.New("s", "safearrival"))
	require.Error(t, err)
}
