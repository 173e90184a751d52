package tripsapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/SafeArrival/internal/auth"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const liveWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mobile clients send no Origin; browser access is already gated by the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveTrip streams the display state once per interval until the client
// goes away, including after the trip turned terminal.
func (a *API) liveTrip(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFrom(r.Context())
	id := chi.URLParam(r, "id")

	// Fail before the upgrade so the client gets a plain HTTP status.
	first, err := a.trips.Display(r.Context(), sess, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("live upgrade failed", "trip_id", id, "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(st models.DisplayState) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		return conn.WriteJSON(st) == nil
	}

	if !send(first) {
		return
	}

	t := time.NewTicker(a.liveEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st, err := a.trips.Display(ctx, sess, id)
			if err != nil {
				st = models.DisplayState{TripID: id, LastError: err.Error()}
			}
			if !send(st) {
				return
			}
		}
	}
}
