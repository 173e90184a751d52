// Package tripsapi is the HTTP surface the mobile client talks to.
package tripsapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/auth"
	"github.com/BearBump/SafeArrival/internal/eta"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/services/lifecycle"
	"github.com/BearBump/SafeArrival/internal/services/sharing"
	"github.com/BearBump/SafeArrival/internal/services/trips"
	"github.com/go-chi/chi/v5"
)

type API struct {
	trips    *trips.Service
	life     *lifecycle.Service
	sharing  *sharing.Service
	geocoder geo.Geocoder

	clock     func() time.Time
	liveEvery time.Duration
}

func New(tripsSvc *trips.Service, life *lifecycle.Service, sharingSvc *sharing.Service, geocoder geo.Geocoder) *API {
	return &API{
		trips:     tripsSvc,
		life:      life,
		sharing:   sharingSvc,
		geocoder:  geocoder,
		clock:     func() time.Time { return time.Now().UTC() },
		liveEvery: time.Second,
	}
}

func (a *API) WithLiveInterval(d time.Duration) *API {
	if d > 0 {
		a.liveEvery = d
	}
	return a
}

// Routes mounts the authenticated /v1 API on r.
func (a *API) Routes(r chi.Router, v auth.Verifier) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(v))

		r.Post("/trips", a.createTrip)
		r.Get("/trips/{id}", a.getTrip)
		r.Post("/trips/{id}/complete", a.completeTrip)
		r.Post("/trips/{id}/cancel", a.cancelTrip)
		r.Get("/trips/{id}/live", a.liveTrip)
		r.Post("/trips/{id}/shares", a.shareTrip)

		r.Post("/position", a.reportPosition)

		r.Get("/shares/incoming", a.incomingShares)
		r.Post("/shares/{id}/read", a.markShareRead)

		r.Get("/geo/reverse", a.reverseGeocode)
		r.Get("/geo/search", a.searchGeocode)
	})
}

func (a *API) createTrip(w http.ResponseWriter, r *http.Request) {
	var req trips.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := a.trips.Create(r.Context(), auth.SessionFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) getTrip(w http.ResponseWriter, r *http.Request) {
	v, err := a.trips.Get(r.Context(), auth.SessionFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type transitionResponse struct {
	trips.View
	Applied bool `json:"applied"`
}

func (a *API) completeTrip(w http.ResponseWriter, r *http.Request) {
	now := a.clock()
	res, err := a.life.Complete(r.Context(), auth.SessionFrom(r.Context()), chi.URLParam(r, "id"), now)
	a.writeTransition(w, r, res, err, now)
}

func (a *API) cancelTrip(w http.ResponseWriter, r *http.Request) {
	now := a.clock()
	res, err := a.life.Cancel(r.Context(), auth.SessionFrom(r.Context()), chi.URLParam(r, "id"), now)
	a.writeTransition(w, r, res, err, now)
}

func (a *API) writeTransition(w http.ResponseWriter, r *http.Request, res lifecycle.Result, err error, now time.Time) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{
		View:    trips.View{Trip: res.Trip, Display: eta.Display(res.Trip, now)},
		Applied: res.Applied,
	})
}

type shareRequest struct {
	RemainingMinutes json.RawMessage `json:"remainingMinutes"`
	Recipients       []string        `json:"recipients"`
}

func (a *API) shareTrip(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.sharing.Share(r.Context(), auth.SessionFrom(r.Context()), chi.URLParam(r, "id"),
		parseMinutes(req.RemainingMinutes), req.Recipients)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Failed() > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

// parseMinutes accepts a JSON number or a numeric string. Anything else
// yields nil, which the fan-out treats as "ETA unknown, sent now".
func parseMinutes(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return &f
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	return nil
}

func (a *API) reportPosition(w http.ResponseWriter, r *http.Request) {
	var req trips.PositionReport
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.trips.ReportPosition(r.Context(), auth.SessionFrom(r.Context()), req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) incomingShares(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := a.sharing.ListIncoming(r.Context(), auth.SessionFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": list})
}

func (a *API) markShareRead(w http.ResponseWriter, r *http.Request) {
	if err := a.sharing.MarkRead(r.Context(), auth.SessionFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, r, apperr.Validation("lat and lng are required numbers"))
		return
	}
	p := models.GeoPoint{Lat: lat, Lng: lng}
	if !p.Valid() {
		writeError(w, r, apperr.Validation("coordinates out of range"))
		return
	}
	addr, err := a.geocoder.ReverseGeocode(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (a *API) searchGeocode(w http.ResponseWriter, r *http.Request) {
	addr, err := a.geocoder.Geocode(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}
