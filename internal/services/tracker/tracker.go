// Package tracker runs the per-trip lifecycle state machine: a one-second
// countdown that expires overdue trips, a slower location ping, and an
// inbound event channel through which remote status changes arrive.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/BearBump/SafeArrival/internal/eta"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/services/lifecycle"
)

type Transitions interface {
	Expire(ctx context.Context, tripID string, now time.Time) (lifecycle.Result, error)
	Complete(ctx context.Context, sess models.Session, tripID string, now time.Time) (lifecycle.Result, error)
	Cancel(ctx context.Context, sess models.Session, tripID string, now time.Time) (lifecycle.Result, error)
}

type LocationWriter interface {
	UpdateTripFields(ctx context.Context, id string, f models.TripFields) error
}

const (
	DefaultTickEvery   = time.Second
	DefaultPingEvery   = 30 * time.Second
	defaultEventBuffer = 8
)

type Tracker struct {
	tripID     string
	ownerID    string
	startedAt  time.Time
	etaSeconds int64
	sess       models.Session

	tr      Transitions
	store   LocationWriter
	locator geo.Locator
	clock   func() time.Time

	tickEvery time.Duration
	pingEvery time.Duration

	events chan messages.TripEvent
	done   chan struct{}

	mu              sync.Mutex
	status          models.TripStatus
	puzzleCompleted bool
	remaining       int64
	lastErr         error
	closed          bool
}

// New builds a tracker from a trip snapshot. remaining is derived from the
// wall clock so a tracker built after a restart picks up where it should be.
func New(trip *models.Trip, sess models.Session, tr Transitions, store LocationWriter, locator geo.Locator) *Tracker {
	t := &Tracker{
		tripID:     trip.ID,
		ownerID:    trip.OwnerID,
		startedAt:  trip.StartedAt,
		etaSeconds: trip.ETASeconds,
		sess:       sess,
		tr:         tr,
		store:      store,
		locator:    locator,
		clock:      func() time.Time { return time.Now().UTC() },
		tickEvery:  DefaultTickEvery,
		pingEvery:  DefaultPingEvery,
		events:     make(chan messages.TripEvent, defaultEventBuffer),
		done:       make(chan struct{}),

		status:          trip.Status,
		puzzleCompleted: trip.PuzzleCompleted,
	}
	t.remaining = eta.Remaining(trip.ETASeconds, trip.StartedAt, t.clock())
	if t.status.Terminal() {
		t.remaining = 0
		t.closed = true
		close(t.done)
	}
	return t
}

func (t *Tracker) WithSettings(tickEvery, pingEvery time.Duration) *Tracker {
	if tickEvery > 0 {
		t.tickEvery = tickEvery
	}
	if pingEvery > 0 {
		t.pingEvery = pingEvery
	}
	return t
}

// WithClock replaces the wall clock and re-derives remaining from it.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	t.mu.Lock()
	if !t.status.Terminal() {
		t.remaining = eta.Remaining(t.etaSeconds, t.startedAt, clock())
	}
	t.mu.Unlock()
	return t
}

func (t *Tracker) TripID() string { return t.tripID }

// Done is closed once the tracker observes a terminal status.
func (t *Tracker) Done() <-chan struct{} { return t.done }

func (t *Tracker) Status() models.TripStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tracker) State() models.DisplayState {
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()

	rem := t.remaining
	if t.status.Terminal() {
		rem = 0
	}
	st := models.DisplayState{
		TripID:             t.tripID,
		Status:             t.status,
		RemainingSeconds:   rem,
		RemainingFormatted: eta.Format(rem),
		Expired:            eta.Expired(t.status, t.startedAt, t.etaSeconds, now),
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	return st
}

// Tick advances the countdown by one second and runs the expiry transition
// when it reaches zero. A no-op once terminal.
func (t *Tracker) Tick(ctx context.Context, now time.Time) error {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return nil
	}
	if t.remaining > 0 {
		t.remaining--
	}
	due := t.remaining == 0 && !t.puzzleCompleted && t.status == models.TripStatusOngoing
	t.mu.Unlock()

	if !due {
		return nil
	}

	res, err := t.tr.Expire(ctx, t.tripID, now)
	t.settle(res, err, models.TripStatusExpired)
	return err
}

// Ping stores the traveler's current position on the trip. Failures are
// logged and dropped; the next ping is the retry.
func (t *Tracker) Ping(ctx context.Context, now time.Time) {
	if t.Status().Terminal() {
		return
	}

	p, err := t.locator.CurrentPosition(ctx, t.ownerID, geo.AccuracyBalanced)
	if err != nil {
		slog.Warn("location ping skipped", "trip_id", t.tripID, "err", err)
		return
	}
	if t.Status().Terminal() {
		return
	}

	err = t.store.UpdateTripFields(ctx, t.tripID, models.TripFields{
		LastKnownLocation:  &p,
		LastLocationUpdate: &now,
	})
	if err != nil {
		slog.Warn("location ping write failed", "trip_id", t.tripID, "err", err)
	}
}

// Complete records a solved confirmation for this trip.
func (t *Tracker) Complete(ctx context.Context, now time.Time) error {
	if t.Status().Terminal() {
		return nil
	}
	res, err := t.tr.Complete(ctx, t.sess, t.tripID, now)
	t.settle(res, err, models.TripStatusCompleted)
	return err
}

func (t *Tracker) Cancel(ctx context.Context, now time.Time) error {
	if t.Status().Terminal() {
		return nil
	}
	res, err := t.tr.Cancel(ctx, t.sess, t.tripID, now)
	t.settle(res, err, models.TripStatusCancelled)
	return err
}

// Notify queues an inbound event. It gives up when the tracker is done or
// ctx ends.
func (t *Tracker) Notify(ctx context.Context, ev messages.TripEvent) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.events <- ev:
		return true
	case <-t.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Observe applies an event immediately. A remote terminal status is
// adopted as-is and stops the timers.
func (t *Tracker) Observe(ev messages.TripEvent) {
	if ev.TripID != t.tripID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	if ev.PuzzleCompleted && ev.Status != models.TripStatusCompleted {
		// Malformed: puzzleCompleted only ever travels with completed.
		return
	}
	if !ev.Status.Terminal() {
		return
	}

	slog.Info("remote trip status adopted", "trip_id", t.tripID, "status", ev.Status)
	t.status = ev.Status
	t.puzzleCompleted = ev.PuzzleCompleted
	t.finishLocked()
}

// Run drives both timers until the trip turns terminal or ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	default:
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tick := time.NewTicker(t.tickEvery)
	defer tick.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ping := time.NewTicker(t.pingEvery)
		defer ping.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-t.done:
				return
			case <-ping.C:
				t.Ping(runCtx, t.clock())
			}
		}
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case ev := <-t.events:
			t.Observe(ev)
		case <-tick.C:
			if err := t.Tick(runCtx, t.clock()); err != nil {
				slog.Error("trip expiry write failed", "trip_id", t.tripID, "err", err)
			}
		}
	}
}

// settle moves the local state machine to the outcome of a transition. The
// local state advances even when the write failed.
func (t *Tracker) settle(res lifecycle.Result, err error, intended models.TripStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.lastErr = err
	}
	if t.status.Terminal() {
		return
	}

	status, puzzle := intended, intended == models.TripStatusCompleted
	if res.Trip != nil && res.Trip.Status.Terminal() {
		status, puzzle = res.Trip.Status, res.Trip.PuzzleCompleted
	}
	t.status = status
	t.puzzleCompleted = puzzle
	t.finishLocked()
}

func (t *Tracker) finishLocked() {
	t.remaining = 0
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}
