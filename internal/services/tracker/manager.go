package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/SafeArrival/internal/broker/messages"
	"github.com/BearBump/SafeArrival/internal/integrations/geo"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
	"github.com/pkg/errors"
)

type Store interface {
	LocationWriter
	ListOngoingTrips(ctx context.Context, after storage.TripCursor, limit int) ([]*models.Trip, error)
}

// Manager owns the running trackers of a worker process.
type Manager struct {
	store   Store
	tr      Transitions
	locator geo.Locator

	resyncEvery time.Duration
	batchSize   int
	concurrency int
	tickEvery   time.Duration
	pingEvery   time.Duration
	clock       func() time.Time

	triggerCh chan struct{}

	mu       sync.Mutex
	trackers map[string]*Tracker
	wg       sync.WaitGroup

	startedAtUnixNano   int64
	lastResyncUnixNano  atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalStarted        atomic.Int64
	totalExpired        atomic.Int64
	totalCompleted      atomic.Int64
	totalCancelled      atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func NewManager(store Store, tr Transitions, locator geo.Locator) *Manager {
	return &Manager{
		store:             store,
		tr:                tr,
		locator:           locator,
		resyncEvery:       time.Minute,
		batchSize:         500,
		concurrency:       10,
		tickEvery:         DefaultTickEvery,
		pingEvery:         DefaultPingEvery,
		clock:             func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		trackers:          make(map[string]*Tracker),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (m *Manager) WithSettings(resyncEvery time.Duration, batchSize, concurrency int) *Manager {
	if resyncEvery > 0 {
		m.resyncEvery = resyncEvery
	}
	if batchSize > 0 {
		m.batchSize = min(batchSize, storage.MaxListLimit)
	}
	if concurrency > 0 {
		m.concurrency = concurrency
	}
	return m
}

func (m *Manager) WithTimers(tickEvery, pingEvery time.Duration) *Manager {
	if tickEvery > 0 {
		m.tickEvery = tickEvery
	}
	if pingEvery > 0 {
		m.pingEvery = pingEvery
	}
	return m
}

func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

func (m *Manager) newTracker(trip *models.Trip) *Tracker {
	return New(trip, models.Session{UserID: trip.OwnerID}, m.tr, m.store, m.locator).
		WithSettings(m.tickEvery, m.pingEvery).
		WithClock(m.clock)
}

// Start runs a tracker for trip unless one is already running or the trip
// is terminal. The tracker lives until it turns terminal or ctx ends.
func (m *Manager) Start(ctx context.Context, trip *models.Trip) bool {
	if trip == nil || trip.Status.Terminal() {
		return false
	}
	return m.launch(ctx, m.newTracker(trip))
}

func (m *Manager) launch(ctx context.Context, t *Tracker) bool {
	if ctx.Err() != nil || !m.reserve(t) {
		return false
	}
	m.run(ctx, t)
	return true
}

// reserve claims the trip id for t. Nobody else starts a tracker for the
// trip until t runs and finishes or release is called.
func (m *Manager) reserve(t *Tracker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trackers[t.TripID()]; ok {
		return false
	}
	m.trackers[t.TripID()] = t
	return true
}

func (m *Manager) release(t *Tracker) {
	m.mu.Lock()
	if m.trackers[t.TripID()] == t {
		delete(m.trackers, t.TripID())
	}
	m.mu.Unlock()
}

// run starts the goroutine of a reserved tracker.
func (m *Manager) run(ctx context.Context, t *Tracker) {
	m.wg.Add(1)
	m.totalStarted.Add(1)
	slog.Info("tracker started", "trip_id", t.TripID())

	go func() {
		defer m.wg.Done()
		err := t.Run(ctx)
		m.release(t)
		if err != nil {
			return
		}
		m.record(t)
	}()
}

func (m *Manager) record(t *Tracker) {
	st := t.State()
	switch st.Status {
	case models.TripStatusExpired:
		m.totalExpired.Add(1)
	case models.TripStatusCompleted:
		m.totalCompleted.Add(1)
	case models.TripStatusCancelled:
		m.totalCancelled.Add(1)
	}
	if st.LastError != "" {
		m.setError(st.LastError)
	}
	slog.Info("tracker finished", "trip_id", st.TripID, "status", st.Status)
}

func (m *Manager) setError(msg string) {
	m.totalErrors.Add(1)
	m.lastErrorMu.Lock()
	m.lastError = msg
	m.lastErrorMu.Unlock()
}

func (m *Manager) Get(tripID string) (*Tracker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[tripID]
	return t, ok
}

func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trackers)
}

// Dispatch routes an inbound trip event to its tracker. An event carrying
// an ongoing trip snapshot starts a tracker when none runs yet.
func (m *Manager) Dispatch(ctx context.Context, ev messages.TripEvent) {
	if t, ok := m.Get(ev.TripID); ok {
		t.Notify(ctx, ev)
		return
	}
	if ev.Trip != nil && ev.Trip.Status == models.TripStatusOngoing {
		m.Start(ctx, ev.Trip)
	}
}

// Trigger requests an immediate resync (best-effort, non-blocking).
func (m *Manager) Trigger() {
	m.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

// Resync pages through every ongoing trip and starts the missing trackers.
// Trips already overdue get their first tick here, at most concurrency at a
// time, so a backlog left by downtime expires without a burst of parallel
// writes.
func (m *Manager) Resync(ctx context.Context) (int, error) {
	now := m.clock()
	m.lastResyncUnixNano.Store(time.Now().UTC().UnixNano())

	started := 0
	var cursor storage.TripCursor
	for {
		trips, err := m.store.ListOngoingTrips(ctx, cursor, m.batchSize)
		if err != nil {
			m.setError(err.Error())
			return started, errors.Wrap(err, "list ongoing trips")
		}
		started += m.startBatch(ctx, now, trips)

		if len(trips) < m.batchSize || ctx.Err() != nil {
			return started, nil
		}
		cursor = storage.CursorOf(trips[len(trips)-1])
	}
}

func (m *Manager) startBatch(ctx context.Context, now time.Time, trips []*models.Trip) int {
	var fresh []*Tracker
	for _, trip := range trips {
		t := m.newTracker(trip)
		if m.reserve(t) {
			fresh = append(fresh, t)
		}
	}

	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup
	for _, t := range fresh {
		if t.State().RemainingSeconds > 0 {
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(t *Tracker) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := t.Tick(ctx, now); err != nil {
				slog.Error("overdue trip expiry failed", "trip_id", t.TripID(), "err", err)
			}
		}(t)
	}
	wg.Wait()

	started := 0
	for _, t := range fresh {
		if t.Status().Terminal() {
			m.release(t)
			m.record(t)
			continue
		}
		if ctx.Err() != nil {
			m.release(t)
			continue
		}
		m.run(ctx, t)
		started++
	}
	return started
}

func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.Resync(ctx); err != nil {
		slog.Error("initial resync", "error", err.Error())
	}

	t := time.NewTicker(m.resyncEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return ctx.Err()
		case <-t.C:
			m.resync(ctx)
		case <-m.triggerCh:
			m.resync(ctx)
		}
	}
}

func (m *Manager) resync(ctx context.Context) {
	n, err := m.Resync(ctx)
	if err != nil {
		slog.Error("resync", "error", err.Error())
		return
	}
	if n > 0 {
		slog.Info("resync started trackers", "count", n)
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastResyncAt   *time.Time `json:"lastResyncAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalStarted   int64      `json:"totalStarted"`
	Running        int64      `json:"running"`
	TotalExpired   int64      `json:"totalExpired"`
	TotalCompleted int64      `json:"totalCompleted"`
	TotalCancelled int64      `json:"totalCancelled"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
}

func (m *Manager) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, m.startedAtUnixNano).UTC(),
		TotalStarted:   m.totalStarted.Load(),
		Running:        int64(m.Running()),
		TotalExpired:   m.totalExpired.Load(),
		TotalCompleted: m.totalCompleted.Load(),
		TotalCancelled: m.totalCancelled.Load(),
		TotalErrors:    m.totalErrors.Load(),
	}
	if n := m.lastResyncUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastResyncAt = &t
	}
	if n := m.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	m.lastErrorMu.Lock()
	st.LastError = m.lastError
	m.lastErrorMu.Unlock()
	return st
}
