// Package eta holds the countdown arithmetic shared by the tracker, the API
// and share previews. Everything here is derived from wall-clock inputs.
package eta

import (
	"fmt"
	"math"
	"time"

	"github.com/BearBump/SafeArrival/internal/models"
)

// Remaining returns max(0, etaSeconds - elapsed) in whole seconds.
func Remaining(etaSeconds int64, startedAt, now time.Time) int64 {
	elapsed := int64(now.Sub(startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	r := etaSeconds - elapsed
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether a trip should be shown as overdue. A completed
// trip is never shown as expired, however late it was confirmed.
func Expired(status models.TripStatus, startedAt time.Time, etaSeconds int64, now time.Time) bool {
	if status == models.TripStatusCompleted {
		return false
	}
	return now.After(startedAt.Add(time.Duration(etaSeconds) * time.Second))
}

// Format renders seconds as MM:SS, or HH:MM:SS from one hour up.
func Format(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// MaxHintMinutes bounds a remaining-minutes hint to the longest trip eta.
const MaxHintMinutes = 7 * 24 * 60

// ArrivalFrom computes the absolute arrival estimate sent with a share.
// A nil or non-finite hint degrades to now; larger hints are clamped to
// MaxHintMinutes either side of now.
func ArrivalFrom(now time.Time, remainingMinutes *float64) time.Time {
	if remainingMinutes == nil || math.IsNaN(*remainingMinutes) || math.IsInf(*remainingMinutes, 0) {
		return now
	}
	m := math.Max(-MaxHintMinutes, math.Min(MaxHintMinutes, *remainingMinutes))
	return now.Add(time.Duration(m * float64(time.Minute)))
}

// Display builds the observer view of a trip at now.
func Display(t *models.Trip, now time.Time) models.DisplayState {
	rem := Remaining(t.ETASeconds, t.StartedAt, now)
	if t.Status.Terminal() {
		rem = 0
	}
	return models.DisplayState{
		TripID:             t.ID,
		Status:             t.Status,
		RemainingSeconds:   rem,
		RemainingFormatted: Format(rem),
		Expired:            Expired(t.Status, t.StartedAt, t.ETASeconds, now),
	}
}
