// Package traffic keeps a sliding window of forecast request outcomes. The health
// handler derives the degraded state from its error rate.
package traffic

import (
	"sync"
	"time"
)

type outcome uint8

const (
	success outcome = iota
	failure
	denied
)

type event struct {
	at   time.Time
	kind outcome
}

// Counts is a window summary.
type Counts struct {
	Successes int
	Errors    int
	Denied    int
}

// ErrorPct is Errors as a percentage of Successes+Errors; denials are excluded. Zero when empty.
func (c Counts) ErrorPct() float64 {
	total := c.Successes + c.Errors
	if total == 0 {
		return 0
	}
	return float64(c.Errors) * 100 / float64(total)
}

// Tracker records timestamped outcomes, retaining them for a fixed duration.
type Tracker struct {
	mu        sync.Mutex
	events    []event
	retention time.Duration
	now       func() time.Time
}

// NewTracker returns a Tracker keeping events for retention (five minutes if zero).
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &Tracker{retention: retention, now: time.Now}
}

func (t *Tracker) RecordSuccess() { t.record(success) }
func (t *Tracker) RecordError()   { t.record(failure) }
func (t *Tracker) RecordDenied()  { t.record(denied) }

func (t *Tracker) record(k outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, kind: k})
	t.pruneLocked(now)
}

// Window summarises the events not older than window.
func (t *Tracker) Window(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	var c Counts
	for _, e := range t.events {
		if e.at.Before(cutoff) {
			continue
		}
		switch e.kind {
		case success:
			c.Successes++
		case failure:
			c.Errors++
		case denied:
			c.Denied++
		}
	}
	return c
}

// Reset drops every event.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// events are appended in time order, so expired ones form a prefix.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for i < len(t.events) && t.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}

var defaultTracker = NewTracker(0)

func RecordSuccess() { defaultTracker.RecordSuccess() }
func RecordError()   { defaultTracker.RecordError() }
func RecordDenied()  { defaultTracker.RecordDenied() }

// Window summarises the process-wide tracker.
func Window(window time.Duration) Counts { return defaultTracker.Window(window) }

// Reset clears the process-wide tracker. For tests.
func Reset() { defaultTracker.Reset() }
