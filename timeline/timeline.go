// Package timeline turns sparse slide-change events into a gapless partition
// of a video's duration.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var ErrMalformedTimeline = errors.New("malformed timeline")

// MalformedError reports which event broke the timeline invariants. Index is
// -1 when the problem is not tied to a single event.
type MalformedError struct {
	Index  int
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", ErrMalformedTimeline, e.Reason)
	}
	return fmt.Sprintf("%s: event %d: %s", ErrMalformedTimeline, e.Index, e.Reason)
}

func (e *MalformedError) Unwrap() error { return ErrMalformedTimeline }

// Event is one observed slide change.
type Event struct {
	Timestamp float64 `json:"timestamp"`
	Image     string  `json:"image"`
}

// Interval shows Image over [Start, End).
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Image string  `json:"image"`
}

// Length returns the interval's duration in seconds.
func (iv Interval) Length() float64 { return iv.End - iv.Start }

// TieBreak decides which of several events sharing a timestamp stays visible.
type TieBreak int

const (
	// LastWins keeps the later event in input order.
	LastWins TieBreak = iota
	// FirstWins discards later duplicates.
	FirstWins
)

func (tb TieBreak) String() string {
	if tb == FirstWins {
		return "first"
	}
	return "last"
}

// ParseTieBreak accepts "last" or "first".
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return LastWins, nil
	case "first":
		return FirstWins, nil
	default:
		return LastWins, fmt.Errorf("unknown tie-break policy %q", s)
	}
}

type Options struct {
	TieBreak TieBreak
}

// Timeline is an ordered, gapless, non-overlapping set of intervals starting
// at zero. It is never mutated after Build returns it.
type Timeline struct {
	Intervals []Interval `json:"intervals"`
}

// Duration returns the end of the last interval.
func (tl Timeline) Duration() float64 {
	if len(tl.Intervals) == 0 {
		return 0
	}
	return tl.Intervals[len(tl.Intervals)-1].End
}

// At returns the image visible at instant t, or false when t is outside
// [0, Duration()).
func (tl Timeline) At(t float64) (string, bool) {
	if t < 0 || t >= tl.Duration() {
		return "", false
	}
	i := sort.Search(len(tl.Intervals), func(i int) bool { return tl.Intervals[i].End > t })
	if i == len(tl.Intervals) {
		return "", false
	}
	return tl.Intervals[i].Image, true
}

// Validate checks the partition invariant.
func (tl Timeline) Validate() error {
	if len(tl.Intervals) == 0 {
		return &MalformedError{Index: -1, Reason: "timeline has no intervals"}
	}
	if tl.Intervals[0].Start != 0 {
		return &MalformedError{Index: 0, Reason: fmt.Sprintf("first interval starts at %g, not 0", tl.Intervals[0].Start)}
	}
	for i, iv := range tl.Intervals {
		if !(iv.End > iv.Start) {
			return &MalformedError{Index: i, Reason: "interval has no length"}
		}
		if i > 0 && iv.Start != tl.Intervals[i-1].End {
			return &MalformedError{Index: i, Reason: fmt.Sprintf("gap or overlap at %g", iv.Start)}
		}
		if iv.Image == "" {
			return &MalformedError{Index: i, Reason: "interval has no image"}
		}
	}
	return nil
}

// Build converts events into a Timeline covering [0, duration). Events past
// the end are clamped to duration, which collapses their intervals. The
// first event's image also covers [0, first timestamp).
func Build(events []Event, duration float64, opts Options) (Timeline, error) {
	if len(events) == 0 {
		return Timeline{}, &MalformedError{Index: -1, Reason: "no slide events"}
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return Timeline{}, &MalformedError{Index: -1, Reason: fmt.Sprintf("duration %g is not positive", duration)}
	}

	resolved := make([]Event, 0, len(events))
	for i, ev := range events {
		if strings.TrimSpace(ev.Image) == "" {
			return Timeline{}, &MalformedError{Index: i, Reason: "missing slide image"}
		}
		if math.IsNaN(ev.Timestamp) || math.IsInf(ev.Timestamp, 0) || ev.Timestamp < 0 {
			return Timeline{}, &MalformedError{Index: i, Reason: fmt.Sprintf("invalid timestamp %g", ev.Timestamp)}
		}
		if i > 0 && ev.Timestamp < events[i-1].Timestamp {
			return Timeline{}, &MalformedError{Index: i, Reason: fmt.Sprintf("timestamp %g precedes %g", ev.Timestamp, events[i-1].Timestamp)}
		}
		if opts.TieBreak == FirstWins && len(resolved) > 0 && resolved[len(resolved)-1].Timestamp == ev.Timestamp {
			continue
		}
		resolved = append(resolved, ev)
	}

	intervals := make([]Interval, 0, len(resolved)+1)
	emit := func(start, end float64, image string) {
		start, end = math.Min(start, duration), math.Min(end, duration)
		if end > start {
			intervals = append(intervals, Interval{Start: start, End: end, Image: image})
		}
	}

	emit(0, resolved[0].Timestamp, resolved[0].Image)
	for i, ev := range resolved {
		end := duration
		if i+1 < len(resolved) {
			end = resolved[i+1].Timestamp
		}
		emit(ev.Timestamp, end, ev.Image)
	}

	tl := Timeline{Intervals: intervals}
	if err := tl.Validate(); err != nil {
		return Timeline{}, err
	}
	return tl, nil
}
