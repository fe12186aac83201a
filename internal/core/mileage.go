// Package core holds the mileage domain types and the reconciliation of
// odometer readings against reported work mileage.
//
// A calculation runs four stages: the work-mileage aggregator, the timeline
// builder, the window selector and the distance accumulator. All of them are
// pure functions over their arguments and safe for concurrent use.
package core

import (
	"fmt"
	"slices"
	"time"
)

type (
	// Input is everything a single reconciliation needs.
	Input struct {
		Readings    []OdometerReading
		CarChanges  []CarChangeEvent
		WorkMileage WorkMileageTable
		FiscalYear  FiscalYear
		// Location anchors the fiscal year boundaries. Nil means time.Local.
		Location *time.Location
	}

	// Result is the outcome of a reconciliation.
	Result struct {
		FiscalYear  FiscalYear
		TotalDriven float64
		TotalWorkKm float64
		PrivateKm   float64
		// InsufficientData is set when no timeline entry falls inside the
		// window. PrivateKm is then -TotalWorkKm and must not be shown as a
		// real distance.
		InsufficientData bool
	}

	// Split is the business/private breakdown shown to users.
	Split struct {
		Business float64
		Private  float64
	}

	// Window is the timeline partitioned around a fiscal year.
	Window struct {
		Before   []TimelineEntry
		InWindow []TimelineEntry
		Baseline float64
	}
)

func (r Result) Split() Split {
	return Split{Business: r.TotalWorkKm, Private: r.PrivateKm}
}

// Calculate validates the input and reconciles it for the requested fiscal year.
func Calculate(in Input) (Result, error) {
	for i, r := range in.Readings {
		if err := r.Validate(); err != nil {
			return Result{}, fmt.Errorf("reading %d: %w", i, err)
		}
	}
	for i, c := range in.CarChanges {
		if err := c.Validate(); err != nil {
			return Result{}, fmt.Errorf("car change %d: %w", i, err)
		}
	}

	workKm, err := SumWorkMileage(in.WorkMileage, in.FiscalYear, in.Location)
	if err != nil {
		return Result{}, err
	}

	timeline := BuildTimeline(in.Readings, in.CarChanges)
	window := SelectWindow(timeline, in.FiscalYear, in.Location)
	if window.Empty() {
		return Result{
			FiscalYear:       in.FiscalYear,
			TotalWorkKm:      workKm,
			PrivateKm:        -workKm,
			InsufficientData: true,
		}, nil
	}

	driven := AccumulateDistance(window.InWindow, window.Baseline)
	return Result{
		FiscalYear:  in.FiscalYear,
		TotalDriven: driven,
		TotalWorkKm: workKm,
		PrivateKm:   driven - workKm,
	}, nil
}

// SumWorkMileage adds up the months whose first day lies inside the fiscal year.
// Keys are visited in sorted order so the float sum is reproducible.
func SumWorkMileage(table WorkMileageTable, fy FiscalYear, loc *time.Location) (float64, error) {
	if loc == nil {
		loc = time.Local
	}
	start, end := fy.Window(loc)

	var total float64
	for _, key := range table.sortedKeys() {
		year, month, err := ParseMonthKey(key)
		if err != nil {
			return 0, err
		}
		v := table[key]
		if !validDistance(v) {
			return 0, &ValueError{Field: key, Value: v, Err: ErrInvalidWorkMileage}
		}
		first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		if !first.Before(start) && first.Before(end) {
			total += v
		}
	}
	return total, nil
}

// BuildTimeline merges readings and car changes into one ascending sequence.
// Equal timestamps order period ends before readings before period starts;
// remaining ties keep insertion order.
func BuildTimeline(readings []OdometerReading, changes []CarChangeEvent) []TimelineEntry {
	timeline := make([]TimelineEntry, 0, len(readings)+2*len(changes))
	for _, r := range readings {
		timeline = append(timeline, TimelineEntry{Timestamp: r.Timestamp, Km: r.TotalKm, Kind: KindReading})
	}
	for _, c := range changes {
		timeline = append(timeline,
			TimelineEntry{Timestamp: c.Date, Km: c.OldCarFinalKm, Kind: KindPeriodEnd},
			TimelineEntry{Timestamp: c.Date, Km: c.NewCarStartKm, Kind: KindPeriodStart},
		)
	}
	slices.SortStableFunc(timeline, compareEntries)
	return timeline
}

func compareEntries(a, b TimelineEntry) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return kindRank(a.Kind) - kindRank(b.Kind)
}

func kindRank(k EntryKind) int {
	switch k {
	case KindPeriodEnd:
		return 0
	case KindReading:
		return 1
	default:
		return 2
	}
}

// SelectWindow partitions a sorted timeline around the fiscal year and picks
// the baseline odometer value.
//
// A period end closes the old vehicle just before its nominal date, so it
// belongs to the window iff start < date <= end.
func SelectWindow(timeline []TimelineEntry, fy FiscalYear, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	start, end := fy.Window(loc)

	var w Window
	for _, e := range timeline {
		switch position(e, start, end) {
		case -1:
			w.Before = append(w.Before, e)
		case 0:
			w.InWindow = append(w.InWindow, e)
		}
	}

	switch {
	case len(w.Before) > 0:
		w.Baseline = w.Before[len(w.Before)-1].Km
	case len(w.InWindow) > 0:
		w.Baseline = w.InWindow[0].Km
	}
	return w
}

// Empty reports that nothing happened inside the window.
func (w Window) Empty() bool {
	return len(w.InWindow) == 0
}

func position(e TimelineEntry, start, end time.Time) int {
	if e.Kind == KindPeriodEnd {
		switch {
		case !e.Timestamp.After(start):
			return -1
		case !e.Timestamp.After(end):
			return 0
		default:
			return 1
		}
	}
	switch {
	case e.Timestamp.Before(start):
		return -1
	case e.Timestamp.Before(end):
		return 0
	default:
		return 1
	}
}

// AccumulateDistance walks the in-window entries once and sums the strictly
// positive odometer deltas. A period start only moves the reference point.
func AccumulateDistance(entries []TimelineEntry, baseline float64) float64 {
	var total float64
	lastKm := baseline
	for _, e := range entries {
		if e.Kind == KindPeriodStart {
			lastKm = e.Km
			continue
		}
		if delta := e.Km - lastKm; delta > 0 {
			total += delta
		}
		lastKm = e.Km
	}
	return total
}
