package core

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	KindReading     EntryKind = "reading"
	KindPeriodStart EntryKind = "period_start"
	KindPeriodEnd   EntryKind = "period_end"
)

type (
	EntryKind string

	// OdometerReading is a timestamped total-distance snapshot of the current vehicle.
	OdometerReading struct {
		Timestamp time.Time
		TotalKm   float64
	}

	// CarChangeEvent marks the replacement of one vehicle by another.
	CarChangeEvent struct {
		Date          time.Time
		OldCarFinalKm float64
		NewCarStartKm float64
	}

	// WorkMileageTable maps a "YYYY-MM" month key to the work distance of that month.
	WorkMileageTable map[string]float64

	// TimelineEntry is derived per calculation and never persisted.
	TimelineEntry struct {
		Timestamp time.Time
		Km        float64
		Kind      EntryKind
	}

	// StoredReading is a reading together with the identity the store assigned to it.
	StoredReading struct {
		ID int64
		OdometerReading
	}

	// StoredCarChange is a car change together with its store identity.
	StoredCarChange struct {
		ID int64
		CarChangeEvent
	}
)

var (
	ErrMalformedKey       = errors.New("malformed work mileage key")
	ErrInvalidReading     = errors.New("invalid odometer value")
	ErrInvalidWorkMileage = errors.New("invalid work mileage value")
	ErrZeroTimestamp      = errors.New("timestamp cannot be zero")
	ErrNotFound           = errors.New("not found")
)

// KeyError reports a work mileage key that cannot be parsed into year and month.
type KeyError struct {
	Key    string
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("work mileage key %q: %s", e.Key, e.Reason)
}

func (e *KeyError) Unwrap() error { return ErrMalformedKey }

// ValueError reports a non-finite or negative distance on a named field.
type ValueError struct {
	Field string
	Value float64
	Err   error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %v (%v)", e.Field, e.Err, e.Value)
}

func (e *ValueError) Unwrap() error { return e.Err }

func validDistance(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func (r OdometerReading) Validate() error {
	if r.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if !validDistance(r.TotalKm) {
		return &ValueError{Field: "total_km", Value: r.TotalKm, Err: ErrInvalidReading}
	}
	return nil
}

func (c CarChangeEvent) Validate() error {
	if c.Date.IsZero() {
		return ErrZeroTimestamp
	}
	if !validDistance(c.OldCarFinalKm) {
		return &ValueError{Field: "old_car_final_km", Value: c.OldCarFinalKm, Err: ErrInvalidReading}
	}
	if !validDistance(c.NewCarStartKm) {
		return &ValueError{Field: "new_car_start_km", Value: c.NewCarStartKm, Err: ErrInvalidReading}
	}
	return nil
}

// Validate checks every key and value of the table.
func (t WorkMileageTable) Validate() error {
	for _, key := range t.sortedKeys() {
		if _, _, err := ParseMonthKey(key); err != nil {
			return err
		}
		if v := t[key]; !validDistance(v) {
			return &ValueError{Field: key, Value: v, Err: ErrInvalidWorkMileage}
		}
	}
	return nil
}

// Merge returns a new table where every entry of update overwrites the same month in t.
func (t WorkMileageTable) Merge(update WorkMileageTable) WorkMileageTable {
	out := make(WorkMileageTable, len(t)+len(update))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Clone returns a copy of the table.
func (t WorkMileageTable) Clone() WorkMileageTable {
	return WorkMileageTable{}.Merge(t)
}
