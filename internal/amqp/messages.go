package amqp

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ChangeKind names the kind of record whose mutation triggered a message.
type ChangeKind string

const (
	ChangeReading     ChangeKind = "reading"
	ChangeCarChange   ChangeKind = "car_change"
	ChangeWorkMileage ChangeKind = "work_mileage"
)

// MileageChangedMessage announces that the overviews of FiscalYears are stale.
// The worker recomputes them from the database, so the payload carries no figures.
type MileageChangedMessage struct {
	ID          uuid.UUID  `json:"id"`
	Kind        ChangeKind `json:"kind"`
	FiscalYears []int      `json:"fiscal_years"`
	Timestamp   time.Time  `json:"timestamp"`
}

// NewMileageChangedMessage deduplicates and sorts the affected fiscal years.
func NewMileageChangedMessage(kind ChangeKind, fiscalYears ...int) *MileageChangedMessage {
	years := slices.Clone(fiscalYears)
	slices.Sort(years)
	return &MileageChangedMessage{
		ID:          uuid.New(),
		Kind:        kind,
		FiscalYears: slices.Compact(years),
		Timestamp:   time.Now(),
	}
}

func (m *MileageChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MileageChangedMessageFromJSON(data []byte) (*MileageChangedMessage, error) {
	var msg MileageChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case ChangeReading, ChangeCarChange, ChangeWorkMileage:
	default:
		return nil, fmt.Errorf("unknown change kind %q", msg.Kind)
	}
	return &msg, nil
}
