// Package chart turns the accessibility labels of a monthly mileage bar chart
// into work mileage tables.
//
// A point label reads like "2024-09, 1,263.1." with the month first and the
// distance second. Labels of one import pass that share a month are summed,
// so stacked series land in the same month.
package chart

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"ritten/internal/core"
)

// Series names used by the mileage dashboard chart.
const (
	SeriesBusiness = "Zakelijk"
	SeriesCommute  = "Woon-werk"
)

var (
	ErrNoMonth  = errors.New("label has no YYYY-MM month")
	ErrBadValue = errors.New("label has no distance")

	monthRe = regexp.MustCompile(`\b(\d{4}-\d{2})\b`)
	valueRe = regexp.MustCompile(`,\s*([\d,]*\d(?:\.\d+)?)(?:\.|$)`)
)

// Point is one parsed bar.
type Point struct {
	Month string
	Km    decimal.Decimal
}

// LabelError reports the label that failed.
type LabelError struct {
	Label string
	Err   error
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("chart label %q: %v", e.Label, e.Err)
}

func (e *LabelError) Unwrap() error { return e.Err }

// ParseLabel extracts the month and distance of a single label.
func ParseLabel(label string) (Point, error) {
	loc := monthRe.FindStringSubmatchIndex(label)
	if loc == nil {
		return Point{}, &LabelError{Label: label, Err: ErrNoMonth}
	}
	month := label[loc[2]:loc[3]]
	if _, _, err := core.ParseMonthKey(month); err != nil {
		return Point{}, &LabelError{Label: label, Err: err}
	}

	// the distance follows a comma anywhere after the month
	v := valueRe.FindStringSubmatch(label[loc[1]:])
	if v == nil {
		return Point{}, &LabelError{Label: label, Err: ErrBadValue}
	}
	km, err := decimal.NewFromString(strings.ReplaceAll(v[1], ",", ""))
	if err != nil {
		return Point{}, &LabelError{Label: label, Err: fmt.Errorf("%w: %v", ErrBadValue, err)}
	}
	return Point{Month: month, Km: km}, nil
}

// Import is the outcome of parsing one batch of labels.
type Import struct {
	Table   core.WorkMileageTable
	Points  int
	Skipped int
}

// ParseLabels sums the labels per month. Labels without a month are skipped
// and counted; a label with a month but no usable distance fails the batch.
func ParseLabels(labels []string) (Import, error) {
	sums, points, skipped, err := sumLabels(labels)
	if err != nil {
		return Import{}, err
	}

	out := Import{Table: make(core.WorkMileageTable, len(sums)), Points: points, Skipped: skipped}
	for month, km := range sums {
		out.Table[month] = km.InexactFloat64()
	}
	return out, nil
}

func sumLabels(labels []string) (map[string]decimal.Decimal, int, int, error) {
	sums := map[string]decimal.Decimal{}
	points, skipped := 0, 0
	for _, label := range labels {
		p, err := ParseLabel(label)
		if errors.Is(err, ErrNoMonth) {
			skipped++
			continue
		}
		if err != nil {
			return nil, 0, 0, err
		}
		sums[p.Month] = sums[p.Month].Add(p.Km)
		points++
	}
	return sums, points, skipped, nil
}

// Series is one named data series of the chart.
type Series struct {
	Name   string   `json:"name"`
	Labels []string `json:"labels"`
}

// Totals splits the chart total into business and commute distance.
type Totals struct {
	BusinessKm float64 `json:"business_km"`
	CommuteKm  float64 `json:"commute_km"`
	TotalKm    float64 `json:"total_km"`
}

// SeriesTotals sums the business and commute series, rounded to two decimals.
// Series with other names are ignored.
func SeriesTotals(series []Series) (Totals, error) {
	var business, commute decimal.Decimal
	for _, s := range series {
		var target *decimal.Decimal
		switch {
		case strings.Contains(s.Name, SeriesBusiness):
			target = &business
		case strings.Contains(s.Name, SeriesCommute):
			target = &commute
		default:
			continue
		}
		sums, _, _, err := sumLabels(s.Labels)
		if err != nil {
			return Totals{}, fmt.Errorf("series %q: %w", s.Name, err)
		}
		for _, km := range sums {
			*target = target.Add(km)
		}
	}
	return Totals{
		BusinessKm: business.Round(2).InexactFloat64(),
		CommuteKm:  commute.Round(2).InexactFloat64(),
		TotalKm:    business.Add(commute).Round(2).InexactFloat64(),
	}, nil
}
