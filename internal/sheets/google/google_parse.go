package google

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ritten/internal/core"
)

// SummaryHeader is the first row of the summary sheet.
var SummaryHeader = []any{"Fiscal year", "Total km", "Business km", "Private km", "Updated"}

// parseWorkRows converts a values matrix (as returned by Sheets API) into a
// work mileage table. Rows whose first cell is not a YYYY-MM key, such as
// headers and notes, are skipped and counted. Duplicate months are summed.
func parseWorkRows(values [][]any) (core.WorkMileageTable, int, error) {
	sums := map[string]decimal.Decimal{}
	skipped := 0
	for i, row := range values {
		cols := toStrings(row)
		key := safeGet(cols, 0)
		if _, _, err := core.ParseMonthKey(key); err != nil {
			if key != "" {
				skipped++
			}
			continue
		}
		km, err := parseKm(safeGet(cols, 1))
		if err != nil {
			return nil, 0, fmt.Errorf("row %d (%s): %w", i+1, key, err)
		}
		sums[key] = sums[key].Add(km)
	}

	table := make(core.WorkMileageTable, len(sums))
	for key, km := range sums {
		table[key] = km.InexactFloat64()
	}
	return table, skipped, nil
}

// parseKm accepts "1263.1", "1,263.1", "1,263", "1263,1" and "1.263,1".
// A lone comma followed by exactly three digits groups thousands, as in the
// chart labels. An empty cell is zero.
func parseKm(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return decimal.Zero, nil
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma > lastDot && !thousandsComma(s, lastComma, lastDot):
		// Comma is the decimal separator
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	km, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid distance %q", s)
	}
	if km.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative distance %q", s)
	}
	return km, nil
}

func thousandsComma(s string, lastComma, lastDot int) bool {
	if lastDot >= 0 {
		return false
	}
	return strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3
}

// indexSummaryRows maps fiscal year labels in column A to their 1-based row
// and returns the first row after the data. Row 1 is reserved for the header.
func indexSummaryRows(values [][]any) (map[string]int, int) {
	rows := map[string]int{}
	for i, row := range values {
		if i == 0 {
			continue
		}
		if label := safeGet(toStrings(row), 0); label != "" {
			rows[label] = i + 1
		}
	}
	next := len(values) + 1
	if next < 2 {
		next = 2
	}
	return rows, next
}

func summaryValues(s core.Summary, updated time.Time) []any {
	return []any{s.FiscalYear, s.TotalKm, s.BusinessKm, s.PrivateKm, updated.Format(time.RFC3339)}
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
