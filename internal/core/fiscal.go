package core

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// FiscalYearStartMonth is the first month of every tracking year.
const FiscalYearStartMonth = time.July

// FiscalYear N covers [July 1 N, July 1 N+1) in the configured location.
type FiscalYear int

var monthKeyPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// Window returns the half-open interval covered by the fiscal year.
func (fy FiscalYear) Window(loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start = time.Date(int(fy), FiscalYearStartMonth, 1, 0, 0, 0, 0, loc)
	end = time.Date(int(fy)+1, FiscalYearStartMonth, 1, 0, 0, 0, 0, loc)
	return start, end
}

// Contains reports whether t falls in [start, end).
func (fy FiscalYear) Contains(t time.Time, loc *time.Location) bool {
	start, end := fy.Window(loc)
	return !t.Before(start) && t.Before(end)
}

func (fy FiscalYear) String() string {
	return fmt.Sprintf("%d/%d", int(fy), int(fy)+1)
}

// FiscalYearOf returns the tracking year t belongs to.
func FiscalYearOf(t time.Time, loc *time.Location) FiscalYear {
	if loc != nil {
		t = t.In(loc)
	}
	if t.Month() >= FiscalYearStartMonth {
		return FiscalYear(t.Year())
	}
	return FiscalYear(t.Year() - 1)
}

// MonthKey formats a year and 1-indexed month as a work mileage key.
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// ParseMonthKey splits a "YYYY-MM" key. Anything else is a *KeyError.
func ParseMonthKey(key string) (int, time.Month, error) {
	m := monthKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, 0, &KeyError{Key: key, Reason: "expected YYYY-MM"}
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return 0, 0, &KeyError{Key: key, Reason: "month out of range"}
	}
	return year, time.Month(month), nil
}

func (t WorkMileageTable) sortedKeys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
