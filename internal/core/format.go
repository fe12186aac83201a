// Package core provides kilometre formatting for presentation layers.
//
// This file turns Result values into the fixed two-decimal strings shown to
// users and renders the empty-window sentinel as a readable state.
package core

import (
	"github.com/shopspring/decimal"
)

// InsufficientDataLabel replaces distances that cannot be computed.
const InsufficientDataLabel = "insufficient data"

// Summary is a Result formatted for display.
type Summary struct {
	FiscalYear  string `json:"fiscal_year"`
	TotalKm     string `json:"total_km"`
	BusinessKm  string `json:"business_km"`
	PrivateKm   string `json:"private_km"`
	HasReadings bool   `json:"has_readings"`
}

// FormatKm rounds half away from zero to two decimals, e.g. 16129.785 -> "16129.79".
func FormatKm(km float64) string {
	return decimal.NewFromFloat(km).StringFixed(2)
}

// RoundKm rounds to two decimals.
func RoundKm(km float64) float64 {
	return decimal.NewFromFloat(km).Round(2).InexactFloat64()
}

// Summarize formats r. Work mileage is always shown; driven and private
// distances collapse to InsufficientDataLabel for an empty window.
func (r Result) Summarize() Summary {
	s := Summary{
		FiscalYear:  r.FiscalYear.String(),
		BusinessKm:  FormatKm(r.TotalWorkKm),
		HasReadings: !r.InsufficientData,
	}
	if r.InsufficientData {
		s.TotalKm = InsufficientDataLabel
		s.PrivateKm = InsufficientDataLabel
		return s
	}
	s.TotalKm = FormatKm(r.TotalDriven)
	s.PrivateKm = FormatKm(r.PrivateKm)
	return s
}
