package google

import (
	"testing"
	"time"

	"ritten/internal/core"
)

func TestParseWorkRows(t *testing.T) {
	values := [][]any{
		{"Month", "Km"},
		{"2024-07", "1.263,1"},
		{"2024-08", "1,263.1"},
		{"2024-08", "100"},
		{"note", "whatever"},
		{},
		{"2024-09"},
	}

	table, skipped, err := parseWorkRows(values)
	if err != nil {
		t.Fatalf("parseWorkRows: %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	want := core.WorkMileageTable{"2024-07": 1263.1, "2024-08": 1363.1, "2024-09": 0}
	if len(table) != len(want) {
		t.Fatalf("table = %v, want %v", table, want)
	}
	for k, v := range want {
		if table[k] != v {
			t.Errorf("table[%s] = %v, want %v", k, table[k], v)
		}
	}
}

func TestParseWorkRowsGroupedThousands(t *testing.T) {
	table, _, err := parseWorkRows([][]any{
		{"2024-09", "1,263"},
		{"2024-10", 1263.1},
	})
	if err != nil {
		t.Fatalf("parseWorkRows: %v", err)
	}
	if table["2024-09"] != 1263 {
		t.Errorf("2024-09 = %v, want 1263", table["2024-09"])
	}
	if table["2024-10"] != 1263.1 {
		t.Errorf("2024-10 = %v, want 1263.1", table["2024-10"])
	}
}

func TestParseWorkRowsRejectsBadDistance(t *testing.T) {
	cases := [][][]any{
		{{"2024-07", "abc"}},
		{{"2024-07", "-12"}},
	}
	for _, values := range cases {
		if _, _, err := parseWorkRows(values); err == nil {
			t.Errorf("expected error for %v", values)
		}
	}
}

func TestParseKm(t *testing.T) {
	cases := map[string]string{
		"":          "0",
		"42":        "42",
		" 1 263,5 ": "1263.5",
		"1,263.5":   "1263.5",
		"1.263,5":   "1263.5",
		"12,5":      "12.5",
		"1,263":     "1263",
		"1,263,100": "1263100",
		"1263,10":   "1263.1",
		"1.263":     "1.263",
	}
	for in, want := range cases {
		got, err := parseKm(in)
		if err != nil {
			t.Fatalf("parseKm(%q): %v", in, err)
		}
		if got.String() != want {
			t.Errorf("parseKm(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestIndexSummaryRows(t *testing.T) {
	rows, next := indexSummaryRows([][]any{
		{"Fiscal year"},
		{"2023/2024"},
		{""},
		{"2024/2025"},
	})
	if rows["2023/2024"] != 2 || rows["2024/2025"] != 4 {
		t.Fatalf("rows = %v", rows)
	}
	if next != 5 {
		t.Fatalf("next = %d, want 5", next)
	}

	rows, next = indexSummaryRows(nil)
	if len(rows) != 0 || next != 2 {
		t.Fatalf("empty sheet: rows=%v next=%d", rows, next)
	}
}

func TestSummaryValues(t *testing.T) {
	s := core.Summary{FiscalYear: "2024/2025", TotalKm: "27116.60", BusinessKm: "10986.81", PrivateKm: "16129.79"}
	updated := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

	got := summaryValues(s, updated)
	if len(got) != len(SummaryHeader) {
		t.Fatalf("got %d columns, want %d", len(got), len(SummaryHeader))
	}
	if got[0] != "2024/2025" || got[3] != "16129.79" || got[4] != "2025-07-01T08:00:00Z" {
		t.Fatalf("unexpected row %v", got)
	}
}
