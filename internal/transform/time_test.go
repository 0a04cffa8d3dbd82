package transform

import (
	"testing"
	"time"

	"sgpetl/internal/extract"
)

func TestKeyForDate(t *testing.T) {
	d := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := KeyForDate(d); got != 20230102 {
		t.Fatalf("KeyForDate = %d, want 20230102", got)
	}
}

func TestBuildTimeDimensionWeekdaysAndKeys(t *testing.T) {
	snap := extract.EmptySnapshot()
	snap.Projects.MustAppend(projectRow("P1", "C1", "CL1", "2023-01-01", "2023-01-02"))

	td, err := BuildTimeDimension(snap)
	if err != nil {
		t.Fatalf("BuildTimeDimension: %v", err)
	}
	if td.Table.Len() != 2 {
		t.Fatalf("rows = %d, want 2", td.Table.Len())
	}

	// 2023-01-01 is a Sunday (ISO 7), 2023-01-02 a Monday (ISO 1).
	wantRows := []struct {
		key     int64
		weekday int64
		month   int64
		year    int64
	}{
		{20230101, 7, 1, 2023},
		{20230102, 1, 1, 2023},
	}
	for i, want := range wantRows {
		if got := td.Table.Value(i, "time_key"); got != want.key {
			t.Errorf("row %d time_key = %v, want %d", i, got, want.key)
		}
		if got := td.Table.Value(i, "iso_weekday"); got != want.weekday {
			t.Errorf("row %d iso_weekday = %v, want %d", i, got, want.weekday)
		}
		if got := td.Table.Value(i, "month"); got != want.month {
			t.Errorf("row %d month = %v, want %d", i, got, want.month)
		}
		if got := td.Table.Value(i, "year"); got != want.year {
			t.Errorf("row %d year = %v, want %d", i, got, want.year)
		}
	}
}

func TestBuildTimeDimensionDeduplicatesAcrossSources(t *testing.T) {
	snap := extract.EmptySnapshot()
	snap.Projects.MustAppend(projectRow("P1", "C1", "CL1", "2023-03-10", "2023-03-10"))
	snap.Assignments.MustAppend([]any{"A1", "P1", "E1", 8.0, 8.0, "2023-03-10"})

	td, err := BuildTimeDimension(snap)
	if err != nil {
		t.Fatalf("BuildTimeDimension: %v", err)
	}
	if td.Table.Len() != 1 {
		t.Fatalf("rows = %d, want 1 after dedupe", td.Table.Len())
	}
}

func TestBuildTimeDimensionEmptyInputKeepsHeaders(t *testing.T) {
	td, err := BuildTimeDimension(extract.EmptySnapshot())
	if err != nil {
		t.Fatalf("BuildTimeDimension: %v", err)
	}
	if td.Table.Len() != 0 {
		t.Fatalf("rows = %d, want 0; the dimension must not fabricate a range", td.Table.Len())
	}
	if err := td.Table.AssertSchema(TimeDimensionColumns); err != nil {
		t.Fatalf("empty table lost headers: %v", err)
	}
}

func TestResolveSentinel(t *testing.T) {
	snap := extract.EmptySnapshot()
	snap.Projects.MustAppend(projectRow("P1", "C1", "CL1", "2023-01-01", nil))

	td, err := BuildTimeDimension(snap)
	if err != nil {
		t.Fatalf("BuildTimeDimension: %v", err)
	}

	if k, ok := td.Resolve("2023-01-01"); !ok || k != 20230101 {
		t.Fatalf("Resolve(present) = %d, %t", k, ok)
	}
	if k, ok := td.Resolve(nil); ok || k != 0 {
		t.Fatalf("Resolve(nil) = %d, %t, want sentinel", k, ok)
	}
	if k, ok := td.Resolve("2024-12-31"); ok || k != 0 {
		t.Fatalf("Resolve(absent) = %d, %t, want sentinel", k, ok)
	}
	if k, ok := td.Resolve("garbage"); ok || k != 0 {
		t.Fatalf("Resolve(malformed) = %d, %t, want sentinel", k, ok)
	}
}

// projectRow builds a raw project row in extract.ProjectColumns order.
func projectRow(id, contract, client string, start, end any) []any {
	return []any{id, contract, client, "Project " + id, "1.0", start, end, "Terminated", "Active", 5000.0, "project_status"}
}
