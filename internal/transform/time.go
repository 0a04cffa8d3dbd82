package transform

import (
	"sort"
	"time"

	"sgpetl/internal/extract"
	"sgpetl/internal/recordset"
)

// TimeDimensionColumns is the declared output schema of the time dimension.
var TimeDimensionColumns = []string{"time_key", "date", "iso_weekday", "month", "year"}

// TimeDimension is the reconciled calendar: one row per distinct date
// referenced anywhere in the snapshot, keyed deterministically so every
// other builder can derive a date's key without a lookup round-trip.
type TimeDimension struct {
	Table   *recordset.RecordSet
	Report  *BuildReport
	present map[int64]struct{}
}

// KeyForDate computes the surrogate key of a calendar date as an 8-digit
// integer (year*10000 + month*100 + day). The formula is the contract:
// external systems can compute it without consulting the dimension.
func KeyForDate(t time.Time) int64 {
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
}

// isoWeekday maps to ISO numbering: 1=Monday .. 7=Sunday.
func isoWeekday(t time.Time) int64 {
	wd := int64(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// timeSource names one date-bearing column harvested into the dimension.
type timeSource struct {
	table  *recordset.RecordSet
	column string
}

// BuildTimeDimension harvests every non-null date from the designated
// source columns, deduplicates, sorts ascending and emits one row per
// distinct date. Zero usable dates yield a headed empty table; the resolver
// never fabricates a default calendar range.
func BuildTimeDimension(snap *extract.Snapshot) (*TimeDimension, error) {
	rep := newReport("dim_time")

	sources := []timeSource{
		{snap.Projects, "start_date"},
		{snap.Projects, "end_date"},
		{snap.Milestones, "start_date"},
		{snap.Milestones, "planned_finish_date"},
		{snap.Milestones, "real_finish_date"},
		{snap.Assignments, "assignment_date"},
		{snap.Tests, "test_date"},
		{snap.Expenses, "expense_date"},
	}

	dates := make(map[int64]time.Time)
	for _, src := range sources {
		if src.table == nil {
			continue
		}
		col, ok := src.table.Col(src.column)
		if !ok {
			continue
		}
		for _, row := range src.table.Rows {
			v := row[col]
			if recordset.IsNull(v) {
				continue
			}
			rep.RowsIn++
			d, err := recordset.AsDate(v)
			if err != nil {
				rep.dropMalformed("bad_date")
				rep.warnf("column %s: %v", src.column, err)
				continue
			}
			dates[KeyForDate(d)] = d
		}
	}

	keys := make([]int64, 0, len(dates))
	for k := range dates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := recordset.New(TimeDimensionColumns...)
	present := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		d := dates[k]
		out.MustAppend([]any{k, d, isoWeekday(d), int64(d.Month()), int64(d.Year())})
		present[k] = struct{}{}
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(TimeDimensionColumns); err != nil {
		return nil, err
	}
	return &TimeDimension{Table: out, Report: rep, present: present}, nil
}

// Resolve maps a raw date value to its time surrogate key. It returns
// (0, false) when the value is null, malformed, or — the case callers must
// count for audit — a valid date absent from the dimension, which indicates
// a coverage or ordering defect upstream.
func (td *TimeDimension) Resolve(v any) (int64, bool) {
	if recordset.IsNull(v) {
		return 0, false
	}
	d, err := recordset.AsDate(v)
	if err != nil {
		return 0, false
	}
	k := KeyForDate(d)
	if _, ok := td.present[k]; !ok {
		return 0, false
	}
	return k, true
}

// Contains reports whether a date is present in the dimension.
func (td *TimeDimension) Contains(d time.Time) bool {
	_, ok := td.present[KeyForDate(d)]
	return ok
}

// Years returns the distinct years present, ascending. The catalog stage
// uses this to populate the year sub-dimension.
func (td *TimeDimension) Years() []int64 {
	set := make(map[int64]struct{})
	yearCol := td.Table.MustCol("year")
	for _, row := range td.Table.Rows {
		set[row[yearCol].(int64)] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for y := range set {
		out = append(out, y)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
