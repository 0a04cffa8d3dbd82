package transform

import (
	"time"

	"sgpetl/internal/recordset"
)

var (
	MilestoneDimensionColumns = []string{"milestone_key", "milestone_code", "project_key", "start_date_key", "finish_date_key", "delay_days"}
	TaskDimensionColumns      = []string{"task_key", "task_code", "milestone_key", "planned_days", "delay_days"}
	TestDimensionColumns      = []string{"test_key", "test_code", "milestone_key", "test_type", "passed"}
)

// BuildMilestoneDimension builds the milestone dimension. Delay is the
// difference in days between the real and the planned finish, null when
// either date is missing. Date keys resolve through the time dimension;
// an unresolvable date takes the 0 sentinel and is counted.
func BuildMilestoneDimension(milestones *recordset.RecordSet, projects *Dimension, td *TimeDimension, prior map[string]int64) (*Dimension, error) {
	rep := newReport("dim_milestone")
	keys := NewKeyMapFrom(prior)

	idCol := milestones.MustCol("milestone_id")
	projCol := milestones.MustCol("project_id")
	startCol := milestones.MustCol("start_date")
	plannedCol := milestones.MustCol("planned_finish_date")
	realCol := milestones.MustCol("real_finish_date")

	first := make(map[string][]any)
	var naturals []any
	for _, row := range milestones.Rows {
		rep.RowsIn++
		nk := recordset.Key(row[idCol])
		if nk == "" {
			rep.dropMalformed("null_natural_key")
			continue
		}
		if _, ok := first[nk]; ok {
			rep.drop("duplicate_natural_key")
			continue
		}
		if _, ok := projects.Keys.Lookup(row[projCol]); !ok {
			rep.dropRef("missing_project")
			rep.warnf("milestone %s references unknown project %s", nk, recordset.Key(row[projCol]))
			continue
		}
		first[nk] = row
		naturals = append(naturals, row[idCol])
	}
	keys.Assign(naturals)

	out := recordset.New(MilestoneDimensionColumns...)
	for _, nk := range sortedBySurrogate(first, keys) {
		row := first[nk]
		sk, _ := keys.Lookup(nk)
		projectKey, _ := projects.Keys.Lookup(row[projCol])

		startKey := resolveDateKey(rep, td, row[startCol])
		finishKey := resolveDateKey(rep, td, row[realCol])

		var delay any
		planned, perr := dateOrNil(row[plannedCol])
		real, rerr := dateOrNil(row[realCol])
		if perr != nil || rerr != nil {
			rep.warnf("milestone %s: unparseable finish date", nk)
		} else if planned != nil && real != nil {
			delay = int64(real.Sub(*planned).Hours() / 24)
		}

		out.MustAppend([]any{sk, nk, projectKey, startKey, finishKey, delay})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(MilestoneDimensionColumns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}

// BuildTaskDimension builds the task dimension. Delay follows the source
// derivation: null planned or actual days count as 0 before differencing.
func BuildTaskDimension(tasks *recordset.RecordSet, milestones *Dimension, prior map[string]int64) (*Dimension, error) {
	rep := newReport("dim_task")
	keys := NewKeyMapFrom(prior)

	idCol := tasks.MustCol("task_id")
	msCol := tasks.MustCol("milestone_id")
	plannedCol := tasks.MustCol("planned_days")
	actualCol := tasks.MustCol("actual_days")

	first := make(map[string][]any)
	var naturals []any
	for _, row := range tasks.Rows {
		rep.RowsIn++
		nk := recordset.Key(row[idCol])
		if nk == "" {
			rep.dropMalformed("null_natural_key")
			continue
		}
		if _, ok := first[nk]; ok {
			rep.drop("duplicate_natural_key")
			continue
		}
		if _, ok := milestones.Keys.Lookup(row[msCol]); !ok {
			rep.dropRef("missing_milestone")
			rep.warnf("task %s references unknown milestone %s", nk, recordset.Key(row[msCol]))
			continue
		}
		if _, err := recordset.Float64OrZero(row[plannedCol]); err != nil {
			rep.dropMalformed("bad_planned_days")
			continue
		}
		if _, err := recordset.Float64OrZero(row[actualCol]); err != nil {
			rep.dropMalformed("bad_actual_days")
			continue
		}
		first[nk] = row
		naturals = append(naturals, row[idCol])
	}
	keys.Assign(naturals)

	out := recordset.New(TaskDimensionColumns...)
	for _, nk := range sortedBySurrogate(first, keys) {
		row := first[nk]
		sk, _ := keys.Lookup(nk)
		msKey, _ := milestones.Keys.Lookup(row[msCol])
		planned, _ := recordset.Float64OrZero(row[plannedCol])
		actual, _ := recordset.Float64OrZero(row[actualCol])
		out.MustAppend([]any{sk, nk, msKey, planned, actual - planned})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(TaskDimensionColumns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}

// BuildTestDimension builds the test dimension. The passed flag is
// normalized to a 0/1 integer regardless of the source driver's bool
// representation.
func BuildTestDimension(tests *recordset.RecordSet, milestones *Dimension, prior map[string]int64) (*Dimension, error) {
	rep := newReport("dim_test")
	keys := NewKeyMapFrom(prior)

	idCol := tests.MustCol("test_id")
	msCol := tests.MustCol("milestone_id")
	typeCol := tests.MustCol("test_type")
	passedCol := tests.MustCol("passed")

	first := make(map[string][]any)
	var naturals []any
	for _, row := range tests.Rows {
		rep.RowsIn++
		nk := recordset.Key(row[idCol])
		if nk == "" {
			rep.dropMalformed("null_natural_key")
			continue
		}
		if _, ok := first[nk]; ok {
			rep.drop("duplicate_natural_key")
			continue
		}
		if _, ok := milestones.Keys.Lookup(row[msCol]); !ok {
			rep.dropRef("missing_milestone")
			rep.warnf("test %s references unknown milestone %s", nk, recordset.Key(row[msCol]))
			continue
		}
		first[nk] = row
		naturals = append(naturals, row[idCol])
	}
	keys.Assign(naturals)

	out := recordset.New(TestDimensionColumns...)
	for _, nk := range sortedBySurrogate(first, keys) {
		row := first[nk]
		sk, _ := keys.Lookup(nk)
		msKey, _ := milestones.Keys.Lookup(row[msCol])
		out.MustAppend([]any{sk, nk, msKey, nullableString(row[typeCol]), boolFlag(row[passedCol])})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(TestDimensionColumns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}

// resolveDateKey resolves a raw date to its time key, counting the audit
// cases that fall back to the 0 sentinel: a valid date missing from the
// dimension, or a malformed date value. Nulls take the sentinel silently.
func resolveDateKey(rep *BuildReport, td *TimeDimension, v any) int64 {
	if recordset.IsNull(v) {
		return 0
	}
	k, ok := td.Resolve(v)
	if !ok {
		rep.UnresolvedDates++
		return 0
	}
	return k
}

func dateOrNil(v any) (*time.Time, error) {
	if recordset.IsNull(v) {
		return nil, nil
	}
	d, err := recordset.AsDate(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func boolFlag(v any) int64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		n, err := recordset.AsInt64(v)
		if err == nil && n != 0 {
			return 1
		}
		return 0
	}
}
