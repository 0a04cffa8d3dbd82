package transform

import (
	"time"

	"sgpetl/internal/extract"
	"sgpetl/internal/recordset"
)

// ProjectFactColumns is the declared schema of the project fact table,
// grain one row per project in the project dimension.
var ProjectFactColumns = []string{
	"project_key", "start_date_key", "end_date_key", "duration_real_days",
	"budgeted_cost", "actual_cost", "budget_deviation", "penalty_amount",
	"capex_opex_ratio", "defect_count", "average_productivity",
	"percent_tasks_delayed", "percent_milestones_delayed", "delay_days",
}

// projectAggregate accumulates the per-project sums the fact measures are
// derived from.
type projectAggregate struct {
	actualCost     float64
	capex          float64
	opex           float64
	expensePenalty float64
	defects        int64
	employees      map[string]struct{}
	tasksTotal     int
	tasksDelayed   int
	msTotal        int
	msDelayed      int
	latestPlanned  *time.Time
}

// BuildProjectFacts computes the project fact table. It iterates the
// project dimension, never the raw extraction, so every emitted row is
// guaranteed a resolvable project key. Monetary measures are derived from
// the ledgers: actual cost is the sum of expense amounts, never the
// operational system's own cost field, which the source leaves stale.
func BuildProjectFacts(snap *extract.Snapshot, projects *Dimension, td *TimeDimension) (*recordset.RecordSet, *BuildReport, error) {
	rep := newReport("fact_projects")

	raw := indexFirst(snap.Projects, "project_id")
	aggs := aggregateProjects(snap, rep)
	contractPenalty := sumByKey(snap.Penalties, "contract_id", "amount", rep)

	codeCol := projects.Table.MustCol("project_code")
	keyCol := projects.Table.MustCol("project_key")
	startCol := snap.Projects.MustCol("start_date")
	endCol := snap.Projects.MustCol("end_date")
	budgetCol := snap.Projects.MustCol("total_value")
	contractCol := snap.Projects.MustCol("contract_id")

	out := recordset.New(ProjectFactColumns...)
	for _, dimRow := range projects.Table.Rows {
		rep.RowsIn++
		code := dimRow[codeCol].(string)
		projectKey := dimRow[keyCol].(int64)

		src, ok := raw[code]
		if !ok {
			rep.warnf("project %s has no source row, emitting zeroed measures", code)
			out.MustAppend(zeroedProjectFact(projectKey))
			rep.RowsOut++
			continue
		}

		agg := aggs[code]
		if agg == nil {
			agg = &projectAggregate{}
		}

		startKey := resolveDateKey(rep, td, src[startCol])
		endKey := resolveDateKey(rep, td, src[endCol])

		start, serr := dateOrNil(src[startCol])
		end, eerr := dateOrNil(src[endCol])
		var duration any
		if serr == nil && eerr == nil && start != nil && end != nil {
			duration = int64(end.Sub(*start).Hours() / 24)
		}

		budgeted, err := recordset.Float64OrZero(src[budgetCol])
		if err != nil {
			rep.dropMalformed("bad_budget")
			rep.warnf("project %s: %v", code, err)
			continue
		}
		actual := agg.actualCost

		penalty := agg.expensePenalty
		if v, ok := contractPenalty[recordset.Key(src[contractCol])]; ok {
			penalty += v
		}

		var ratio any
		switch {
		case agg.opex > 0:
			ratio = agg.capex / agg.opex
		case agg.capex > 0:
			ratio = nil
			rep.drop("capex_opex_undefined")
			rep.warnf("project %s: capex %.2f with zero opex, ratio undefined", code, agg.capex)
		default:
			ratio = 0.0
		}

		var productivity any
		if d, ok := duration.(int64); ok && d > 0 && len(agg.employees) > 0 {
			productivity = float64(d) / float64(len(agg.employees))
		}

		var delayDays int64
		if d, ok := duration.(int64); ok && agg.latestPlanned != nil && start != nil {
			plannedDays := int64(agg.latestPlanned.Sub(*start).Hours() / 24)
			if over := d - plannedDays; over > 0 {
				delayDays = over
			}
		}

		out.MustAppend([]any{
			projectKey, startKey, endKey, duration,
			budgeted, actual, budgeted - actual, penalty,
			ratio, agg.defects, productivity,
			percent(agg.tasksDelayed, agg.tasksTotal),
			percent(agg.msDelayed, agg.msTotal),
			delayDays,
		})
		rep.RowsOut++
	}

	if err := out.AssertSchema(ProjectFactColumns); err != nil {
		return nil, nil, err
	}
	return out, rep, nil
}

func zeroedProjectFact(projectKey int64) []any {
	return []any{projectKey, int64(0), int64(0), nil, 0.0, 0.0, 0.0, 0.0, 0.0, int64(0), nil, 0.0, 0.0, int64(0)}
}

// aggregateProjects folds the ledger and tracking tables into per-project
// aggregates keyed by the project's natural key.
func aggregateProjects(snap *extract.Snapshot, rep *BuildReport) map[string]*projectAggregate {
	aggs := make(map[string]*projectAggregate)
	get := func(projectID any) *projectAggregate {
		k := recordset.Key(projectID)
		if k == "" {
			return nil
		}
		a := aggs[k]
		if a == nil {
			a = &projectAggregate{employees: make(map[string]struct{})}
			aggs[k] = a
		}
		return a
	}

	if exp := snap.Expenses; exp != nil {
		projCol := exp.MustCol("project_id")
		typeCol := exp.MustCol("expense_type")
		catCol := exp.MustCol("category")
		amountCol := exp.MustCol("amount")
		for _, row := range exp.Rows {
			a := get(row[projCol])
			if a == nil {
				continue
			}
			amount, err := recordset.AsFloat64(row[amountCol])
			if err != nil {
				rep.warnf("expense amount unreadable for project %s: %v", recordset.Key(row[projCol]), err)
				continue
			}
			a.actualCost += amount
			switch recordset.CleanString(row[typeCol]) {
			case "CAPEX":
				a.capex += amount
			case "OPEX":
				a.opex += amount
			}
			if recordset.CleanString(row[catCol]) == PenaltyCategory {
				a.expensePenalty += amount
			}
		}
	}

	if errs := snap.Errors; errs != nil {
		projCol := errs.MustCol("project_id")
		for _, row := range errs.Rows {
			if a := get(row[projCol]); a != nil {
				a.defects++
			}
		}
	}

	if asg := snap.Assignments; asg != nil {
		projCol := asg.MustCol("project_id")
		empCol := asg.MustCol("employee_id")
		for _, row := range asg.Rows {
			a := get(row[projCol])
			if a == nil {
				continue
			}
			if emp := recordset.Key(row[empCol]); emp != "" {
				a.employees[emp] = struct{}{}
			}
		}
	}

	if tasks := snap.Tasks; tasks != nil {
		projCol := tasks.MustCol("project_id")
		plannedCol := tasks.MustCol("planned_days")
		actualCol := tasks.MustCol("actual_days")
		for _, row := range tasks.Rows {
			a := get(row[projCol])
			if a == nil {
				continue
			}
			a.tasksTotal++
			planned, perr := recordset.Float64OrZero(row[plannedCol])
			actual, aerr := recordset.Float64OrZero(row[actualCol])
			if perr == nil && aerr == nil && actual > planned {
				a.tasksDelayed++
			}
		}
	}

	if ms := snap.Milestones; ms != nil {
		projCol := ms.MustCol("project_id")
		plannedCol := ms.MustCol("planned_finish_date")
		realCol := ms.MustCol("real_finish_date")
		for _, row := range ms.Rows {
			a := get(row[projCol])
			if a == nil {
				continue
			}
			a.msTotal++
			planned, perr := dateOrNil(row[plannedCol])
			real, rerr := dateOrNil(row[realCol])
			if perr == nil && planned != nil {
				if a.latestPlanned == nil || planned.After(*a.latestPlanned) {
					a.latestPlanned = planned
				}
			}
			if perr == nil && rerr == nil && planned != nil && real != nil && real.After(*planned) {
				a.msDelayed++
			}
		}
	}

	return aggs
}

// indexFirst indexes a record set by a key column, first occurrence wins.
func indexFirst(rs *recordset.RecordSet, column string) map[string][]any {
	out := make(map[string][]any)
	if rs == nil {
		return out
	}
	col := rs.MustCol(column)
	for _, row := range rs.Rows {
		k := recordset.Key(row[col])
		if k == "" {
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = row
		}
	}
	return out
}

// sumByKey sums a numeric column grouped by a key column.
func sumByKey(rs *recordset.RecordSet, keyColumn, sumColumn string, rep *BuildReport) map[string]float64 {
	out := make(map[string]float64)
	if rs == nil {
		return out
	}
	keyCol := rs.MustCol(keyColumn)
	sumCol := rs.MustCol(sumColumn)
	for _, row := range rs.Rows {
		k := recordset.Key(row[keyCol])
		if k == "" {
			continue
		}
		v, err := recordset.AsFloat64(row[sumCol])
		if err != nil {
			rep.warnf("%s unreadable for %s %s: %v", sumColumn, keyColumn, k, err)
			continue
		}
		out[k] += v
	}
	return out
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
