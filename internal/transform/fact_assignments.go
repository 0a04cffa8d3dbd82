package transform

import (
	"sgpetl/internal/extract"
	"sgpetl/internal/recordset"
)

// AssignmentFactColumns is the declared schema of the assignment fact
// table, grain employee-project-date.
var AssignmentFactColumns = []string{
	"employee_key", "project_key", "assignment_date_key",
	"planned_hours", "actual_hours", "monetary_value",
}

// BuildAssignmentFacts computes the assignment fact table. Monetary value
// is actual hours times the employee's hourly rate; a missing rate yields
// 0 with a warning rather than dropping effort hours from the table. An
// assignment whose employee or project is absent from its dimension is a
// referential violation and is dropped.
func BuildAssignmentFacts(snap *extract.Snapshot, employees, projects *Dimension, td *TimeDimension) (*recordset.RecordSet, *BuildReport, error) {
	rep := newReport("fact_assignments")

	rates := employeeRates(snap.Employees, rep)

	asg := snap.Assignments
	projCol := asg.MustCol("project_id")
	empCol := asg.MustCol("employee_id")
	plannedCol := asg.MustCol("planned_hours")
	actualCol := asg.MustCol("actual_hours")
	dateCol := asg.MustCol("assignment_date")

	out := recordset.New(AssignmentFactColumns...)
	for _, row := range asg.Rows {
		rep.RowsIn++

		employeeKey, ok := employees.Keys.Lookup(row[empCol])
		if !ok {
			rep.dropRef("missing_employee")
			rep.warnf("assignment references unknown employee %s", recordset.Key(row[empCol]))
			continue
		}
		projectKey, ok := projects.Keys.Lookup(row[projCol])
		if !ok {
			rep.dropRef("missing_project")
			rep.warnf("assignment references unknown project %s", recordset.Key(row[projCol]))
			continue
		}

		planned, err := recordset.Float64OrZero(row[plannedCol])
		if err != nil {
			rep.dropMalformed("bad_planned_hours")
			continue
		}
		actual, err := recordset.Float64OrZero(row[actualCol])
		if err != nil {
			rep.dropMalformed("bad_actual_hours")
			continue
		}

		dateKey := resolveDateKey(rep, td, row[dateCol])

		monetary := 0.0
		if rate, ok := rates[recordset.Key(row[empCol])]; ok {
			monetary = actual * rate
		} else if actual > 0 {
			rep.warnf("no hourly rate for employee %s, monetary value 0", recordset.Key(row[empCol]))
		}

		out.MustAppend([]any{employeeKey, projectKey, dateKey, planned, actual, monetary})
		rep.RowsOut++
	}

	if err := out.AssertSchema(AssignmentFactColumns); err != nil {
		return nil, nil, err
	}
	return out, rep, nil
}

// employeeRates indexes hourly cost by employee natural key. Employees
// without a usable rate are simply absent from the map.
func employeeRates(employees *recordset.RecordSet, rep *BuildReport) map[string]float64 {
	out := make(map[string]float64)
	if employees == nil {
		return out
	}
	idCol := employees.MustCol("employee_id")
	costCol := employees.MustCol("hourly_cost")
	for _, row := range employees.Rows {
		k := recordset.Key(row[idCol])
		if k == "" || recordset.IsNull(row[costCol]) {
			continue
		}
		rate, err := recordset.AsFloat64(row[costCol])
		if err != nil {
			rep.warnf("employee %s: hourly cost unreadable: %v", k, err)
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = rate
		}
	}
	return out
}
