package pipeline

import (
	"sgpetl/internal/recordset"
	"sgpetl/internal/warehouse"
)

// Declared warehouse schema. Column order must match the builders' output
// schemas exactly; the sink validates on every load.
var (
	dimClient = warehouse.TableSpec{
		Name:       "dim_client",
		PrimaryKey: "client_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "client_key", Type: "bigint"},
			{Name: "client_code", Type: "text"},
			{Name: "client_name", Type: "text", Nullable: true},
		},
	}

	dimEmployee = warehouse.TableSpec{
		Name:       "dim_employee",
		PrimaryKey: "employee_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "employee_key", Type: "bigint"},
			{Name: "employee_code", Type: "text"},
			{Name: "full_name", Type: "text", Nullable: true},
			{Name: "role", Type: "text", Nullable: true},
			{Name: "seniority", Type: "text"},
			{Name: "hourly_cost", Type: "double", Nullable: true},
		},
	}

	dimProject = warehouse.TableSpec{
		Name:       "dim_project",
		PrimaryKey: "project_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "project_key", Type: "bigint"},
			{Name: "project_code", Type: "text"},
			{Name: "project_name", Type: "text", Nullable: true},
			{Name: "version", Type: "text"},
			{Name: "cancelled", Type: "bigint"},
			{Name: "client_key", Type: "bigint"},
		},
	}

	dimTime = warehouse.TableSpec{
		Name:       "dim_time",
		PrimaryKey: "time_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "time_key", Type: "bigint"},
			{Name: "date", Type: "date"},
			{Name: "iso_weekday", Type: "bigint"},
			{Name: "month", Type: "bigint"},
			{Name: "year", Type: "bigint"},
		},
	}

	dimMilestone = warehouse.TableSpec{
		Name:       "dim_milestone",
		PrimaryKey: "milestone_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "milestone_key", Type: "bigint"},
			{Name: "milestone_code", Type: "text"},
			{Name: "project_key", Type: "bigint"},
			{Name: "start_date_key", Type: "bigint"},
			{Name: "finish_date_key", Type: "bigint"},
			{Name: "delay_days", Type: "bigint", Nullable: true},
		},
	}

	dimTask = warehouse.TableSpec{
		Name:       "dim_task",
		PrimaryKey: "task_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "task_key", Type: "bigint"},
			{Name: "task_code", Type: "text"},
			{Name: "milestone_key", Type: "bigint"},
			{Name: "planned_days", Type: "double"},
			{Name: "delay_days", Type: "double"},
		},
	}

	dimTest = warehouse.TableSpec{
		Name:       "dim_test",
		PrimaryKey: "test_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "test_key", Type: "bigint"},
			{Name: "test_code", Type: "text"},
			{Name: "milestone_key", Type: "bigint"},
			{Name: "test_type", Type: "text", Nullable: true},
			{Name: "passed", Type: "bigint"},
		},
	}

	dimFinance = warehouse.TableSpec{
		Name:       "dim_finance",
		PrimaryKey: "finance_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "finance_key", Type: "bigint"},
			{Name: "source_code", Type: "text"},
			{Name: "entry_kind", Type: "text"},
			{Name: "category", Type: "text"},
			{Name: "amount", Type: "double"},
			{Name: "project_key", Type: "bigint", Nullable: true},
			{Name: "date_key", Type: "bigint"},
		},
	}

	dimRiskType = warehouse.TableSpec{
		Name:       "dim_risk_type",
		PrimaryKey: "risk_type_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "risk_type_key", Type: "bigint"},
			{Name: "type_name", Type: "text"},
		},
	}

	dimSeverity = warehouse.TableSpec{
		Name:       "dim_severity",
		PrimaryKey: "severity_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "severity_key", Type: "bigint"},
			{Name: "level_name", Type: "text"},
		},
	}

	dimRisk = warehouse.TableSpec{
		Name:       "dim_risk",
		PrimaryKey: "risk_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "risk_key", Type: "bigint"},
			{Name: "risk_code", Type: "text"},
			{Name: "project_key", Type: "bigint"},
			{Name: "risk_type_key", Type: "bigint"},
			{Name: "severity_key", Type: "bigint"},
		},
	}

	factProjects = warehouse.TableSpec{
		Name: "fact_projects",
		Columns: []warehouse.ColumnSpec{
			{Name: "project_key", Type: "bigint"},
			{Name: "start_date_key", Type: "bigint"},
			{Name: "end_date_key", Type: "bigint"},
			{Name: "duration_real_days", Type: "bigint", Nullable: true},
			{Name: "budgeted_cost", Type: "double"},
			{Name: "actual_cost", Type: "double"},
			{Name: "budget_deviation", Type: "double"},
			{Name: "penalty_amount", Type: "double"},
			{Name: "capex_opex_ratio", Type: "double", Nullable: true},
			{Name: "defect_count", Type: "bigint"},
			{Name: "average_productivity", Type: "double", Nullable: true},
			{Name: "percent_tasks_delayed", Type: "double"},
			{Name: "percent_milestones_delayed", Type: "double"},
			{Name: "delay_days", Type: "bigint"},
		},
	}

	factAssignments = warehouse.TableSpec{
		Name: "fact_assignments",
		Columns: []warehouse.ColumnSpec{
			{Name: "employee_key", Type: "bigint"},
			{Name: "project_key", Type: "bigint"},
			{Name: "assignment_date_key", Type: "bigint"},
			{Name: "planned_hours", Type: "double"},
			{Name: "actual_hours", Type: "double"},
			{Name: "monetary_value", Type: "double"},
		},
	}

	subdimMonth = warehouse.TableSpec{
		Name:       "subdim_month",
		PrimaryKey: "month_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "month_key", Type: "bigint"},
			{Name: "month_name", Type: "text"},
		},
	}

	subdimWeekday = warehouse.TableSpec{
		Name:       "subdim_weekday",
		PrimaryKey: "weekday_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "weekday_key", Type: "bigint"},
			{Name: "weekday_name", Type: "text"},
		},
	}

	subdimYear = warehouse.TableSpec{
		Name:       "subdim_year",
		PrimaryKey: "year_key",
		Columns: []warehouse.ColumnSpec{
			{Name: "year_key", Type: "bigint"},
			{Name: "year", Type: "bigint"},
		},
	}
)

// Stage groupings. The readiness probe and the truncation order follow
// these lists; facts come last so truncation in reverse keeps referential
// integrity for concurrent readers.
var (
	catalogTables   = []warehouse.TableSpec{subdimMonth, subdimWeekday, subdimYear}
	dimensionTables = []warehouse.TableSpec{
		dimClient, dimEmployee, dimProject, dimTime,
		dimMilestone, dimTask, dimTest, dimFinance,
		dimRiskType, dimSeverity, dimRisk,
	}
	factTables = []warehouse.TableSpec{factProjects, factAssignments}

	// Principal dimensions must be non-empty for the warehouse to be
	// usable; the tracking dimensions (tests, finance, risks) may be
	// legitimately empty for a small portfolio.
	principalDimensions = []warehouse.TableSpec{
		dimClient, dimEmployee, dimProject, dimTime, dimMilestone, dimTask,
	}
)

// AllTables returns every declared table, catalogs first.
func AllTables() []warehouse.TableSpec {
	out := make([]warehouse.TableSpec, 0, len(catalogTables)+len(dimensionTables)+len(factTables))
	out = append(out, catalogTables...)
	out = append(out, dimensionTables...)
	out = append(out, factTables...)
	return out
}

var monthNames = []string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// ISO order, Monday first, matching the time dimension's weekday numbers.
var weekdayNames = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

func monthCatalog() *recordset.RecordSet {
	out := recordset.New("month_key", "month_name")
	for i, name := range monthNames {
		out.MustAppend([]any{int64(i + 1), name})
	}
	return out
}

func weekdayCatalog() *recordset.RecordSet {
	out := recordset.New("weekday_key", "weekday_name")
	for i, name := range weekdayNames {
		out.MustAppend([]any{int64(i + 1), name})
	}
	return out
}

func yearCatalog(years []int64) *recordset.RecordSet {
	out := recordset.New("year_key", "year")
	for _, y := range years {
		out.MustAppend([]any{y, y})
	}
	return out
}
