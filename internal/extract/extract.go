// Package extract reads source entities from the operational project
// management schema. Every query applies the business inclusion rule at the
// source: a row qualifies only when its project's status, or its parent
// contract's status, is Terminated or Cancelled. Downstream builders trust
// this filter and never re-derive it.
package extract

import (
	"context"

	"sgpetl/internal/recordset"
)

// Canonical column orders for each extracted entity. The SQL extractor
// selects in exactly this order and tests build inputs against the same
// headers, so builders can rely on the shape.
var (
	ClientColumns     = []string{"client_id", "client_name"}
	EmployeeColumns   = []string{"employee_id", "full_name", "role", "seniority", "hourly_cost"}
	ContractColumns   = []string{"contract_id", "client_id", "total_value", "status"}
	ProjectColumns    = []string{"project_id", "contract_id", "client_id", "project_name", "version", "start_date", "end_date", "project_status", "contract_status", "total_value", "inclusion_reason"}
	MilestoneColumns  = []string{"milestone_id", "project_id", "description", "status", "start_date", "planned_finish_date", "real_finish_date"}
	TaskColumns       = []string{"task_id", "milestone_id", "project_id", "task_name", "status", "planned_days", "actual_days"}
	AssignmentColumns = []string{"assignment_id", "project_id", "employee_id", "planned_hours", "actual_hours", "assignment_date"}
	TestColumns       = []string{"test_id", "milestone_id", "project_id", "test_type", "test_date", "passed"}
	ErrorColumns      = []string{"error_id", "task_id", "milestone_id", "project_id", "error_type", "error_date"}
	RiskColumns       = []string{"risk_id", "project_id", "risk_type", "severity", "registered_date"}
	ExpenseColumns    = []string{"expense_id", "project_id", "expense_type", "category", "amount", "expense_date"}
	PenaltyColumns    = []string{"penalty_id", "contract_id", "client_id", "amount", "reason", "penalty_date"}
)

// Extractor is the extraction interface consumed by the pipeline: one
// operation per source entity, each returning rows already filtered by the
// inclusion rule.
type Extractor interface {
	Clients(ctx context.Context) (*recordset.RecordSet, error)
	Employees(ctx context.Context) (*recordset.RecordSet, error)
	Contracts(ctx context.Context) (*recordset.RecordSet, error)
	Projects(ctx context.Context) (*recordset.RecordSet, error)
	Milestones(ctx context.Context) (*recordset.RecordSet, error)
	Tasks(ctx context.Context) (*recordset.RecordSet, error)
	Assignments(ctx context.Context) (*recordset.RecordSet, error)
	Tests(ctx context.Context) (*recordset.RecordSet, error)
	Errors(ctx context.Context) (*recordset.RecordSet, error)
	Risks(ctx context.Context) (*recordset.RecordSet, error)
	Expenses(ctx context.Context) (*recordset.RecordSet, error)
	Penalties(ctx context.Context) (*recordset.RecordSet, error)
}

// Snapshot bundles one full extraction. All tables are present even when
// empty (correct headers, zero rows).
type Snapshot struct {
	Clients     *recordset.RecordSet
	Employees   *recordset.RecordSet
	Contracts   *recordset.RecordSet
	Projects    *recordset.RecordSet
	Milestones  *recordset.RecordSet
	Tasks       *recordset.RecordSet
	Assignments *recordset.RecordSet
	Tests       *recordset.RecordSet
	Errors      *recordset.RecordSet
	Risks       *recordset.RecordSet
	Expenses    *recordset.RecordSet
	Penalties   *recordset.RecordSet
}

// EmptySnapshot returns a Snapshot with every table empty but headed.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Clients:     recordset.New(ClientColumns...),
		Employees:   recordset.New(EmployeeColumns...),
		Contracts:   recordset.New(ContractColumns...),
		Projects:    recordset.New(ProjectColumns...),
		Milestones:  recordset.New(MilestoneColumns...),
		Tasks:       recordset.New(TaskColumns...),
		Assignments: recordset.New(AssignmentColumns...),
		Tests:       recordset.New(TestColumns...),
		Errors:      recordset.New(ErrorColumns...),
		Risks:       recordset.New(RiskColumns...),
		Expenses:    recordset.New(ExpenseColumns...),
		Penalties:   recordset.New(PenaltyColumns...),
	}
}

// TakeSnapshot runs every extraction operation in dependency order and
// bundles the results. Any single extraction error aborts the snapshot.
func TakeSnapshot(ctx context.Context, ex Extractor) (*Snapshot, error) {
	snap := &Snapshot{}
	steps := []struct {
		name string
		fn   func(context.Context) (*recordset.RecordSet, error)
		dst  **recordset.RecordSet
	}{
		{"clients", ex.Clients, &snap.Clients},
		{"employees", ex.Employees, &snap.Employees},
		{"contracts", ex.Contracts, &snap.Contracts},
		{"projects", ex.Projects, &snap.Projects},
		{"milestones", ex.Milestones, &snap.Milestones},
		{"tasks", ex.Tasks, &snap.Tasks},
		{"assignments", ex.Assignments, &snap.Assignments},
		{"tests", ex.Tests, &snap.Tests},
		{"errors", ex.Errors, &snap.Errors},
		{"risks", ex.Risks, &snap.Risks},
		{"expenses", ex.Expenses, &snap.Expenses},
		{"penalties", ex.Penalties, &snap.Penalties},
	}
	for _, s := range steps {
		rs, err := s.fn(ctx)
		if err != nil {
			return nil, &SnapshotError{Entity: s.name, Err: err}
		}
		*s.dst = rs
	}
	return snap, nil
}

// SnapshotError names the entity whose extraction failed.
type SnapshotError struct {
	Entity string
	Err    error
}

func (e *SnapshotError) Error() string { return "extract " + e.Entity + ": " + e.Err.Error() }
func (e *SnapshotError) Unwrap() error { return e.Err }
