package transform

import (
	"testing"

	"sgpetl/internal/extract"
	"sgpetl/internal/recordset"
)

// scenarioSnapshot builds the reference portfolio: one terminated project,
// 151 days long, budget 5000, 1500 of expenses, two tasks (one delayed),
// two milestones (none late), one assigned employee.
func scenarioSnapshot() *extract.Snapshot {
	snap := extract.EmptySnapshot()

	snap.Clients.MustAppend([]any{"CL1", "Alpha SA"})
	snap.Employees.MustAppend([]any{"E1", "Ana", "Dev", "Senior", 10.0})
	snap.Contracts.MustAppend([]any{"C1", "CL1", 5000.0, "Active"})
	snap.Projects.MustAppend(projectRow("P1", "C1", "CL1", "2023-01-01", "2023-06-01"))

	snap.Milestones.MustAppend([]any{"M1", "P1", "kickoff", "Done", "2023-01-01", "2023-03-01", "2023-03-01"})
	snap.Milestones.MustAppend([]any{"M2", "P1", "delivery", "Done", "2023-03-01", "2023-06-01", "2023-06-01"})

	snap.Tasks.MustAppend([]any{"T1", "M1", "P1", "build", "Done", 10.0, 15.0})
	snap.Tasks.MustAppend([]any{"T2", "M2", "P1", "ship", "Done", 10.0, 10.0})

	snap.Assignments.MustAppend([]any{"A1", "P1", "E1", 100.0, 150.0, "2023-01-01"})

	snap.Expenses.MustAppend([]any{"G1", "P1", "OPEX", "Licenses", 1000.0, "2023-01-01"})
	snap.Expenses.MustAppend([]any{"G2", "P1", "CAPEX", "Hardware", 500.0, "2023-03-01"})

	return snap
}

func buildScenarioDims(t *testing.T, snap *extract.Snapshot) (*Dimension, *Dimension, *TimeDimension) {
	t.Helper()
	clients, err := BuildClientDimension(snap.Clients, nil)
	if err != nil {
		t.Fatalf("clients: %v", err)
	}
	employees, err := BuildEmployeeDimension(snap.Employees, nil)
	if err != nil {
		t.Fatalf("employees: %v", err)
	}
	projects, err := BuildProjectDimension(snap.Projects, clients, nil)
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	td, err := BuildTimeDimension(snap)
	if err != nil {
		t.Fatalf("time: %v", err)
	}
	return projects, employees, td
}

func TestBuildProjectFactsReferenceScenario(t *testing.T) {
	snap := scenarioSnapshot()
	projects, _, td := buildScenarioDims(t, snap)

	facts, rep, err := BuildProjectFacts(snap, projects, td)
	if err != nil {
		t.Fatalf("BuildProjectFacts: %v", err)
	}
	if facts.Len() != 1 {
		t.Fatalf("rows = %d, want 1", facts.Len())
	}
	if rep.Dropped() != 0 {
		t.Fatalf("unexpected drops: %s", rep.Summary())
	}

	row := func(col string) any { return facts.Value(0, col) }

	if got := row("duration_real_days"); got != int64(151) {
		t.Errorf("duration_real_days = %v, want 151", got)
	}
	if got := row("budgeted_cost"); got != 5000.0 {
		t.Errorf("budgeted_cost = %v, want 5000", got)
	}
	if got := row("actual_cost"); got != 1500.0 {
		t.Errorf("actual_cost = %v, want 1500 (expense ledger sum)", got)
	}
	if got := row("budget_deviation"); got != 3500.0 {
		t.Errorf("budget_deviation = %v, want 3500", got)
	}
	if got := row("percent_tasks_delayed"); got != 50.0 {
		t.Errorf("percent_tasks_delayed = %v, want 50", got)
	}
	if got := row("percent_milestones_delayed"); got != 0.0 {
		t.Errorf("percent_milestones_delayed = %v, want 0", got)
	}
	if got := row("average_productivity"); got != 151.0 {
		t.Errorf("average_productivity = %v, want 151", got)
	}
	if got := row("capex_opex_ratio"); got != 0.5 {
		t.Errorf("capex_opex_ratio = %v, want 0.5", got)
	}
	if got := row("penalty_amount"); got != 0.0 {
		t.Errorf("penalty_amount = %v, want 0", got)
	}
	if got := row("defect_count"); got != int64(0) {
		t.Errorf("defect_count = %v, want 0", got)
	}
	// Latest planned milestone finish equals the project end, no overrun.
	if got := row("delay_days"); got != int64(0) {
		t.Errorf("delay_days = %v, want 0", got)
	}
	if got := row("start_date_key"); got != int64(20230101) {
		t.Errorf("start_date_key = %v", got)
	}
	if got := row("end_date_key"); got != int64(20230601) {
		t.Errorf("end_date_key = %v", got)
	}
}

func TestBuildProjectFactsCapexWithoutOpex(t *testing.T) {
	snap := scenarioSnapshot()
	snap.Expenses = recordset.New(extract.ExpenseColumns...)
	snap.Expenses.MustAppend([]any{"G1", "P1", "CAPEX", "Hardware", 500.0, "2023-01-01"})

	projects, _, td := buildScenarioDims(t, snap)
	facts, rep, err := BuildProjectFacts(snap, projects, td)
	if err != nil {
		t.Fatalf("BuildProjectFacts: %v", err)
	}
	if got := facts.Value(0, "capex_opex_ratio"); got != nil {
		t.Fatalf("ratio = %v, want nil for capex without opex", got)
	}
	if got := rep.DroppedBy["capex_opex_undefined"]; got != 1 {
		t.Fatalf("capex_opex_undefined = %d, want 1", got)
	}
}

func TestBuildProjectFactsPenaltySources(t *testing.T) {
	snap := scenarioSnapshot()
	// One penalty-category expense on the project plus one contract
	// penalty; both must land in penalty_amount.
	snap.Expenses.MustAppend([]any{"G3", "P1", "OPEX", "PENALTY", 200.0, "2023-05-01"})
	snap.Penalties.MustAppend([]any{"S1", "C1", "CL1", 300.0, "late delivery", "2023-06-01"})

	projects, _, td := buildScenarioDims(t, snap)
	facts, _, err := BuildProjectFacts(snap, projects, td)
	if err != nil {
		t.Fatalf("BuildProjectFacts: %v", err)
	}
	if got := facts.Value(0, "penalty_amount"); got != 500.0 {
		t.Fatalf("penalty_amount = %v, want 500", got)
	}
	// The penalty expense also counts toward actual cost.
	if got := facts.Value(0, "actual_cost"); got != 1700.0 {
		t.Fatalf("actual_cost = %v, want 1700", got)
	}
}

func TestBuildProjectFactsDelayDays(t *testing.T) {
	snap := scenarioSnapshot()
	// Latest planned milestone finish moves to 2023-05-01: planned span
	// 120 days against a real duration of 151.
	snap.Milestones = recordset.New(extract.MilestoneColumns...)
	snap.Milestones.MustAppend([]any{"M1", "P1", "delivery", "Done", "2023-01-01", "2023-05-01", "2023-06-01"})

	projects, _, td := buildScenarioDims(t, snap)
	facts, _, err := BuildProjectFacts(snap, projects, td)
	if err != nil {
		t.Fatalf("BuildProjectFacts: %v", err)
	}
	if got := facts.Value(0, "delay_days"); got != int64(31) {
		t.Fatalf("delay_days = %v, want 31", got)
	}
	if got := facts.Value(0, "percent_milestones_delayed"); got != 100.0 {
		t.Fatalf("percent_milestones_delayed = %v, want 100", got)
	}
}

func TestBuildAssignmentFacts(t *testing.T) {
	snap := scenarioSnapshot()
	// Second employee with no rate and an unparseable assignment date.
	snap.Employees.MustAppend([]any{"E2", "Luis", "QA", "Junior", nil})
	snap.Assignments.MustAppend([]any{"A2", "P1", "E2", 40.0, 20.0, "31/12/2023"})
	// Orphan assignment: employee absent from the dimension.
	snap.Assignments.MustAppend([]any{"A3", "P1", "E9", 40.0, 20.0, "2023-01-01"})

	projects, employees, td := buildScenarioDims(t, snap)
	facts, rep, err := BuildAssignmentFacts(snap, employees, projects, td)
	if err != nil {
		t.Fatalf("BuildAssignmentFacts: %v", err)
	}
	if facts.Len() != 2 {
		t.Fatalf("rows = %d, want 2", facts.Len())
	}
	if rep.RefViolations != 1 {
		t.Fatalf("ref violations = %d, want 1", rep.RefViolations)
	}

	// A1: 150 actual hours at rate 10.
	if got := facts.Value(0, "monetary_value"); got != 1500.0 {
		t.Fatalf("A1 monetary_value = %v, want 1500", got)
	}
	if got := facts.Value(0, "assignment_date_key"); got != int64(20230101) {
		t.Fatalf("A1 date key = %v", got)
	}

	// A2: no rate, unparseable date.
	if got := facts.Value(1, "monetary_value"); got != 0.0 {
		t.Fatalf("A2 monetary_value = %v, want 0", got)
	}
	if got := facts.Value(1, "assignment_date_key"); got != int64(0) {
		t.Fatalf("A2 date key = %v, want sentinel 0", got)
	}
	if rep.UnresolvedDates != 1 {
		t.Fatalf("unresolved dates = %d, want 1", rep.UnresolvedDates)
	}
}
