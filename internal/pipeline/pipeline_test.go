package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"sgpetl/internal/config"
	"sgpetl/internal/extract"
	"sgpetl/internal/recordset"
	"sgpetl/internal/warehouse"
)

// fakeSink is an in-memory warehouse.
type fakeSink struct {
	tables map[string]*recordset.RecordSet
	specs  map[string]warehouse.TableSpec

	failLoad map[string]error
	loads    []string
	closed   bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		tables:   make(map[string]*recordset.RecordSet),
		specs:    make(map[string]warehouse.TableSpec),
		failLoad: make(map[string]error),
	}
}

func (f *fakeSink) Close() { f.closed = true }

func (f *fakeSink) EnsureTables(ctx context.Context, tables []warehouse.TableSpec) error {
	for _, t := range tables {
		f.specs[t.Name] = t
	}
	return nil
}

func (f *fakeSink) Load(ctx context.Context, table warehouse.TableSpec, rs *recordset.RecordSet, mode warehouse.WriteMode) (int64, error) {
	if err := warehouse.ValidateColumns(table, rs); err != nil {
		return 0, err
	}
	if err := f.failLoad[table.Name]; err != nil {
		return 0, err
	}
	f.loads = append(f.loads, table.Name)
	if mode == warehouse.Replace {
		delete(f.tables, table.Name)
	}
	stored, ok := f.tables[table.Name]
	if !ok {
		stored = recordset.New(rs.Columns()...)
		f.tables[table.Name] = stored
	}
	for _, row := range rs.Rows {
		stored.MustAppend(append([]any(nil), row...))
	}
	return int64(rs.Len()), nil
}

func (f *fakeSink) Truncate(ctx context.Context, tables ...string) error {
	for _, t := range tables {
		delete(f.tables, t)
	}
	return nil
}

func (f *fakeSink) Count(ctx context.Context, table string) (int64, error) {
	rs, ok := f.tables[table]
	if !ok {
		return 0, nil
	}
	return int64(rs.Len()), nil
}

func (f *fakeSink) SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	rs, ok := f.tables[table]
	if !ok {
		return map[string]int64{}, nil
	}
	out := make(map[string]int64)
	for i := 0; i < rs.Len(); i++ {
		k := recordset.Key(rs.Value(i, keyColumn))
		v, err := recordset.AsInt64(rs.Value(i, valueColumn))
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// fakeExtractor serves a fixed snapshot.
type fakeExtractor struct {
	snap *extract.Snapshot
}

func (f *fakeExtractor) Clients(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Clients, nil
}
func (f *fakeExtractor) Employees(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Employees, nil
}
func (f *fakeExtractor) Contracts(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Contracts, nil
}
func (f *fakeExtractor) Projects(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Projects, nil
}
func (f *fakeExtractor) Milestones(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Milestones, nil
}
func (f *fakeExtractor) Tasks(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Tasks, nil
}
func (f *fakeExtractor) Assignments(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Assignments, nil
}
func (f *fakeExtractor) Tests(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Tests, nil
}
func (f *fakeExtractor) Errors(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Errors, nil
}
func (f *fakeExtractor) Risks(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Risks, nil
}
func (f *fakeExtractor) Expenses(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Expenses, nil
}
func (f *fakeExtractor) Penalties(ctx context.Context) (*recordset.RecordSet, error) {
	return f.snap.Penalties, nil
}

func testSnapshot() *extract.Snapshot {
	snap := extract.EmptySnapshot()
	snap.Clients.MustAppend([]any{"CL1", "Alpha SA"})
	snap.Employees.MustAppend([]any{"E1", "Ana", "Dev", "Senior", 10.0})
	snap.Contracts.MustAppend([]any{"C1", "CL1", 5000.0, "Active"})
	snap.Projects.MustAppend([]any{"P1", "C1", "CL1", "Migration", "1.0", "2023-01-01", "2023-06-01", "Terminated", "Active", 5000.0, "project_status"})
	snap.Milestones.MustAppend([]any{"M1", "P1", "kickoff", "Done", "2023-01-01", "2023-06-01", "2023-06-01"})
	snap.Tasks.MustAppend([]any{"T1", "M1", "P1", "build", "Done", 10.0, 12.0})
	snap.Assignments.MustAppend([]any{"A1", "P1", "E1", 100.0, 150.0, "2023-01-01"})
	snap.Tests.MustAppend([]any{"Q1", "M1", "P1", "integration", "2023-06-01", true})
	snap.Risks.MustAppend([]any{"R1", "P1", "Technical", "High", "2023-01-01"})
	snap.Expenses.MustAppend([]any{"G1", "P1", "OPEX", "Licenses", 1000.0, "2023-01-01"})
	return snap
}

func testRunner(sink *fakeSink, snap *extract.Snapshot) *Runner {
	r := NewDefaultRunner()
	r.Logf = nil
	r.NewExtractor = func(ctx context.Context, src config.Source) (extract.Extractor, func(), error) {
		return &fakeExtractor{snap: snap}, func() {}, nil
	}
	r.NewSink = func(ctx context.Context, cfg warehouse.Config) (warehouse.Sink, error) {
		return sink, nil
	}
	return r
}

func testConfig() *config.Config {
	return &config.Config{
		Source:       config.Source{Driver: "sqlite", DSN: ":memory:"},
		Warehouse:    warehouse.Config{Kind: "fake", DSN: "fake"},
		MinRiskTypes: 1,
	}
}

func TestRunPopulatesVirginWarehouse(t *testing.T) {
	sink := newFakeSink()
	r := testRunner(sink, testSnapshot())

	if err := r.Run(context.Background(), testConfig(), false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{
		"subdim_month", "subdim_weekday", "subdim_year",
		"dim_client", "dim_employee", "dim_project", "dim_time",
		"dim_milestone", "dim_task", "dim_test", "dim_finance",
		"dim_risk_type", "dim_severity", "dim_risk",
		"fact_projects", "fact_assignments",
	} {
		rs, ok := sink.tables[table]
		if !ok || rs.Len() == 0 {
			t.Errorf("table %s not populated", table)
		}
	}
	if n := sink.tables["subdim_month"].Len(); n != 12 {
		t.Errorf("subdim_month rows = %d, want 12", n)
	}
	if n := sink.tables["subdim_weekday"].Len(); n != 7 {
		t.Errorf("subdim_weekday rows = %d, want 7", n)
	}

	st, err := Probe(context.Background(), sink, Thresholds{MinRiskTypes: 1})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if st.State() != Complete {
		t.Fatalf("state after run = %s, want COMPLETE\n%s", st.State(), st.Summary())
	}
}

func TestRunCompleteIsNoop(t *testing.T) {
	sink := newFakeSink()
	r := testRunner(sink, testSnapshot())
	if err := r.Run(context.Background(), testConfig(), false); err != nil {
		t.Fatalf("first run: %v", err)
	}

	loadsBefore := len(sink.loads)
	if err := r.Run(context.Background(), testConfig(), false); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(sink.loads) != loadsBefore {
		t.Fatalf("COMPLETE state still loaded tables: %v", sink.loads[loadsBefore:])
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	sink := newFakeSink()
	snap := testSnapshot()
	r := testRunner(sink, snap)

	if err := r.Run(context.Background(), testConfig(), true); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	first := make(map[string][][]any)
	for name, rs := range sink.tables {
		first[name] = rs.Rows
	}

	if err := r.Run(context.Background(), testConfig(), true); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	for name, rs := range sink.tables {
		if !reflect.DeepEqual(first[name], rs.Rows) {
			t.Errorf("table %s differs between identical rebuilds", name)
		}
	}
}

func TestNeedFactsSkipsDimensionLoads(t *testing.T) {
	sink := newFakeSink()
	r := testRunner(sink, testSnapshot())
	if err := r.Run(context.Background(), testConfig(), false); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	// Empty the fact tables only: probe must answer NEED_FACTS and the
	// next run must reload facts without touching dimension tables.
	if err := sink.Truncate(context.Background(), "fact_projects", "fact_assignments"); err != nil {
		t.Fatal(err)
	}
	st, _ := Probe(context.Background(), sink, Thresholds{MinRiskTypes: 1})
	if st.State() != NeedFacts {
		t.Fatalf("state = %s, want NEED_FACTS", st.State())
	}

	sink.loads = nil
	if err := r.Run(context.Background(), testConfig(), false); err != nil {
		t.Fatalf("facts run: %v", err)
	}
	want := []string{"fact_projects", "fact_assignments"}
	if !reflect.DeepEqual(sink.loads, want) {
		t.Fatalf("loads = %v, want %v", sink.loads, want)
	}
}

func TestFactsOnlyRunKeepsSurrogateKeys(t *testing.T) {
	sink := newFakeSink()
	snap := testSnapshot()
	r := testRunner(sink, snap)
	if err := r.Run(context.Background(), testConfig(), false); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	wantKey := sink.tables["dim_project"].Value(0, "project_key")

	if err := sink.Truncate(context.Background(), "fact_projects", "fact_assignments"); err != nil {
		t.Fatal(err)
	}
	// A second project appears in the source; the facts rebuild must keep
	// P1's stored surrogate key.
	snap.Projects.MustAppend([]any{"P0", "C1", "CL1", "Earlier", "1.0", "2023-01-01", "2023-02-01", "Cancelled", "Active", 1000.0, "project_status"})

	if err := r.Run(context.Background(), testConfig(), false); err != nil {
		t.Fatalf("facts run: %v", err)
	}

	facts := sink.tables["fact_projects"]
	keys := map[any]bool{}
	for i := 0; i < facts.Len(); i++ {
		keys[facts.Value(i, "project_key")] = true
	}
	if !keys[wantKey] {
		t.Fatalf("fact_projects lost stored surrogate key %v; got %v", wantKey, keys)
	}
	// P0 sorts before P1 but must continue above the stored max, not
	// renumber from 1.
	if keys[wantKey] && len(keys) != 2 {
		t.Fatalf("expected 2 project keys, got %v", keys)
	}
}

func TestStageFailureKeepsPriorWrites(t *testing.T) {
	sink := newFakeSink()
	r := testRunner(sink, testSnapshot())
	sink.failLoad["fact_projects"] = errors.New("disk full")

	err := r.Run(context.Background(), testConfig(), false)
	if err == nil {
		t.Fatalf("expected stage failure")
	}
	if got := err.Error(); !containsAll(got, "stage facts", "disk full") {
		t.Fatalf("error %q does not name the failed stage", got)
	}

	// Dimension stage writes survive the fact stage failure.
	if rs, ok := sink.tables["dim_project"]; !ok || rs.Len() == 0 {
		t.Fatalf("dimension writes lost after fact failure")
	}
	if _, ok := sink.tables["fact_projects"]; ok {
		t.Fatalf("failed fact load left rows behind")
	}
}

func TestRunAbortsOnSinkConnectError(t *testing.T) {
	r := testRunner(newFakeSink(), testSnapshot())
	r.NewSink = func(ctx context.Context, cfg warehouse.Config) (warehouse.Sink, error) {
		return nil, errors.New("connection refused")
	}
	if err := r.Run(context.Background(), testConfig(), false); err == nil {
		t.Fatalf("expected connectivity error")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
