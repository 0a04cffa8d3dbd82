// Package pipeline orchestrates the ETL run: readiness probe, state
// decision, and the catalog, dimension and fact stages in order. All
// connections are acquired per run and released on every exit path.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"sgpetl/internal/config"
	"sgpetl/internal/extract"
	"sgpetl/internal/metrics"
	"sgpetl/internal/recordset"
	"sgpetl/internal/transform"
	"sgpetl/internal/warehouse"
)

// Runner executes pipeline runs. The factory fields are seams: production
// uses NewDefaultRunner, tests substitute fakes.
type Runner struct {
	Logf    transform.Logger
	Metrics metrics.Backend

	NewExtractor func(ctx context.Context, src config.Source) (extract.Extractor, func(), error)
	NewSink      func(ctx context.Context, cfg warehouse.Config) (warehouse.Sink, error)
}

// NewDefaultRunner wires the production factories. DSNs pass through
// os.ExpandEnv so credentials can live in the environment.
func NewDefaultRunner() *Runner {
	return &Runner{
		Logf:    log.Default(),
		Metrics: metrics.Nop{},
		NewExtractor: func(ctx context.Context, src config.Source) (extract.Extractor, func(), error) {
			ex, err := extract.Open(ctx, src.Driver, os.ExpandEnv(src.DSN))
			if err != nil {
				return nil, nil, err
			}
			return ex, ex.Close, nil
		},
		NewSink: func(ctx context.Context, cfg warehouse.Config) (warehouse.Sink, error) {
			cfg.DSN = os.ExpandEnv(cfg.DSN)
			return warehouse.New(ctx, cfg)
		},
	}
}

// Status probes the warehouse and returns the readiness verdict without
// running anything.
func (r *Runner) Status(ctx context.Context, cfg *config.Config) (Status, error) {
	sink, err := r.NewSink(ctx, cfg.Warehouse)
	if err != nil {
		return Status{}, fmt.Errorf("warehouse: %w", err)
	}
	defer sink.Close()

	return Probe(ctx, sink, Thresholds{MinRiskTypes: cfg.MinRiskTypes})
}

// built is the in-memory output of the transformation, shared between the
// dimension and fact stages.
type built struct {
	time *transform.TimeDimension

	clients    *transform.Dimension
	employees  *transform.Dimension
	projects   *transform.Dimension
	milestones *transform.Dimension
	tasks      *transform.Dimension
	tests      *transform.Dimension
	finance    *transform.Dimension
	riskTypes  *transform.Dimension
	severities *transform.Dimension
	risks      *transform.Dimension
}

// Run executes one pipeline run. force skips the probe, truncates every
// target and rebuilds from scratch. A stage failure aborts the remaining
// stages and keeps the completed stages' writes.
func (r *Runner) Run(ctx context.Context, cfg *config.Config, force bool) error {
	sink, err := r.NewSink(ctx, cfg.Warehouse)
	if err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	defer sink.Close()

	state := NeedAll
	if force {
		r.logf("run=start state=NEED_ALL forced=true")
	} else {
		st, err := Probe(ctx, sink, Thresholds{MinRiskTypes: cfg.MinRiskTypes})
		if err != nil {
			return fmt.Errorf("probe: %w", err)
		}
		state = st.State()
		r.logf("run=start %s", st.Summary())
		if state == Complete {
			return nil
		}
	}

	// Prior surrogate keys are read before any truncation so incremental
	// runs keep keys stable.
	priors, err := r.loadPriorKeys(ctx, sink, force)
	if err != nil {
		return fmt.Errorf("prior keys: %w", err)
	}

	ex, closeEx, err := r.NewExtractor(ctx, cfg.Source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	defer closeEx()

	wm := extract.WatermarkStore{Path: cfg.WatermarkPath}
	if cfg.Incremental {
		since, err := wm.Load()
		if err != nil {
			return fmt.Errorf("watermark: %w", err)
		}
		if s, ok := ex.(interface{ SetWatermark(time.Time) }); ok {
			s.SetWatermark(since)
		}
	}
	runStart := time.Now()

	snap, err := timedStep(r, "extract", func() (*extract.Snapshot, error) {
		return extract.TakeSnapshot(ctx, ex)
	})
	if err != nil {
		return fmt.Errorf("stage extract: %w", err)
	}

	if err := sink.EnsureTables(ctx, AllTables()); err != nil {
		return fmt.Errorf("ensure tables: %w", err)
	}

	if force {
		if err := r.truncateAll(ctx, sink); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}

	// The transformation always runs fully in memory, whatever the state:
	// a facts-only run still needs the dimension key maps, seeded from the
	// warehouse so stored surrogate keys stay stable.
	b, err := timedStep(r, "transform", func() (*built, error) {
		return r.buildAll(snap, priors)
	})
	if err != nil {
		return fmt.Errorf("stage transform: %w", err)
	}

	if state >= NeedAll {
		if err := r.runStage(ctx, "catalogs", func() error {
			return r.loadCatalogs(ctx, sink, b)
		}); err != nil {
			return err
		}
	}

	if state >= NeedDimensions {
		if err := r.runStage(ctx, "dimensions", func() error {
			return r.loadDimensions(ctx, sink, b)
		}); err != nil {
			return err
		}
	}

	if err := r.runStage(ctx, "facts", func() error {
		return r.loadFacts(ctx, sink, snap, b)
	}); err != nil {
		return err
	}

	if cfg.Incremental {
		if err := wm.Save(runStart); err != nil {
			return fmt.Errorf("watermark: %w", err)
		}
	}

	r.logf("run=done state=%s elapsed=%s", state, time.Since(runStart).Round(time.Millisecond))
	return nil
}

func (r *Runner) logf(format string, v ...any) {
	if r.Logf != nil {
		r.Logf.Printf(format, v...)
	}
}

func (r *Runner) metrics() metrics.Backend {
	if r.Metrics == nil {
		return metrics.Nop{}
	}
	return r.Metrics
}

// timed wraps a step with duration and status metrics.
func timedStep[T any](r *Runner, stage string, f func() (T, error)) (T, error) {
	start := time.Now()
	out, err := f()
	r.metrics().ObserveDuration(stage, time.Since(start))
	if err != nil {
		r.metrics().IncStage(stage, "error")
	} else {
		r.metrics().IncStage(stage, "ok")
	}
	return out, err
}

func (r *Runner) runStage(ctx context.Context, stage string, f func() error) error {
	_, err := timedStep(r, stage, func() (struct{}, error) {
		return struct{}{}, f()
	})
	if err != nil {
		return fmt.Errorf("stage %s: %w", stage, err)
	}
	r.logf("stage=%s status=ok", stage)
	return nil
}

// priorKeys holds the surrogate dictionaries read from the warehouse
// before the run, keyed by dimension table name.
type priorKeys map[string]map[string]int64

var priorKeyColumns = []struct {
	table, keyColumn, valueColumn string
}{
	{"dim_client", "client_code", "client_key"},
	{"dim_employee", "employee_code", "employee_key"},
	{"dim_project", "project_code", "project_key"},
	{"dim_milestone", "milestone_code", "milestone_key"},
	{"dim_task", "task_code", "task_key"},
	{"dim_test", "test_code", "test_key"},
	{"dim_finance", "source_code", "finance_key"},
	{"dim_risk_type", "type_name", "risk_type_key"},
	{"dim_severity", "level_name", "severity_key"},
	{"dim_risk", "risk_code", "risk_key"},
}

func (r *Runner) loadPriorKeys(ctx context.Context, sink warehouse.Sink, force bool) (priorKeys, error) {
	out := make(priorKeys)
	if force {
		return out, nil
	}
	for _, pk := range priorKeyColumns {
		m, err := sink.SelectKeyValue(ctx, pk.table, pk.keyColumn, pk.valueColumn)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pk.table, err)
		}
		if len(m) > 0 {
			out[pk.table] = m
		}
	}
	return out, nil
}

func (r *Runner) truncateAll(ctx context.Context, sink warehouse.Sink) error {
	// Facts first so a reader never sees facts pointing at truncated
	// dimensions.
	names := make([]string, 0, len(AllTables()))
	for _, t := range factTables {
		names = append(names, t.Name)
	}
	for _, t := range dimensionTables {
		names = append(names, t.Name)
	}
	for _, t := range catalogTables {
		names = append(names, t.Name)
	}
	return sink.Truncate(ctx, names...)
}

// buildAll runs the whole transformation in dependency order. An empty
// parent dimension whose children have input rows is a stage failure, not
// a silent mass drop.
func (r *Runner) buildAll(snap *extract.Snapshot, priors priorKeys) (*built, error) {
	b := &built{}
	var err error

	if b.time, err = transform.BuildTimeDimension(snap); err != nil {
		return nil, err
	}
	b.time.Report.Log(r.Logf)

	if b.clients, err = transform.BuildClientDimension(snap.Clients, priors["dim_client"]); err != nil {
		return nil, err
	}
	if b.employees, err = transform.BuildEmployeeDimension(snap.Employees, priors["dim_employee"]); err != nil {
		return nil, err
	}
	if err := requireParent("dim_client", b.clients, snap.Projects.Len()); err != nil {
		return nil, err
	}
	if b.projects, err = transform.BuildProjectDimension(snap.Projects, b.clients, priors["dim_project"]); err != nil {
		return nil, err
	}
	if err := requireParent("dim_project", b.projects, snap.Milestones.Len()); err != nil {
		return nil, err
	}
	if b.milestones, err = transform.BuildMilestoneDimension(snap.Milestones, b.projects, b.time, priors["dim_milestone"]); err != nil {
		return nil, err
	}
	if err := requireParent("dim_milestone", b.milestones, snap.Tasks.Len()); err != nil {
		return nil, err
	}
	if b.tasks, err = transform.BuildTaskDimension(snap.Tasks, b.milestones, priors["dim_task"]); err != nil {
		return nil, err
	}
	if b.tests, err = transform.BuildTestDimension(snap.Tests, b.milestones, priors["dim_test"]); err != nil {
		return nil, err
	}
	if b.finance, err = transform.BuildFinanceDimension(snap.Expenses, snap.Penalties, b.projects, b.time, priors["dim_finance"]); err != nil {
		return nil, err
	}
	if b.riskTypes, err = transform.BuildRiskTypeDimension(snap.Risks, priors["dim_risk_type"]); err != nil {
		return nil, err
	}
	if b.severities, err = transform.BuildSeverityDimension(snap.Risks, priors["dim_severity"]); err != nil {
		return nil, err
	}
	if b.risks, err = transform.BuildRiskDimension(snap.Risks, b.projects, b.riskTypes, b.severities, priors["dim_risk"]); err != nil {
		return nil, err
	}

	for _, d := range b.dimensions() {
		d.Report.Log(r.Logf)
		r.reportMetrics(d.Report)
	}
	return b, nil
}

func requireParent(name string, parent *transform.Dimension, childRows int) error {
	if parent.Table.Len() == 0 && childRows > 0 {
		return fmt.Errorf("parent dimension %s is empty with %d child rows pending", name, childRows)
	}
	return nil
}

func (b *built) dimensions() []*transform.Dimension {
	return []*transform.Dimension{
		b.clients, b.employees, b.projects, b.milestones, b.tasks,
		b.tests, b.finance, b.riskTypes, b.severities, b.risks,
	}
}

func (r *Runner) reportMetrics(rep *transform.BuildReport) {
	m := r.metrics()
	for reason, n := range rep.DroppedBy {
		m.IncDropped(rep.Table, reason, int64(n))
	}
}

func (r *Runner) loadCatalogs(ctx context.Context, sink warehouse.Sink, b *built) error {
	if _, err := r.load(ctx, sink, subdimMonth, monthCatalog()); err != nil {
		return err
	}
	if _, err := r.load(ctx, sink, subdimWeekday, weekdayCatalog()); err != nil {
		return err
	}
	_, err := r.load(ctx, sink, subdimYear, yearCatalog(b.time.Years()))
	return err
}

func (r *Runner) loadDimensions(ctx context.Context, sink warehouse.Sink, b *built) error {
	if _, err := r.load(ctx, sink, dimTime, b.time.Table); err != nil {
		return err
	}
	specs := []warehouse.TableSpec{
		dimClient, dimEmployee, dimProject, dimMilestone, dimTask,
		dimTest, dimFinance, dimRiskType, dimSeverity, dimRisk,
	}
	for i, d := range b.dimensions() {
		if _, err := r.load(ctx, sink, specs[i], d.Table); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) loadFacts(ctx context.Context, sink warehouse.Sink, snap *extract.Snapshot, b *built) error {
	projects, rep, err := transform.BuildProjectFacts(snap, b.projects, b.time)
	if err != nil {
		return err
	}
	rep.Log(r.Logf)
	r.reportMetrics(rep)
	if _, err := r.load(ctx, sink, factProjects, projects); err != nil {
		return err
	}

	assignments, rep, err := transform.BuildAssignmentFacts(snap, b.employees, b.projects, b.time)
	if err != nil {
		return err
	}
	rep.Log(r.Logf)
	r.reportMetrics(rep)
	_, err = r.load(ctx, sink, factAssignments, assignments)
	return err
}

func (r *Runner) load(ctx context.Context, sink warehouse.Sink, spec warehouse.TableSpec, rs *recordset.RecordSet) (int, error) {
	n, err := sink.Load(ctx, spec, rs, warehouse.Replace)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", spec.Name, err)
	}
	r.logf("load table=%s rows=%d mode=replace", spec.Name, n)
	r.metrics().IncRows(spec.Name, n)
	return int(n), nil
}
