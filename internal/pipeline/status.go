package pipeline

import (
	"context"
	"fmt"
	"strings"

	"sgpetl/internal/warehouse"
)

// State is the readiness decision the run starts from. It is computed once
// before any stage executes; stages never re-probe mid-run.
type State int

const (
	// Complete means every group meets its threshold; nothing runs.
	Complete State = iota
	// NeedFacts rebuilds the fact tables only.
	NeedFacts
	// NeedDimensions rebuilds dimensions, then facts.
	NeedDimensions
	// NeedAll rebuilds catalogs, dimensions and facts.
	NeedAll
)

func (s State) String() string {
	switch s {
	case Complete:
		return "COMPLETE"
	case NeedFacts:
		return "NEED_FACTS"
	case NeedDimensions:
		return "NEED_DIMENSIONS"
	case NeedAll:
		return "NEED_ALL"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Thresholds parameterizes the readiness probe. Month and weekday counts
// are fixed by the calendar; only the risk-type minimum is configurable.
type Thresholds struct {
	MinRiskTypes int
}

// Status is the probe result: per-group readiness plus the observed counts
// behind each verdict, for --status output.
type Status struct {
	CatalogsReady   bool
	DimensionsReady bool
	FactsReady      bool

	Counts map[string]int64
}

// State derives the run decision from the group flags.
func (s Status) State() State {
	switch {
	case !s.CatalogsReady:
		return NeedAll
	case !s.DimensionsReady:
		return NeedDimensions
	case !s.FactsReady:
		return NeedFacts
	default:
		return Complete
	}
}

// Summary renders the probe result as key=value text for the CLI.
func (s Status) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s catalogs_ready=%t dimensions_ready=%t facts_ready=%t",
		s.State(), s.CatalogsReady, s.DimensionsReady, s.FactsReady)
	for _, t := range AllTables() {
		if n, ok := s.Counts[t.Name]; ok {
			fmt.Fprintf(&b, " %s=%d", t.Name, n)
		}
	}
	return b.String()
}

// Probe counts every declared table and applies the thresholds. Missing
// tables count as zero rows, so probing a virgin warehouse yields NEED_ALL
// rather than an error.
func Probe(ctx context.Context, sink warehouse.Sink, th Thresholds) (Status, error) {
	if th.MinRiskTypes <= 0 {
		th.MinRiskTypes = 1
	}

	counts := make(map[string]int64)
	for _, t := range AllTables() {
		n, err := sink.Count(ctx, t.Name)
		if err != nil {
			return Status{}, fmt.Errorf("probe %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}

	st := Status{Counts: counts}

	st.CatalogsReady = counts["subdim_month"] == int64(len(monthNames)) &&
		counts["subdim_weekday"] == int64(len(weekdayNames)) &&
		counts["subdim_year"] >= 1 &&
		counts["dim_severity"] >= 1 &&
		counts["dim_risk_type"] >= int64(th.MinRiskTypes)

	st.DimensionsReady = true
	for _, t := range principalDimensions {
		if counts[t.Name] == 0 {
			st.DimensionsReady = false
			break
		}
	}

	st.FactsReady = counts["fact_projects"] > 0

	return st, nil
}
