package transform

import (
	"fmt"
	"sort"
	"strings"
)

// Logger is the minimal logging interface used by the builders.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// BuildReport aggregates the recovered (non-fatal) errors of one table
// build: rows dropped with reasons, referential violations, unresolved
// dates. It is surfaced at the end of the stage so violation counts stay
// observable instead of disappearing into sentinel keys.
type BuildReport struct {
	Table   string
	RowsIn  int
	RowsOut int

	// DroppedBy counts dropped rows per reason.
	DroppedBy map[string]int

	// RefViolations counts child rows dropped because a referenced natural
	// key was absent from a required parent dimension.
	RefViolations int

	// UnresolvedDates counts date references resolved to the 0 sentinel
	// because the date was absent from the time dimension.
	UnresolvedDates int

	// Malformed counts rows excluded because a scalar failed to parse.
	Malformed int

	Warnings []string
}

func newReport(table string) *BuildReport {
	return &BuildReport{Table: table, DroppedBy: make(map[string]int)}
}

func (r *BuildReport) drop(reason string) {
	r.DroppedBy[reason]++
}

func (r *BuildReport) dropRef(reason string) {
	r.RefViolations++
	r.drop(reason)
}

func (r *BuildReport) dropMalformed(reason string) {
	r.Malformed++
	r.drop(reason)
}

func (r *BuildReport) warnf(format string, v ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, v...))
}

// Dropped returns the total number of dropped rows.
func (r *BuildReport) Dropped() int {
	n := 0
	for _, c := range r.DroppedBy {
		n += c
	}
	return n
}

// Summary renders the per-table summary logged at stage end.
func (r *BuildReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "table=%s rows_in=%d rows_out=%d dropped=%d ref_violations=%d unresolved_dates=%d malformed=%d",
		r.Table, r.RowsIn, r.RowsOut, r.Dropped(), r.RefViolations, r.UnresolvedDates, r.Malformed)
	if len(r.DroppedBy) > 0 {
		reasons := make([]string, 0, len(r.DroppedBy))
		for reason := range r.DroppedBy {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(&b, " drop[%s]=%d", reason, r.DroppedBy[reason])
		}
	}
	return b.String()
}

// Log writes the summary plus any accumulated warnings.
func (r *BuildReport) Log(logf Logger) {
	if logf == nil {
		return
	}
	logf.Printf("stage=build %s", r.Summary())
	for _, w := range r.Warnings {
		logf.Printf("stage=build table=%s warn=%q", r.Table, w)
	}
}
