// Package metrics defines the minimal backend interface the pipeline emits
// through. The core stays backend-agnostic; concrete backends (Datadog)
// live in subpackages, and Nop is the default when none is configured.
package metrics

import "time"

// Labels tags one observation.
type Labels map[string]string

// Backend receives pipeline observations. Implementations must be safe for
// concurrent use; Flush/Close submit whatever is buffered.
type Backend interface {
	// IncStage counts a stage completion with status "ok" or "error".
	IncStage(stage, status string)

	// IncRows counts rows written to a warehouse table.
	IncRows(table string, n int64)

	// IncDropped counts rows dropped during a table build, by reason.
	IncDropped(table, reason string, n int64)

	// ObserveDuration records a stage's wall-clock duration.
	ObserveDuration(stage string, d time.Duration)

	// Flush submits buffered observations.
	Flush() error

	// Close flushes and releases resources. Call once.
	Close() error
}

// Nop discards everything. Used when metrics are not configured.
type Nop struct{}

func (Nop) IncStage(string, string)               {}
func (Nop) IncRows(string, int64)                 {}
func (Nop) IncDropped(string, string, int64)      {}
func (Nop) ObserveDuration(string, time.Duration) {}
func (Nop) Flush() error                          { return nil }
func (Nop) Close() error                          { return nil }
