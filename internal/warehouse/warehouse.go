// Package warehouse defines the backend-agnostic sink contract for the
// star-schema warehouse plus the backend registry. Concrete backends live
// in subpackages and register themselves from init(), so importing a
// backend package is what makes its kind available.
package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sgpetl/internal/recordset"
)

// Config selects and parameterizes a backend.
type Config struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// WriteMode controls how Load treats existing rows in the target table.
type WriteMode int

const (
	// Replace truncates the table and inserts inside one transaction, so
	// readers never observe a partially loaded table.
	Replace WriteMode = iota
	// Append inserts without touching existing rows.
	Append
)

func (m WriteMode) String() string {
	switch m {
	case Replace:
		return "replace"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// TableSpec declares one warehouse table. Types are generic and mapped to
// backend-native types by each backend.
type TableSpec struct {
	Name       string       `json:"name"`
	Columns    []ColumnSpec `json:"columns"`
	PrimaryKey string       `json:"primary_key,omitempty"`
}

// ColumnSpec declares one column with a generic type: "bigint", "double",
// "text" or "date".
type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// ColumnNames returns the declared column names in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Sink is the minimal warehouse interface the pipeline needs. Each backend
// implements these semantics its own idiomatic way (Postgres TRUNCATE,
// SQLite DELETE, batched multi-row VALUES inserts everywhere).
type Sink interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureTables creates the declared tables if they do not exist.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Load writes a record set into table. The record set's columns must
	// match the table's declared columns exactly; a mismatch is a bug in
	// the builder and fails before any row is written. Replace mode is
	// transactional per table. Returns the number of rows written.
	Load(ctx context.Context, table TableSpec, rs *recordset.RecordSet, mode WriteMode) (int64, error)

	// Truncate empties the named tables.
	Truncate(ctx context.Context, tables ...string) error

	// Count returns the row count of a table. A missing table counts as 0
	// rows, so the readiness probe works against a virgin warehouse.
	Count(ctx context.Context, table string) (int64, error)

	// SelectKeyValue reads a natural-key -> surrogate-key dictionary from
	// a dimension, used to keep surrogate keys stable across incremental
	// runs. A missing table yields an empty map.
	SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error)
}

// ValidateColumns checks a record set against a table's declared schema.
// Shared by backends so the error reads the same regardless of kind.
func ValidateColumns(t TableSpec, rs *recordset.RecordSet) error {
	declared := t.ColumnNames()
	got := rs.Columns()
	if len(got) != len(declared) {
		return fmt.Errorf("warehouse: table %s expects %d columns, record set has %d", t.Name, len(declared), len(got))
	}
	for i, name := range declared {
		if got[i] != name {
			return fmt.Errorf("warehouse: table %s column %d: declared %q, record set has %q", t.Name, i, name, got[i])
		}
	}
	return nil
}

type factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Call from a backend package's
// init(). Duplicate registration panics to fail fast on ambiguous wiring.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("warehouse: Register called with empty kind")
	}
	if f == nil {
		panic("warehouse: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("warehouse: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Sink for the configured kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("warehouse: missing kind")
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("warehouse: unsupported kind %q", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, for error messages and the
// CLI usage text.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
