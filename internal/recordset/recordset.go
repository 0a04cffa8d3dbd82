// Package recordset defines the tabular in-memory representation exchanged
// between pipeline stages: an ordered set of columns plus uniform positional
// rows. Every builder declares its output schema up front and appends rows
// against it, so no stage can grow or reorder columns implicitly.
package recordset

import "fmt"

// RecordSet is an ordered collection of uniform-shape rows.
//
// Column order is significant for the load sink. Values are scalars:
// int64, float64, string, bool, time.Time (a calendar date) or nil.
//
// A RecordSet is produced once by exactly one builder and treated as
// immutable by all consumers.
type RecordSet struct {
	columns []string
	index   map[string]int

	Rows [][]any
}

// New creates an empty RecordSet with the given column headers.
// An empty extraction still yields a RecordSet with correct headers,
// so callers never special-case the absence of rows.
func New(columns ...string) *RecordSet {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return &RecordSet{
		columns: append([]string(nil), columns...),
		index:   idx,
	}
}

// Columns returns the declared column names in order.
func (rs *RecordSet) Columns() []string {
	return append([]string(nil), rs.columns...)
}

// Len returns the number of rows.
func (rs *RecordSet) Len() int { return len(rs.Rows) }

// Col returns the index of a column and whether it exists.
func (rs *RecordSet) Col(name string) (int, bool) {
	i, ok := rs.index[name]
	return i, ok
}

// MustCol returns the index of a column and panics if it is absent.
// Builders call this once at construction time against declared schemas;
// a miss is a programming error, not a data error.
func (rs *RecordSet) MustCol(name string) int {
	i, ok := rs.index[name]
	if !ok {
		panic(fmt.Sprintf("recordset: unknown column %q (have %v)", name, rs.columns))
	}
	return i
}

// Append adds a row. The row length must match the declared schema.
func (rs *RecordSet) Append(row []any) error {
	if len(row) != len(rs.columns) {
		return fmt.Errorf("recordset: row has %d values, schema has %d columns", len(row), len(rs.columns))
	}
	rs.Rows = append(rs.Rows, row)
	return nil
}

// MustAppend adds a row built by the owning builder itself.
// Used where the row is constructed positionally against the same schema,
// so a length mismatch is again a programming error.
func (rs *RecordSet) MustAppend(row []any) {
	if err := rs.Append(row); err != nil {
		panic(err.Error())
	}
}

// Value returns the value at (row, column name), or nil when the column
// does not exist.
func (rs *RecordSet) Value(row int, column string) any {
	i, ok := rs.index[column]
	if !ok {
		return nil
	}
	return rs.Rows[row][i]
}

// AssertSchema verifies the RecordSet carries exactly the declared ordered
// column set. Builders call it before emission so a column outside the
// declared schema is rejected rather than silently loaded.
func (rs *RecordSet) AssertSchema(declared []string) error {
	if len(rs.columns) != len(declared) {
		return fmt.Errorf("recordset: schema has %d columns, declared %d", len(rs.columns), len(declared))
	}
	for i, c := range declared {
		if rs.columns[i] != c {
			return fmt.Errorf("recordset: column %d is %q, declared %q", i, rs.columns[i], c)
		}
	}
	return nil
}
