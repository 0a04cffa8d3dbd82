package transform

import (
	"sort"

	"sgpetl/internal/recordset"
)

// Dimension is the product of one dimension build: the emitted table, the
// natural-key -> surrogate-key dictionary used to resolve references to it,
// and the build report of recovered errors.
type Dimension struct {
	Table  *recordset.RecordSet
	Keys   *KeyMap
	Report *BuildReport
}

// Declared output schemas, surrogate key first, natural key retained for
// traceability.
var (
	ClientDimensionColumns   = []string{"client_key", "client_code", "client_name"}
	EmployeeDimensionColumns = []string{"employee_key", "employee_code", "full_name", "role", "seniority", "hourly_cost"}
	ProjectDimensionColumns  = []string{"project_key", "project_code", "project_name", "version", "cancelled", "client_key"}
)

// BuildClientDimension deduplicates clients on their natural key and
// assigns surrogate keys. A client may arrive several times through
// different contract join paths; the first row wins.
func BuildClientDimension(clients *recordset.RecordSet, prior map[string]int64) (*Dimension, error) {
	rep := newReport("dim_client")
	keys := NewKeyMapFrom(prior)

	idCol := clients.MustCol("client_id")
	nameCol := clients.MustCol("client_name")

	first := make(map[string][]any)
	var naturals []any
	for _, row := range clients.Rows {
		rep.RowsIn++
		nk := recordset.Key(row[idCol])
		if nk == "" {
			rep.dropMalformed("null_natural_key")
			continue
		}
		if _, ok := first[nk]; ok {
			rep.drop("duplicate_natural_key")
			continue
		}
		first[nk] = row
		naturals = append(naturals, row[idCol])
	}
	keys.Assign(naturals)

	out := recordset.New(ClientDimensionColumns...)
	for _, nk := range sortedBySurrogate(first, keys) {
		row := first[nk]
		sk, _ := keys.Lookup(nk)
		out.MustAppend([]any{sk, nk, nullableString(row[nameCol])})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(ClientDimensionColumns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}

// BuildEmployeeDimension builds the employee dimension. Extraction already
// restricts employees to those assigned to qualifying projects. Missing
// seniority maps to "Unspecified", matching the source system's convention.
func BuildEmployeeDimension(employees *recordset.RecordSet, prior map[string]int64) (*Dimension, error) {
	rep := newReport("dim_employee")
	keys := NewKeyMapFrom(prior)

	idCol := employees.MustCol("employee_id")
	nameCol := employees.MustCol("full_name")
	roleCol := employees.MustCol("role")
	senCol := employees.MustCol("seniority")
	costCol := employees.MustCol("hourly_cost")

	first := make(map[string][]any)
	var naturals []any
	for _, row := range employees.Rows {
		rep.RowsIn++
		nk := recordset.Key(row[idCol])
		if nk == "" {
			rep.dropMalformed("null_natural_key")
			continue
		}
		if _, ok := first[nk]; ok {
			rep.drop("duplicate_natural_key")
			continue
		}
		if !recordset.IsNull(row[costCol]) {
			if _, err := recordset.AsFloat64(row[costCol]); err != nil {
				rep.dropMalformed("bad_hourly_cost")
				rep.warnf("employee %s: %v", nk, err)
				continue
			}
		}
		first[nk] = row
		naturals = append(naturals, row[idCol])
	}
	keys.Assign(naturals)

	out := recordset.New(EmployeeDimensionColumns...)
	for _, nk := range sortedBySurrogate(first, keys) {
		row := first[nk]
		sk, _ := keys.Lookup(nk)
		var cost any
		if !recordset.IsNull(row[costCol]) {
			c, _ := recordset.AsFloat64(row[costCol])
			cost = c
		}
		out.MustAppend([]any{
			sk, nk,
			nullableString(row[nameCol]),
			nullableString(row[roleCol]),
			recordset.CleanStringOr(row[senCol], "Unspecified"),
			cost,
		})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(EmployeeDimensionColumns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}

// BuildProjectDimension builds the project dimension, resolving each
// project's client through the client dimension's key map. A project whose
// client is absent from the client dimension is a referential violation:
// the row is dropped and counted, never given a sentinel client key.
func BuildProjectDimension(projects *recordset.RecordSet, clients *Dimension, prior map[string]int64) (*Dimension, error) {
	rep := newReport("dim_project")
	keys := NewKeyMapFrom(prior)

	idCol := projects.MustCol("project_id")
	clientCol := projects.MustCol("client_id")
	nameCol := projects.MustCol("project_name")
	verCol := projects.MustCol("version")
	statusCol := projects.MustCol("project_status")

	first := make(map[string][]any)
	var naturals []any
	for _, row := range projects.Rows {
		rep.RowsIn++
		nk := recordset.Key(row[idCol])
		if nk == "" {
			rep.dropMalformed("null_natural_key")
			continue
		}
		if _, ok := first[nk]; ok {
			rep.drop("duplicate_natural_key")
			continue
		}
		if _, ok := clients.Keys.Lookup(row[clientCol]); !ok {
			rep.dropRef("missing_client")
			rep.warnf("project %s references unknown client %s", nk, recordset.Key(row[clientCol]))
			continue
		}
		first[nk] = row
		naturals = append(naturals, row[idCol])
	}
	keys.Assign(naturals)

	out := recordset.New(ProjectDimensionColumns...)
	for _, nk := range sortedBySurrogate(first, keys) {
		row := first[nk]
		sk, _ := keys.Lookup(nk)
		clientKey, _ := clients.Keys.Lookup(row[clientCol])

		cancelled := int64(0)
		if recordset.CleanString(row[statusCol]) == "Cancelled" {
			cancelled = 1
		}
		out.MustAppend([]any{
			sk, nk,
			nullableString(row[nameCol]),
			recordset.CleanStringOr(row[verCol], "1.0"),
			cancelled,
			clientKey,
		})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(ProjectDimensionColumns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}

// sortedBySurrogate orders natural keys by their assigned surrogate so
// emission order matches key order deterministically.
func sortedBySurrogate(rows map[string][]any, keys *KeyMap) []string {
	out := make([]string, 0, len(rows))
	for nk := range rows {
		out = append(out, nk)
	}
	sortBySurrogateKeys(out, keys)
	return out
}

func sortBySurrogateKeys(nks []string, keys *KeyMap) {
	sort.Slice(nks, func(i, j int) bool {
		a, _ := keys.Lookup(nks[i])
		b, _ := keys.Lookup(nks[j])
		return a < b
	})
}

// nullableString cleans a text attribute and maps empty to nil, so the
// sink writes NULL instead of an empty string.
func nullableString(v any) any {
	if s := recordset.CleanString(v); s != "" {
		return s
	}
	return nil
}
