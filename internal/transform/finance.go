package transform

import (
	"sgpetl/internal/recordset"
)

// FinanceDimensionColumns is the declared schema of the unified financial
// dimension: expense ledger rows and contract penalty rows in one table,
// distinguished by entry_kind.
var FinanceDimensionColumns = []string{"finance_key", "source_code", "entry_kind", "category", "amount", "project_key", "date_key"}

// PenaltyCategory is the reserved category tagging penalty rows so fact
// aggregation can tell penalties apart from operating expenses.
const PenaltyCategory = "PENALTY"

// BuildFinanceDimension merges the expense ledger and the contract penalty
// ledger into one dimension. The two sources have independent id spaces, so
// natural keys are prefixed "expense:" / "penalty:". Penalty rows attach to
// a contract, not a project, and carry a null project key.
func BuildFinanceDimension(expenses, penalties *recordset.RecordSet, projects *Dimension, td *TimeDimension, prior map[string]int64) (*Dimension, error) {
	rep := newReport("dim_finance")
	keys := NewKeyMapFrom(prior)

	expID := expenses.MustCol("expense_id")
	expProj := expenses.MustCol("project_id")
	expCat := expenses.MustCol("category")
	expAmount := expenses.MustCol("amount")
	expDate := expenses.MustCol("expense_date")

	penID := penalties.MustCol("penalty_id")
	penAmount := penalties.MustCol("amount")
	penDate := penalties.MustCol("penalty_date")

	type entry struct {
		kind     string
		category any
		amount   float64
		project  any // surrogate key or nil
		dateKey  int64
	}

	first := make(map[string]entry)
	var naturals []any
	for _, row := range expenses.Rows {
		rep.RowsIn++
		id := recordset.Key(row[expID])
		if id == "" {
			rep.dropMalformed("null_natural_key")
			continue
		}
		nk := "expense:" + id
		if _, ok := first[nk]; ok {
			rep.drop("duplicate_natural_key")
			continue
		}
		projectKey, ok := projects.Keys.Lookup(row[expProj])
		if !ok {
			rep.dropRef("missing_project")
			rep.warnf("expense %s references unknown project %s", id, recordset.Key(row[expProj]))
			continue
		}
		amount, err := recordset.AsFloat64(row[expAmount])
		if err != nil {
			rep.dropMalformed("bad_amount")
			rep.warnf("expense %s: %v", id, err)
			continue
		}
		first[nk] = entry{
			kind:     "expense",
			category: recordset.CleanStringOr(row[expCat], "Uncategorized"),
			amount:   amount,
			project:  projectKey,
			dateKey:  resolveDateKey(rep, td, row[expDate]),
		}
		naturals = append(naturals, nk)
	}

	for _, row := range penalties.Rows {
		rep.RowsIn++
		id := recordset.Key(row[penID])
		if id == "" {
			rep.dropMalformed("null_natural_key")
			continue
		}
		nk := "penalty:" + id
		if _, ok := first[nk]; ok {
			rep.drop("duplicate_natural_key")
			continue
		}
		amount, err := recordset.AsFloat64(row[penAmount])
		if err != nil {
			rep.dropMalformed("bad_amount")
			rep.warnf("penalty %s: %v", id, err)
			continue
		}
		first[nk] = entry{
			kind:     "penalty",
			category: PenaltyCategory,
			amount:   amount,
			project:  nil,
			dateKey:  resolveDateKey(rep, td, row[penDate]),
		}
		naturals = append(naturals, nk)
	}
	keys.Assign(naturals)

	nks := make([]string, 0, len(first))
	for nk := range first {
		nks = append(nks, nk)
	}
	sortBySurrogateKeys(nks, keys)

	out := recordset.New(FinanceDimensionColumns...)
	for _, nk := range nks {
		e := first[nk]
		sk, _ := keys.Lookup(nk)
		out.MustAppend([]any{sk, nk, e.kind, e.category, e.amount, e.project, e.dateKey})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(FinanceDimensionColumns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}
