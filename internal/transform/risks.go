package transform

import (
	"sgpetl/internal/recordset"
)

var (
	RiskTypeDimensionColumns = []string{"risk_type_key", "type_name"}
	SeverityDimensionColumns = []string{"severity_key", "level_name"}
	RiskDimensionColumns     = []string{"risk_key", "risk_code", "project_key", "risk_type_key", "severity_key"}
)

// BuildRiskTypeDimension enumerates the distinct risk-type labels found in
// the risk records, sorted and keyed from 1.
func BuildRiskTypeDimension(risks *recordset.RecordSet, prior map[string]int64) (*Dimension, error) {
	return buildLabelDimension("dim_risk_type", RiskTypeDimensionColumns, risks, "risk_type", prior)
}

// BuildSeverityDimension enumerates the distinct severity labels.
func BuildSeverityDimension(risks *recordset.RecordSet, prior map[string]int64) (*Dimension, error) {
	return buildLabelDimension("dim_severity", SeverityDimensionColumns, risks, "severity", prior)
}

// buildLabelDimension is the shared shape of the two label catalogs: one
// row per distinct non-empty label in a single source column.
func buildLabelDimension(table string, columns []string, src *recordset.RecordSet, column string, prior map[string]int64) (*Dimension, error) {
	rep := newReport(table)
	keys := NewKeyMapFrom(prior)

	col := src.MustCol(column)
	seen := make(map[string]struct{})
	var naturals []any
	for _, row := range src.Rows {
		rep.RowsIn++
		label := recordset.CleanString(row[col])
		if label == "" {
			rep.drop("empty_label")
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		naturals = append(naturals, label)
	}
	keys.Assign(naturals)

	nks := make([]string, 0, len(seen))
	for label := range seen {
		nks = append(nks, label)
	}
	sortBySurrogateKeys(nks, keys)

	out := recordset.New(columns...)
	for _, label := range nks {
		sk, _ := keys.Lookup(label)
		out.MustAppend([]any{sk, label})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(columns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}

// BuildRiskDimension builds the risk dimension, resolving each record
// through the project, risk-type and severity key maps. A risk with an
// empty type or severity label cannot be classified and is dropped.
func BuildRiskDimension(risks *recordset.RecordSet, projects, riskTypes, severities *Dimension, prior map[string]int64) (*Dimension, error) {
	rep := newReport("dim_risk")
	keys := NewKeyMapFrom(prior)

	idCol := risks.MustCol("risk_id")
	projCol := risks.MustCol("project_id")
	typeCol := risks.MustCol("risk_type")
	sevCol := risks.MustCol("severity")

	first := make(map[string][]any)
	var naturals []any
	for _, row := range risks.Rows {
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
		if _, ok := projects.Keys.Lookup(row[projCol]); !ok {
			rep.dropRef("missing_project")
			rep.warnf("risk %s references unknown project %s", nk, recordset.Key(row[projCol]))
			continue
		}
		if _, ok := riskTypes.Keys.Lookup(recordset.CleanString(row[typeCol])); !ok {
			rep.dropMalformed("unclassified_type")
			continue
		}
		if _, ok := severities.Keys.Lookup(recordset.CleanString(row[sevCol])); !ok {
			rep.dropMalformed("unclassified_severity")
			continue
		}
		first[nk] = row
		naturals = append(naturals, row[idCol])
	}
	keys.Assign(naturals)

	out := recordset.New(RiskDimensionColumns...)
	for _, nk := range sortedBySurrogate(first, keys) {
		row := first[nk]
		sk, _ := keys.Lookup(nk)
		projectKey, _ := projects.Keys.Lookup(row[projCol])
		typeKey, _ := riskTypes.Keys.Lookup(recordset.CleanString(row[typeCol]))
		sevKey, _ := severities.Keys.Lookup(recordset.CleanString(row[sevCol]))
		out.MustAppend([]any{sk, nk, projectKey, typeKey, sevKey})
	}
	rep.RowsOut = out.Len()

	if err := out.AssertSchema(RiskDimensionColumns); err != nil {
		return nil, err
	}
	return &Dimension{Table: out, Keys: keys, Report: rep}, nil
}
