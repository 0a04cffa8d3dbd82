package extract

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"sgpetl/internal/recordset"
)

// SQLExtractor implements Extractor against the operational schema using
// database/sql. The inclusion rule lives in each query's WHERE clause; the
// optional watermark narrows projects (and only projects, matching the
// source system's change tracking) to rows modified after it.
type SQLExtractor struct {
	db        *sql.DB
	driver    string
	watermark time.Time // zero = full extraction
}

// Open connects to the source store and validates connectivity. A failure
// here is a connectivity failure: fatal before any stage executes.
func Open(ctx context.Context, driver, dsn string) (*SQLExtractor, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("source ping: %w", err)
	}
	return &SQLExtractor{db: db, driver: driver}, nil
}

// ph returns the n-th bind placeholder in the dialect of the configured
// driver.
func (e *SQLExtractor) ph(n int) string {
	switch e.driver {
	case "pgx":
		return fmt.Sprintf("$%d", n)
	case "sqlserver":
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// Close releases the source connection.
func (e *SQLExtractor) Close() { _ = e.db.Close() }

// SetWatermark switches the extractor to incremental mode: only project
// rows modified after ts are returned.
func (e *SQLExtractor) SetWatermark(ts time.Time) { e.watermark = ts }

// qualifying is the authoritative inclusion predicate, aliased for the
// project (p) and contract (c) joined in every query.
const qualifying = `(p.status IN ('Terminated', 'Cancelled') OR c.status IN ('Terminated', 'Cancelled'))`

func (e *SQLExtractor) Clients(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT DISTINCT cl.client_id, cl.client_name
FROM clients cl
INNER JOIN contracts c ON cl.client_id = c.client_id
WHERE c.status IN ('Terminated', 'Cancelled')
ORDER BY cl.client_id`
	return e.query(ctx, q, ClientColumns)
}

func (e *SQLExtractor) Employees(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT DISTINCT e.employee_id, e.full_name, e.role, e.seniority, e.hourly_cost
FROM employees e
INNER JOIN assignments a ON e.employee_id = a.employee_id
INNER JOIN projects p ON a.project_id = p.project_id
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying + `
ORDER BY e.employee_id`
	return e.query(ctx, q, EmployeeColumns)
}

func (e *SQLExtractor) Contracts(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT contract_id, client_id, total_value, status
FROM contracts
WHERE status IN ('Terminated', 'Cancelled')
ORDER BY contract_id`
	return e.query(ctx, q, ContractColumns)
}

func (e *SQLExtractor) Projects(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT p.project_id, p.contract_id, c.client_id, p.project_name, p.version,
    p.start_date, p.end_date, p.status, c.status, c.total_value,
    CASE WHEN p.status IN ('Terminated', 'Cancelled') THEN 'project' ELSE 'contract' END
FROM projects p
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying
	var args []any
	if !e.watermark.IsZero() {
		q += fmt.Sprintf(" AND (p.modified_at > %s OR p.created_at > %s)", e.ph(1), e.ph(2))
		args = append(args, e.watermark, e.watermark)
	}
	q += ` ORDER BY p.project_id`
	return e.query(ctx, q, ProjectColumns, args...)
}

func (e *SQLExtractor) Milestones(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT m.milestone_id, m.project_id, m.description, m.status,
    m.start_date, m.planned_finish_date, m.real_finish_date
FROM milestones m
INNER JOIN projects p ON m.project_id = p.project_id
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying + `
ORDER BY m.project_id, m.milestone_id`
	return e.query(ctx, q, MilestoneColumns)
}

func (e *SQLExtractor) Tasks(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT t.task_id, t.milestone_id, m.project_id, t.task_name, t.status,
    t.planned_days, t.actual_days
FROM tasks t
INNER JOIN milestones m ON t.milestone_id = m.milestone_id
INNER JOIN projects p ON m.project_id = p.project_id
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying + `
ORDER BY m.project_id, t.milestone_id, t.task_id`
	return e.query(ctx, q, TaskColumns)
}

func (e *SQLExtractor) Assignments(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT a.assignment_id, a.project_id, a.employee_id,
    a.planned_hours, a.actual_hours, a.assignment_date
FROM assignments a
INNER JOIN projects p ON a.project_id = p.project_id
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying + `
ORDER BY a.project_id, a.assignment_date`
	return e.query(ctx, q, AssignmentColumns)
}

func (e *SQLExtractor) Tests(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT ts.test_id, ts.milestone_id, m.project_id, ts.test_type, ts.test_date, ts.passed
FROM tests ts
INNER JOIN milestones m ON ts.milestone_id = m.milestone_id
INNER JOIN projects p ON m.project_id = p.project_id
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying + `
ORDER BY m.project_id, ts.milestone_id, ts.test_date`
	return e.query(ctx, q, TestColumns)
}

func (e *SQLExtractor) Errors(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT er.error_id, er.task_id, t.milestone_id, m.project_id, er.error_type, er.error_date
FROM errors er
INNER JOIN tasks t ON er.task_id = t.task_id
INNER JOIN milestones m ON t.milestone_id = m.milestone_id
INNER JOIN projects p ON m.project_id = p.project_id
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying + `
ORDER BY m.project_id, er.error_date`
	return e.query(ctx, q, ErrorColumns)
}

func (e *SQLExtractor) Risks(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT r.risk_id, r.project_id, r.risk_type, r.severity, r.registered_date
FROM risks r
INNER JOIN projects p ON r.project_id = p.project_id
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying + `
ORDER BY r.project_id, r.registered_date`
	return e.query(ctx, q, RiskColumns)
}

func (e *SQLExtractor) Expenses(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT g.expense_id, g.project_id, g.expense_type, g.category, g.amount, g.expense_date
FROM expenses g
INNER JOIN projects p ON g.project_id = p.project_id
INNER JOIN contracts c ON p.contract_id = c.contract_id
WHERE ` + qualifying + `
ORDER BY g.project_id, g.expense_date`
	return e.query(ctx, q, ExpenseColumns)
}

func (e *SQLExtractor) Penalties(ctx context.Context) (*recordset.RecordSet, error) {
	q := `SELECT pn.penalty_id, pn.contract_id, c.client_id, pn.amount, pn.reason, pn.penalty_date
FROM penalties pn
INNER JOIN contracts c ON pn.contract_id = c.contract_id
WHERE c.status IN ('Terminated', 'Cancelled')
ORDER BY pn.contract_id, pn.penalty_date`
	return e.query(ctx, q, PenaltyColumns)
}

// query runs a statement and materializes the rows under the canonical
// column headers. []byte values are copied to strings so rows stay valid
// after the driver reuses its buffers.
func (e *SQLExtractor) query(ctx context.Context, q string, columns []string, args ...any) (*recordset.RecordSet, error) {
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := recordset.New(columns...)
	for rows.Next() {
		vals := make([]any, len(columns))
		scan := make([]any, len(columns))
		for i := range vals {
			scan[i] = &vals[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		if err := out.Append(vals); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}
