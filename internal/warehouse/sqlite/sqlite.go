package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sgpetl/internal/recordset"
	"sgpetl/internal/warehouse"
)

// maxBindVars keeps batched inserts under SQLite's default variable limit.
const maxBindVars = 900

// Sink implements warehouse.Sink for SQLite. Dates are stored as
// "2006-01-02" TEXT: SQLite has no native date type and the plain layout
// round-trips cleanly and stays readable in ad-hoc queries.
type Sink struct {
	db *sql.DB
}

func init() {
	warehouse.Register("sqlite", New)
}

func New(ctx context.Context, cfg warehouse.Config) (warehouse.Sink, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Close() { _ = s.db.Close() }

func (s *Sink) EnsureTables(ctx context.Context, tables []warehouse.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Sink) Load(ctx context.Context, table warehouse.TableSpec, rs *recordset.RecordSet, mode warehouse.WriteMode) (int64, error) {
	if err := warehouse.ValidateColumns(table, rs); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if mode == warehouse.Replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(table.Name)); err != nil {
			return 0, fmt.Errorf("truncate %s: %w", table.Name, err)
		}
	}

	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = sqlIdent(c.Name)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", sqlIdent(table.Name), strings.Join(cols, ", "))

	var written int64
	batch := maxBindVars / len(table.Columns)
	if batch < 1 {
		batch = 1
	}
	for start := 0; start < rs.Len(); start += batch {
		end := start + batch
		if end > rs.Len() {
			end = rs.Len()
		}
		chunk := rs.Rows[start:end]

		var b strings.Builder
		b.WriteString(prefix)
		args := make([]any, 0, len(chunk)*len(table.Columns))
		tuple := "(" + strings.TrimRight(strings.Repeat("?,", len(table.Columns)), ",") + ")"
		for i, row := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(tuple)
			for _, v := range row {
				args = append(args, bindValue(v))
			}
		}

		res, err := tx.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table.Name, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func (s *Sink) Truncate(ctx context.Context, tables ...string) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+sqlIdent(t)); err != nil {
			if missingTable(err) {
				continue
			}
			return fmt.Errorf("truncate %s: %w", t, err)
		}
	}
	return nil
}

func (s *Sink) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
	if err != nil {
		if missingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (s *Sink) SelectKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s", sqlIdent(keyColumn), sqlIdent(valueColumn), sqlIdent(table))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		if missingTable(err) {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var k any
		var id sql.NullInt64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		if !id.Valid {
			return nil, fmt.Errorf("sqlite: %s.%s is NULL", table, valueColumn)
		}
		out[recordset.Key(k)] = id.Int64
	}
	return out, rows.Err()
}

func buildCreateSQL(t warehouse.TableSpec) (string, error) {
	var defs []string
	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		def := sqlIdent(c.Name) + " " + typ
		if t.PrimaryKey == c.Name {
			def += " PRIMARY KEY"
		} else if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(defs, ", ")), nil
}

func sqliteType(generic string) (string, error) {
	switch generic {
	case "bigint":
		return "INTEGER", nil
	case "double":
		return "REAL", nil
	case "text":
		return "TEXT", nil
	case "date":
		return "TEXT", nil
	default:
		return "", fmt.Errorf("unsupported generic type %q", generic)
	}
}

func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format("2006-01-02")
	}
	return v
}

func sqlIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// missingTable matches the driver's "no such table" error text. The probe
// and truncate paths treat an absent table as empty rather than fatal.
func missingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
