package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sgpetl/internal/recordset"
	"sgpetl/internal/warehouse"
)

// maxBindVars keeps batched inserts well under the protocol's parameter
// limit of 65535.
const maxBindVars = 16000

// Sink implements warehouse.Sink for PostgreSQL on a pgx pool.
type Sink struct {
	pool *pgxpool.Pool
}

func init() {
	warehouse.Register("postgres", New)
}

func New(ctx context.Context, cfg warehouse.Config) (warehouse.Sink, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Sink{pool: pool}, nil
}

func (s *Sink) Close() { s.pool.Close() }

func (s *Sink) EnsureTables(ctx context.Context, tables []warehouse.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Sink) Load(ctx context.Context, table warehouse.TableSpec, rs *recordset.RecordSet, mode warehouse.WriteMode) (int64, error) {
	if err := warehouse.ValidateColumns(table, rs); err != nil {
		return 0, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if mode == warehouse.Replace {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+sqlIdent(table.Name)); err != nil {
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
		for i, row := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j := range row {
				if j > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "$%d", len(args)+j+1)
			}
			b.WriteString(")")
			args = append(args, row...)
		}

		tag, err := tx.Exec(ctx, b.String(), args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table.Name, err)
		}
		written += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return written, nil
}

func (s *Sink) Truncate(ctx context.Context, tables ...string) error {
	for _, t := range tables {
		if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+sqlIdent(t)); err != nil {
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
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
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
	rows, err := s.pool.Query(ctx, q)
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
		var id int64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		out[recordset.Key(k)] = id
	}
	return out, rows.Err()
}

func buildCreateSQL(t warehouse.TableSpec) (string, error) {
	var defs []string
	for _, c := range t.Columns {
		typ, err := pgType(c.Type)
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

func pgType(generic string) (string, error) {
	switch generic {
	case "bigint":
		return "BIGINT", nil
	case "double":
		return "DOUBLE PRECISION", nil
	case "text":
		return "TEXT", nil
	case "date":
		return "DATE", nil
	default:
		return "", fmt.Errorf("unsupported generic type %q", generic)
	}
}

func sqlIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// missingTable reports SQLSTATE 42P01 (undefined_table).
func missingTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
