package sqldb

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"

	"flood_etl/internal/domain"
	"flood_etl/internal/table"
)

// rowColumn holds each row's position so reads come back in write order. It
// is never reported as part of a table's schema.
const rowColumn = "_row"

// keeps a multi-row INSERT under SQLite's default host parameter limit
const maxParams = 900

// TableStore keeps each table as a SQL table of TEXT columns. NULL is the
// absent marker.
type TableStore struct {
	db *sqlx.DB
	tx *TransactionManager
}

func NewTableStore(db *sqlx.DB, tx *TransactionManager) *TableStore {
	return &TableStore{db: db, tx: tx}
}

func (s *TableStore) Read(ctx context.Context, name string) (domain.Table, error) {
	exists, err := s.exists(ctx, name)
	if err != nil {
		return domain.Table{}, err
	}
	if !exists {
		return domain.Table{}, table.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s`, quoteIdent(name), quoteIdent(rowColumn))
	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx, query)
	if err != nil {
		return domain.Table{}, fmt.Errorf("select %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return domain.Table{}, fmt.Errorf("columns of %s: %w", name, err)
	}

	t := domain.Table{Columns: slices.DeleteFunc(slices.Clone(cols), func(c string) bool { return c == rowColumn })}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return domain.Table{}, fmt.Errorf("scan %s: %w", name, err)
		}

		row := make(domain.Record, len(cols))
		for i, v := range vals {
			if cols[i] == rowColumn {
				continue
			}
			if text, ok := cellText(v); ok {
				row[cols[i]] = text
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return domain.Table{}, fmt.Errorf("iterate %s: %w", name, err)
	}
	return t, nil
}

// Replace drops and recreates the table inside one transaction.
func (s *TableStore) Replace(ctx context.Context, name string, t domain.Table) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		ex := GetExecutor(ctx, s.db)

		if _, err := ex.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(name))); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		if _, err := ex.ExecContext(ctx, createStatement(name, t.Columns)); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}

		perStmt := max(1, maxParams/(len(t.Columns)+1))
		for start := 0; start < len(t.Rows); start += perStmt {
			end := min(start+perStmt, len(t.Rows))
			query, args := s.insertStatement(name, t.Columns, t.Rows[start:end], start)
			if _, err := ex.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert into %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *TableStore) exists(ctx context.Context, name string) (bool, error) {
	var (
		query string
		arg   string
	)
	switch s.db.DriverName() {
	case DriverSQLite:
		query = `SELECT count(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = ?`
		arg = name
	default:
		query = `SELECT to_regclass($1) IS NOT NULL`
		arg = quoteIdent(name)
	}

	var exists bool
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists, query, arg); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return exists, nil
}

func createStatement(name string, columns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (%s INTEGER NOT NULL", quoteIdent(name), quoteIdent(rowColumn))
	for _, c := range columns {
		fmt.Fprintf(&b, ", %s TEXT", quoteIdent(c))
	}
	b.WriteString(")")
	return b.String()
}

func (s *TableStore) insertStatement(name string, columns []string, rows []domain.Record, offset int) (string, []any) {
	quoted := make([]string, 0, len(columns)+1)
	quoted = append(quoted, quoteIdent(rowColumn))
	for _, c := range columns {
		quoted = append(quoted, quoteIdent(c))
	}
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(quoted)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteIdent(name), strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(quoted))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)

		args = append(args, offset+i)
		for _, c := range columns {
			if text, ok := domain.FormatCell(row[c]); ok {
				args = append(args, text)
			} else {
				args = append(args, nil)
			}
		}
	}
	return s.db.Rebind(b.String()), args
}

func cellText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case []byte:
		return string(t), len(t) > 0
	}
	return domain.FormatCell(v)
}
