// Package mssql implements the store contract over microsoft/go-mssqldb.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"namesub/internal/store"
)

func init() {
	store.Register("mssql", New)
}

// Repo implements store.Store for SQL Server.
type Repo struct {
	db *sql.DB
}

// New opens a SQL Server store. The DSN is a sqlserver:// URL or ADO string.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func sqlIdent(s string) string { return "[" + s + "]" }

// rebind rewrites '?' placeholders to the driver's @pN form, numbering from
// next. Predicates never carry '?' inside literals; values always travel as
// parameters.
func rebind(expr string, next int) (string, int) {
	var b strings.Builder
	for _, r := range expr {
		if r == '?' {
			fmt.Fprintf(&b, "@p%d", next)
			next++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), next
}

func (r *Repo) TableColumns(ctx context.Context, table string) ([]store.ColumnMeta, error) {
	const q = `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_NAME = @p1
ORDER BY ORDINAL_POSITION`

	rows, err := r.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []store.ColumnMeta
	for rows.Next() {
		var name, typ, nullable string
		if err := rows.Scan(&name, &typ, &nullable); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols = append(cols, store.ColumnMeta{
			Name:     name,
			DataType: strings.ToLower(typ),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("describe %s: table not found", table)
	}
	return cols, nil
}

func (r *Repo) SampleRows(ctx context.Context, table string, columns []string, limit int) (store.Sample, error) {
	idents := make([]string, len(columns))
	for i, c := range columns {
		idents[i] = sqlIdent(c)
	}
	q := fmt.Sprintf(`SELECT TOP (@p1) %s FROM %s`, strings.Join(idents, ", "), sqlIdent(table))

	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return store.Sample{}, fmt.Errorf("sample %s: %w", table, err)
	}
	defer rows.Close()

	out := store.Sample{Columns: columns}
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return store.Sample{}, fmt.Errorf("sample %s: %w", table, err)
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, rows.Err()
}

func (r *Repo) FetchChunk(ctx context.Context, q store.ChunkQuery) ([]store.Row, error) {
	var b strings.Builder
	args := make([]any, 0, 8)
	next := 1

	// TOP takes the limit; ORDER BY the key column keeps chunks disjoint.
	b.WriteString("SELECT TOP (@p1) ")
	args = append(args, q.Limit)
	next++

	b.WriteString(sqlIdent(q.KeyColumn))
	b.WriteString(", ")
	b.WriteString(sqlIdent(q.GenderColumn))
	for _, c := range q.NameColumns {
		b.WriteString(", ")
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqlIdent(q.Table))

	conds := make([]string, 0, 2)
	if !q.Where.Empty() {
		expr, n := rebind(q.Where.Expr, next)
		next = n
		conds = append(conds, "("+expr+")")
		args = append(args, q.Where.Args...)
	}
	if q.AfterKey != nil {
		conds = append(conds, fmt.Sprintf("%s > @p%d", sqlIdent(q.KeyColumn), next))
		next++
		args = append(args, q.AfterKey)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s", sqlIdent(q.KeyColumn))

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk from %s: %w", q.Table, err)
	}
	defer rows.Close()

	var out []store.Row
	for rows.Next() {
		row := store.Row{Names: make([]any, len(q.NameColumns))}
		ptrs := make([]any, 0, 2+len(q.NameColumns))
		ptrs = append(ptrs, &row.Key, &row.Gender)
		for i := range row.Names {
			ptrs = append(ptrs, &row.Names[i])
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("fetch chunk from %s: %w", q.Table, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repo) ApplyAssignments(ctx context.Context, table, keyColumn string, assigns []store.Assignment) error {
	if len(assigns) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range assigns {
		q := fmt.Sprintf("UPDATE %s SET %s = @p1 WHERE %s = @p2",
			sqlIdent(table), sqlIdent(a.Column), sqlIdent(keyColumn))
		if _, err := tx.ExecContext(ctx, q, a.Value, a.Key); err != nil {
			return fmt.Errorf("update %s key=%v: %w", table, a.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repo) CountMatching(ctx context.Context, table string, where store.Predicate) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", sqlIdent(table))
	if !where.Empty() {
		expr, _ := rebind(where.Expr, 1)
		q += " WHERE " + expr
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, q, where.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) GroupCount(ctx context.Context, table, column string, where store.Predicate) (map[string]int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, COUNT(*) FROM %s", sqlIdent(column), sqlIdent(table))
	if !where.Empty() {
		expr, _ := rebind(where.Expr, 1)
		b.WriteString(" WHERE ")
		b.WriteString(expr)
	}
	fmt.Fprintf(&b, " GROUP BY %s", sqlIdent(column))

	rows, err := r.db.QueryContext(ctx, b.String(), where.Args...)
	if err != nil {
		return nil, fmt.Errorf("group count %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			v sql.NullString
			n int64
		)
		if err := rows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("group count %s.%s: %w", table, column, err)
		}
		out[v.String] = n // NULL groups land under ""
	}
	return out, rows.Err()
}

// Transient reports deadlock victims (1205) and lock request timeouts (1222).
func (r *Repo) Transient(err error) bool {
	var me mssql.Error
	if !errors.As(err, &me) {
		return false
	}
	switch me.Number {
	case 1205, 1222:
		return true
	}
	return false
}
