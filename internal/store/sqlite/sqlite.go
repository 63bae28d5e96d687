// Package sqlite implements the store contract over modernc.org/sqlite.
// Mostly used for local dry runs and tests; the semantics match the server
// backends so a plan previewed here behaves the same against MySQL or
// Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"namesub/internal/store"
)

func init() {
	store.Register("sqlite", New)
}

// Repo implements store.Store for SQLite.
type Repo struct {
	db *sql.DB
}

// New opens a SQLite store. The DSN is a file path or ":memory:" URI.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases stable: every pooled
	// connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func sqlIdent(s string) string { return `"` + s + `"` }

func (r *Repo) TableColumns(ctx context.Context, table string) ([]store.ColumnMeta, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, sqlIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []store.ColumnMeta
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     sql.NullString
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols = append(cols, store.ColumnMeta{
			Name:     name,
			DataType: strings.ToLower(typ.String),
			Nullable: notNull == 0,
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
	q := fmt.Sprintf(`SELECT %s FROM %s LIMIT ?`, strings.Join(idents, ", "), sqlIdent(table))

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

	b.WriteString("SELECT ")
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
		conds = append(conds, "("+q.Where.Expr+")")
		args = append(args, q.Where.Args...)
	}
	if q.AfterKey != nil {
		conds = append(conds, sqlIdent(q.KeyColumn)+" > ?")
		args = append(args, q.AfterKey)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(sqlIdent(q.KeyColumn))
	b.WriteString(" LIMIT ?")
	args = append(args, q.Limit)

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
		q := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`,
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
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, sqlIdent(table))
	if !where.Empty() {
		q += " WHERE " + where.Expr
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, q, where.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) GroupCount(ctx context.Context, table, column string, where store.Predicate) (map[string]int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s, COUNT(*) FROM %s`, sqlIdent(column), sqlIdent(table))
	if !where.Empty() {
		b.WriteString(" WHERE ")
		b.WriteString(where.Expr)
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

// Transient reports lock contention: SQLITE_BUSY and SQLITE_LOCKED, in their
// base and extended forms.
func (r *Repo) Transient(err error) bool {
	var se *sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return true
	}
	return false
}
