// Package postgres implements the store contract over jackc/pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"namesub/internal/store"
)

func init() {
	store.Register("postgres", New)
}

// Repo implements store.Store for PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New opens a Postgres store. The DSN is a pgx connection string or URL.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func sqlIdent(s string) string { return `"` + s + `"` }

// rebind rewrites '?' placeholders to pgx's positional $n form, numbering
// from next. Predicates never carry '?' inside literals; values always
// travel as parameters.
func rebind(expr string, next int) (string, int) {
	var b strings.Builder
	for _, r := range expr {
		if r == '?' {
			fmt.Fprintf(&b, "$%d", next)
			next++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), next
}

func (r *Repo) TableColumns(ctx context.Context, table string) ([]store.ColumnMeta, error) {
	const q = `SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

	rows, err := r.pool.Query(ctx, q, table)
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
	q := fmt.Sprintf(`SELECT %s FROM %s LIMIT $1`, strings.Join(idents, ", "), sqlIdent(table))

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return store.Sample{}, fmt.Errorf("sample %s: %w", table, err)
	}
	defer rows.Close()

	out := store.Sample{Columns: columns}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
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
		expr, n := rebind(q.Where.Expr, next)
		next = n
		conds = append(conds, "("+expr+")")
		args = append(args, q.Where.Args...)
	}
	if q.AfterKey != nil {
		conds = append(conds, fmt.Sprintf("%s > $%d", sqlIdent(q.KeyColumn), next))
		next++
		args = append(args, q.AfterKey)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT $%d", sqlIdent(q.KeyColumn), next)
	args = append(args, q.Limit)

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk from %s: %w", q.Table, err)
	}
	defer rows.Close()

	var out []store.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("fetch chunk from %s: %w", q.Table, err)
		}
		out = append(out, store.Row{Key: vals[0], Gender: vals[1], Names: vals[2:]})
	}
	return out, rows.Err()
}

// ApplyAssignments pipelines all updates in one batch inside one
// transaction; the whole chunk commits or none of it does.
func (r *Repo) ApplyAssignments(ctx context.Context, table, keyColumn string, assigns []store.Assignment) error {
	if len(assigns) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, a := range assigns {
		q := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`,
			sqlIdent(table), sqlIdent(a.Column), sqlIdent(keyColumn))
		batch.Queue(q, a.Value, a.Key)
	}

	br := tx.SendBatch(ctx, batch)
	for _, a := range assigns {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("update %s key=%v: %w", table, a.Key, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("batch close: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repo) CountMatching(ctx context.Context, table string, where store.Predicate) (int64, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, sqlIdent(table))
	if !where.Empty() {
		expr, _ := rebind(where.Expr, 1)
		q += " WHERE " + expr
	}
	var n int64
	if err := r.pool.QueryRow(ctx, q, where.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) GroupCount(ctx context.Context, table, column string, where store.Predicate) (map[string]int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s::text, COUNT(*) FROM %s`, sqlIdent(column), sqlIdent(table))
	if !where.Empty() {
		expr, _ := rebind(where.Expr, 1)
		b.WriteString(" WHERE ")
		b.WriteString(expr)
	}
	fmt.Fprintf(&b, " GROUP BY %s", sqlIdent(column))

	rows, err := r.pool.Query(ctx, b.String(), where.Args...)
	if err != nil {
		return nil, fmt.Errorf("group count %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			v *string
			n int64
		)
		if err := rows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("group count %s.%s: %w", table, column, err)
		}
		key := ""
		if v != nil {
			key = *v
		}
		out[key] = n // NULL groups land under ""
	}
	return out, rows.Err()
}

// Transient reports serialization failures (40001), deadlocks (40P01) and
// lock-not-available (55P03).
func (r *Repo) Transient(err error) bool {
	var pe *pgconn.PgError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}
