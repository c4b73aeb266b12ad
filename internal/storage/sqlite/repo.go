// Package sqlite implements storage.Repository on an embedded SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"spotifyetl/internal/storage"
)

// insertChunkRows bounds rows per INSERT so the bind-variable count stays
// well under SQLite's limit for any plausible column count.
const insertChunkRows = 100

type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
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

// EnsureTable creates the table if missing. SQLite ignores the width of
// VARCHAR and treats TINYINT/DOUBLE as INTEGER/REAL affinity, so the
// generic DDL runs unchanged.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	if _, err := r.db.ExecContext(ctx, storage.CreateTableSQL(spec, nil)); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// ReplaceRows deletes the table's contents and inserts rows inside one
// transaction. DELETE keeps the table's declared column types; dropping
// and recreating would lose them.
func (r *Repo) ReplaceRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+storage.SQLIdent(table)); err != nil {
		return 0, fmt.Errorf("clear table %s: %w", table, err)
	}

	var inserted int64
	for start := 0; start < len(rows); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// buildInsertSQL constructs one multi-row INSERT and its args. Pure, so
// placeholder layout is testable without a database.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(storage.SQLIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(storage.SQLIdent(c))
	}
	b.WriteString(") VALUES ")

	rowPh := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(rowPh)
		args = append(args, row...)
	}

	return b.String(), args
}
