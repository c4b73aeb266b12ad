// Package postgres implements storage.Repository on a Postgres pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spotifyetl/internal/storage"
)

type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
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

func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	if _, err := r.pool.Exec(ctx, storage.CreateTableSQL(spec, translateType)); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// ReplaceRows swaps table contents transactionally: DELETE then a bulk
// COPY of the new rows. Readers on the same connection pool never see a
// half-loaded table.
func (r *Repo) ReplaceRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+storage.SQLIdent(table)); err != nil {
		return 0, fmt.Errorf("clear table %s: %w", table, err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// translateType maps the generic DDL dialect onto Postgres. Postgres has
// no TINYINT and spells DOUBLE as DOUBLE PRECISION; the narrower integer
// tiers widen to the nearest native type.
func translateType(generic string) string {
	switch strings.ToUpper(generic) {
	case "TINYINT", "SMALLINT":
		return "SMALLINT"
	case "INT":
		return "INTEGER"
	case "DOUBLE":
		return "DOUBLE PRECISION"
	default:
		return generic
	}
}
