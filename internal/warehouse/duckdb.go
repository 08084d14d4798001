// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cardinalhq/ordergate/internal/duckdbx"
)

// DuckDB is an embedded destination backed by a DuckDB file.
type DuckDB struct {
	db      *duckdbx.DB
	table   string
	columns []string
}

var _ Warehouse = (*DuckDB)(nil)

// OpenDuckDB opens the database and creates the destination table if it
// does not exist yet.
func OpenDuckDB(ctx context.Context, cfg Config) (*DuckDB, error) {
	ident, err := ParseTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(cfg.Columns); err != nil {
		return nil, err
	}

	opts := []duckdbx.Option{duckdbx.WithSettings(cfg.DuckDBSettings)}
	if cfg.DuckDBPath != "" {
		opts = append(opts, duckdbx.WithDatabasePath(cfg.DuckDBPath))
	}
	if cfg.MetricsPeriod > 0 {
		opts = append(opts, duckdbx.WithMetrics(cfg.MetricsPeriod), duckdbx.WithMetricsContext(ctx))
	}
	db, err := duckdbx.Open(opts...)
	if err != nil {
		return nil, err
	}

	w := &DuckDB{db: db, table: ident.Sanitize(), columns: cfg.Columns}
	if err := w.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *DuckDB) Table() string { return w.table }

func (w *DuckDB) Close() error { return w.db.Close() }

func (w *DuckDB) ensureTable(ctx context.Context) error {
	defs := make([]string, 0, len(w.columns)+1)
	for _, c := range quoteColumns(w.columns) {
		defs = append(defs, c+" VARCHAR")
	}
	defs = append(defs, LoadDateColumn+" DATE NOT NULL")

	conn, release, err := w.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer release()

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", w.table, strings.Join(defs, ", "))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create destination table: %w", err)
	}
	return nil
}

// loadSQL builds the error-tolerant CSV insert. The file path is a literal
// because read_csv does not take bound parameters.
func (w *DuckDB) loadSQL(path string) string {
	quoted := quoteColumns(w.columns)
	types := make([]string, len(w.columns))
	for i, c := range w.columns {
		types[i] = fmt.Sprintf("'%s': 'VARCHAR'", duckdbx.EscapeSingle(c))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s, %s) SELECT %s, CAST($1 AS DATE) FROM read_csv('%s', header=true, delim=',', quote='\"', columns={%s}, ignore_errors=true)",
		w.table,
		strings.Join(quoted, ", "), LoadDateColumn,
		strings.Join(quoted, ", "),
		duckdbx.EscapeSingle(path),
		strings.Join(types, ", "),
	)
}

func (w *DuckDB) Load(ctx context.Context, req LoadRequest) (LoadOutcome, error) {
	conn, release, err := w.db.Conn(ctx)
	if err != nil {
		return LoadOutcome{}, fmt.Errorf("get duckdb connection: %w", err)
	}
	defer release()

	res, err := conn.ExecContext(ctx, w.loadSQL(req.Path), DateArg(req.LoadDate))
	if err != nil {
		return LoadOutcome{}, err
	}
	return w.loadOutcome(res), nil
}

// loadOutcome reads the affected row count of a committed load. The rows
// are already in the table, so a failure here must not fail the load.
func (w *DuckDB) loadOutcome(res sql.Result) LoadOutcome {
	n, err := res.RowsAffected()
	if err != nil {
		slog.Warn("duckdb load committed without a row count",
			slog.String("table", w.table), slog.Any("error", err))
		return LoadOutcome{RowsLoaded: RowsUnknown}
	}
	slog.Debug("duckdb load complete", slog.String("table", w.table), slog.Int64("rows", n))
	return LoadOutcome{RowsLoaded: n}
}

func (w *DuckDB) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	conn, release, err := w.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("get duckdb connection: %w", err)
	}
	defer release()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectSQLRows(rows)
}

func collectSQLRows(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res.Records = append(res.Records, vals)
	}
	return res, rows.Err()
}
