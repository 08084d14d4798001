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
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"
)

// Postgres is a destination reached through a pgx pool. Its schema is
// managed by the migrations package.
type Postgres struct {
	pool    *pgxpool.Pool
	ident   pgx.Identifier
	columns []string
}

var _ Warehouse = (*Postgres)(nil)

// NewConnectionPool creates a pgx pool with query tracing.
func NewConnectionPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{
		Name: "ordergate-destination",
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func OpenPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres destination requires a connection URL")
	}
	pool, err := NewConnectionPool(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to destination: %w", err)
	}
	w, err := NewPostgres(pool, cfg.Table, cfg.Columns)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, table string, columns []string) (*Postgres, error) {
	ident, err := ParseTable(table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, ident: ident, columns: columns}, nil
}

func (w *Postgres) Pool() *pgxpool.Pool { return w.pool }

func (w *Postgres) Table() string { return w.ident.Sanitize() }

func (w *Postgres) Close() error {
	w.pool.Close()
	return nil
}

// Load streams the staged CSV through COPY FROM STDIN. Records that do not
// parse or have the wrong number of fields are skipped.
func (w *Postgres) Load(ctx context.Context, req LoadRequest) (LoadOutcome, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return LoadOutcome{}, err
	}
	defer func() { _ = f.Close() }()

	src, err := newCSVRowSource(f, len(w.columns), req.LoadDate)
	if err != nil {
		return LoadOutcome{}, err
	}

	cols := append(append([]string{}, w.columns...), LoadDateColumn)
	n, err := w.pool.CopyFrom(ctx, w.ident, cols, src)
	if err != nil {
		return LoadOutcome{}, err
	}
	if src.skipped > 0 {
		slog.Debug("postgres load skipped malformed records",
			slog.String("table", w.Table()), slog.Int64("skipped", src.skipped))
	}
	return LoadOutcome{RowsLoaded: n}, nil
}

func (w *Postgres) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	res := &Result{Columns: make([]string, len(fds))}
	for i, fd := range fds {
		res.Columns[i] = fd.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, vals)
	}
	return res, rows.Err()
}

// csvRowSource adapts a CSV file to pgx.CopyFromSource, appending the load
// date to every record. Empty cells become NULL.
type csvRowSource struct {
	r        *csv.Reader
	width    int
	loadDate time.Time
	values   []any
	skipped  int64
	err      error
}

var _ pgx.CopyFromSource = (*csvRowSource)(nil)

func newCSVRowSource(r io.Reader, width int, loadDate time.Time) (*csvRowSource, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("staged file has no header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	return &csvRowSource{
		r:        cr,
		width:    width,
		loadDate: time.Date(loadDate.Year(), loadDate.Month(), loadDate.Day(), 0, 0, 0, 0, time.UTC),
		values:   make([]any, width+1),
	}, nil
}

func (s *csvRowSource) Next() bool {
	for {
		rec, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			return false
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			s.skipped++
			continue
		}
		if err != nil {
			s.err = err
			return false
		}
		if len(rec) != s.width {
			s.skipped++
			continue
		}
		for i, v := range rec {
			if v == "" {
				s.values[i] = nil
			} else {
				s.values[i] = v
			}
		}
		s.values[s.width] = s.loadDate
		return true
	}
}

func (s *csvRowSource) Values() ([]any, error) { return s.values, nil }

func (s *csvRowSource) Err() error { return s.err }
