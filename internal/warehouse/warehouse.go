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

// Package warehouse admits staged files into the destination dataset and
// answers count queries against it.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/ordergate/internal/duckdbx"
)

// LoadDateColumn is appended to every admitted row.
const LoadDateColumn = "load_date"

const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// LoadRequest asks a Loader to admit one staged file.
type LoadRequest struct {
	Path     string
	LoadDate time.Time
}

// RowsUnknown marks a load whose row count the destination could not report.
const RowsUnknown int64 = -1

// LoadOutcome is what the destination reports after an admission.
// RowsLoaded is RowsUnknown when the rows were committed but not counted.
type LoadOutcome struct {
	RowsLoaded int64
}

// Loader issues the destination's bulk admission. Malformed rows are
// skipped rather than failing the load.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (LoadOutcome, error)
}

// Querier runs a read query and returns its rows as a Result. Parameters
// use $1-style placeholders.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (*Result, error)
}

// Warehouse is a destination dataset.
type Warehouse interface {
	Loader
	Querier
	// Table is the sanitized destination table identifier.
	Table() string
	Close() error
}

type Config struct {
	Driver  string
	Table   string
	Columns []string

	// DuckDB
	DuckDBPath     string
	DuckDBSettings duckdbx.Settings
	MetricsPeriod  time.Duration

	// Postgres
	URL string
}

// Open connects to the configured destination.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	switch cfg.Driver {
	case DriverDuckDB, "":
		return OpenDuckDB(ctx, cfg)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported destination driver: %s", cfg.Driver)
	}
}

var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseTable splits an optionally schema-qualified table name.
func ParseTable(name string) (pgx.Identifier, error) {
	if name == "" {
		return nil, errors.New("destination table is required")
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	for _, p := range parts {
		if !identPart.MatchString(p) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return pgx.Identifier(parts), nil
}

func checkColumns(cols []string) error {
	if len(cols) == 0 {
		return errors.New("destination columns are required")
	}
	for _, c := range cols {
		if !identPart.MatchString(c) {
			return fmt.Errorf("invalid column name %q", c)
		}
		if c == LoadDateColumn {
			return fmt.Errorf("column %q is reserved", LoadDateColumn)
		}
	}
	return nil
}

func quoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return out
}

// CountByLoadDateSQL counts the rows admitted for one load date. The date is
// bound as $1 in YYYY-MM-DD form.
func CountByLoadDateSQL(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = CAST($1 AS DATE)", table, LoadDateColumn)
}

// DateArg formats t for a CAST($n AS DATE) parameter.
func DateArg(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
