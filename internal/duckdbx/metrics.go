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

package duckdbx

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/cardinalhq/ordergate/duckdbx")

type memoryGauges struct {
	dbSize      metric.Int64Gauge
	walSize     metric.Int64Gauge
	memoryUsage metric.Int64Gauge
	memoryLimit metric.Int64Gauge
}

func newMemoryGauges() (*memoryGauges, error) {
	var g memoryGauges
	var err error
	if g.dbSize, err = meter.Int64Gauge("ordergate.duckdb.memory.database_size",
		metric.WithDescription("DuckDB database size"), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if g.walSize, err = meter.Int64Gauge("ordergate.duckdb.memory.wal_size",
		metric.WithDescription("DuckDB WAL size"), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if g.memoryUsage, err = meter.Int64Gauge("ordergate.duckdb.memory.memory_usage",
		metric.WithDescription("DuckDB memory usage"), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if g.memoryLimit, err = meter.Int64Gauge("ordergate.duckdb.memory.memory_limit",
		metric.WithDescription("DuckDB memory limit"), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	return &g, nil
}

// pollMemoryMetrics records DuckDB memory statistics until ctx is done or
// the database is closed.
func (d *DB) pollMemoryMetrics(ctx context.Context) {
	gauges, err := newMemoryGauges()
	if err != nil {
		slog.Error("failed to create duckdb memory metrics", "error", err)
		return
	}

	for {
		if err := d.recordMemoryMetrics(ctx, gauges); err != nil {
			if errors.Is(err, sql.ErrConnDone) || ctx.Err() != nil {
				return
			}
			slog.Warn("failed to record duckdb memory metrics", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.metricsPeriod):
		}
	}
}

func (d *DB) recordMemoryMetrics(ctx context.Context, g *memoryGauges) error {
	conn, release, err := d.Conn(ctx)
	if err != nil {
		return err
	}
	defer release()

	stats, err := GetMemoryStats(ctx, conn)
	if err != nil {
		return err
	}
	for _, stat := range stats {
		attr := metric.WithAttributeSet(attribute.NewSet(
			attribute.String("database_name", stat.DatabaseName),
		))
		g.dbSize.Record(ctx, stat.DatabaseSize, attr)
		g.walSize.Record(ctx, stat.WALSize, attr)
		g.memoryUsage.Record(ctx, stat.MemoryUsage, attr)
		g.memoryLimit.Record(ctx, stat.MemoryLimit, attr)
	}
	return nil
}
