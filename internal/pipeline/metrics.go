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

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/ordergate/internal/admitter"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

const instrumentationName = "github.com/cardinalhq/ordergate/internal/pipeline"

var tracer = otel.Tracer(instrumentationName)

type stageMetrics struct {
	duration    metric.Float64Histogram
	runs        metric.Int64Counter
	rowsLoaded  metric.Int64Counter
	rowsSkipped metric.Int64Counter
}

func newStageMetrics(mp metric.MeterProvider) (*stageMetrics, error) {
	meter := mp.Meter(instrumentationName)

	var m stageMetrics
	var err error
	m.duration, err = meter.Float64Histogram(
		"ordergate.pipeline.stage.duration",
		metric.WithDescription("Duration of pipeline stages"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	m.runs, err = meter.Int64Counter(
		"ordergate.pipeline.stage.runs",
		metric.WithDescription("Pipeline stage executions by outcome"),
	)
	if err != nil {
		return nil, err
	}
	m.rowsLoaded, err = meter.Int64Counter(
		"ordergate.pipeline.rows.loaded",
		metric.WithDescription("Rows admitted into the destination"),
	)
	if err != nil {
		return nil, err
	}
	m.rowsSkipped, err = meter.Int64Counter(
		"ordergate.pipeline.rows.skipped",
		metric.WithDescription("Rows the destination skipped during admission"),
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *stageMetrics) recordStage(ctx context.Context, stage string, dur time.Duration, err error) {
	outcome := "success"
	attrs := []attribute.KeyValue{attribute.String("stage", stage)}
	if err != nil {
		outcome = "failure"
		attrs = append(attrs, attribute.String("error_class", stageerr.Class(err)))
	}
	m.duration.Record(ctx, dur.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
	m.runs.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("outcome", outcome))...))
}

func (m *stageMetrics) recordAdmission(ctx context.Context, out admitter.Outcome) {
	if out.RowsLoaded > 0 {
		m.rowsLoaded.Add(ctx, out.RowsLoaded)
	}
	if out.RowsSkipped > 0 {
		m.rowsSkipped.Add(ctx, out.RowsSkipped)
	}
}

func logStageError(ll *slog.Logger, err error) {
	args := []any{slog.String("errorClass", stageerr.Class(err)), slog.Any("error", err)}
	for _, a := range stageerr.Attrs(err) {
		args = append(args, a)
	}
	ll.Error("Stage failed", args...)
}
