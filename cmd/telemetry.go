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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/ordergate/internal/helpers"
	"github.com/cardinalhq/ordergate/internal/idgen"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

var (
	meter = otel.Meter("github.com/cardinalhq/ordergate")

	myInstanceID int64

	runCounter  metric.Int64Counter
	runDuration metric.Float64Histogram
)

func init() {
	var err error
	runCounter, err = meter.Int64Counter(
		"ordergate.runs",
		metric.WithDescription("Pipeline runs by outcome, including retries"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create runs counter: %w", err))
	}

	runDuration, err = meter.Float64Histogram(
		"ordergate.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of a pipeline run including retries"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.duration histogram: %w", err))
	}
}

func setupTelemetry(servicename string) (context.Context, func() error, error) {
	myInstanceID = idgen.DefaultFlakeGenerator.NextID()

	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	var opts *slog.HandlerOptions
	if helpers.AnyBoolEnv("DEBUG", "ORDERGATE_DEBUG") {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	if os.Getenv("OTEL_SERVICE_NAME") != "" && helpers.GetBoolEnv("ENABLE_OTLP_TELEMETRY", false) {
		slog.Info("OpenTelemetry exporting enabled")
		slog.SetDefault(slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stdout, opts),
			otelslog.NewHandler(servicename),
		)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", myInstanceID),
		))

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			doneCancel()
			return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
			slog.Warn("failed to start runtime metrics", "error", err.Error())
		}
		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", "error", err.Error())
		}

		f = func() error {
			defer doneCancel()
			slog.Info("Shutting down OpenTelemetry SDK")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", myInstanceID),
		))
	}

	return doneCtx, f, nil
}

func recordRun(ctx context.Context, start time.Time, err error) {
	outcome := "success"
	attrs := []attribute.KeyValue{}
	if err != nil {
		outcome = "failure"
		attrs = append(attrs, attribute.String("error_class", stageerr.Class(err)))
	}
	attrs = append(attrs, attribute.String("outcome", outcome))
	runCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	runDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}
