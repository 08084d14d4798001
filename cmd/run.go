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
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/ordergate/config"
	"github.com/cardinalhq/ordergate/internal/datekey"
	"github.com/cardinalhq/ordergate/internal/pipeline"
	"github.com/cardinalhq/ordergate/internal/scheduler"
)

func init() {
	var date string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Admit the orders file for today, or for --date",
		RunE: func(_ *cobra.Command, _ []string) error {
			doneCtx, doneFx, err := setupTelemetry(config.ServiceTypeRun)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				_ = doneFx()
				return err
			}

			_, runErr := runOnce(doneCtx, cfg, date)
			if err := closeAll(doneFx); err != nil {
				slog.Warn("Error during shutdown", slog.Any("error", err))
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Admit the file for this DateKey (YYYYMMDD) instead of today")
	rootCmd.AddCommand(cmd)
}

// runOnce performs a single run, retrying transient failures according to
// the pipeline retry policy.
func runOnce(ctx context.Context, cfg *config.Config, date string) (*pipeline.Report, error) {
	var k datekey.DateKey
	if date != "" {
		var err error
		if k, err = datekey.Parse(date); err != nil {
			return nil, err
		}
	}

	a, err := newApp(ctx, cfg, appNeeds{storage: true, warehouse: true})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close", slog.Any("error", err))
		}
	}()
	a.cleanStaging()

	start := time.Now()
	var rep *pipeline.Report
	policy := scheduler.RetryPolicy{Retries: cfg.Pipeline.Retries, Delay: cfg.Pipeline.RetryDelay}
	err = policy.Do(ctx, func(ctx context.Context) error {
		var err error
		if k.IsZero() {
			rep, err = a.pipeline.Run(ctx)
		} else {
			rep, err = a.pipeline.RunFor(ctx, k)
		}
		return err
	})
	recordRun(ctx, start, err)
	if err != nil {
		return rep, err
	}

	slog.Info("Orders file admitted",
		slog.String("runID", rep.RunID),
		slog.String("dateKey", rep.DateKey.String()),
		slog.Int64("rows", rep.Result.Rows),
		slog.Int64("rowsSkipped", rep.Admission.RowsSkipped))
	return rep, nil
}
