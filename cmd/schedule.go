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
	"github.com/cardinalhq/ordergate/internal/debugging"
	"github.com/cardinalhq/ordergate/internal/healthcheck"
	"github.com/cardinalhq/ordergate/internal/pipeline"
	"github.com/cardinalhq/ordergate/internal/scheduler"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

func init() {
	var (
		spec   string
		runNow bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Admit the orders file once per day on a cron schedule",
		RunE: func(_ *cobra.Command, _ []string) error {
			doneCtx, doneFx, err := setupTelemetry(config.ServiceTypeSchedule)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				_ = doneFx()
				return err
			}
			if spec == "" {
				spec = cfg.Pipeline.Schedule
			}

			a, err := newApp(doneCtx, cfg, appNeeds{storage: true, warehouse: true})
			if err != nil {
				_ = doneFx()
				return err
			}

			debugging.RunPprof(doneCtx)
			health := healthcheck.NewServer(healthcheck.PortFromEnv())
			go func() {
				if err := health.Start(doneCtx); err != nil {
					slog.Error("Health check server failed", slog.Any("error", err))
				}
			}()

			runErr := runSchedule(doneCtx, a, health, spec, runNow)
			if err := closeAll(a.Close, doneFx); err != nil {
				slog.Warn("Error during shutdown", slog.Any("error", err))
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "Cron expression overriding pipeline.schedule")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Admit today's file immediately before waiting for the schedule")
	rootCmd.AddCommand(cmd)
}

func runSchedule(ctx context.Context, a *app, health *healthcheck.Server, spec string, runNow bool) error {
	policy := scheduler.RetryPolicy{Retries: a.cfg.Pipeline.Retries, Delay: a.cfg.Pipeline.RetryDelay}
	locator := datekey.NewLocator()

	s, err := scheduler.New(spec, locator, func(ctx context.Context, k datekey.DateKey) (bool, error) {
		a.cleanStaging()
		start := time.Now()
		rep, err := runWithPolicy(ctx, policy, a.pipeline, k)
		recordRun(ctx, start, err)
		health.RecordRun(runStatus(k, rep, err))
		return rep.Admitted(), err
	}, a.cfg.Pipeline.AdmittedTTL)
	if err != nil {
		health.SetStatus(healthcheck.StatusUnhealthy)
		return err
	}
	health.SetStatus(healthcheck.StatusHealthy)
	health.SetReady(true)

	if runNow {
		if _, err := s.Trigger(ctx, locator.Locate()); err != nil {
			slog.Error("Immediate run failed", slog.Any("error", err))
		}
	}

	return s.Run(ctx)
}

type keyRunner interface {
	RunFor(ctx context.Context, k datekey.DateKey) (*pipeline.Report, error)
}

// runWithPolicy retries failed runs for k, but never once a run has
// admitted the file.
func runWithPolicy(ctx context.Context, policy scheduler.RetryPolicy, p keyRunner, k datekey.DateKey) (*pipeline.Report, error) {
	var rep *pipeline.Report
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		rep, err = p.RunFor(ctx, k)
		if err != nil && rep.Admitted() {
			return scheduler.Permanent(err)
		}
		return err
	})
	return rep, err
}

func runStatus(k datekey.DateKey, rep *pipeline.Report, err error) healthcheck.RunStatus {
	rs := healthcheck.RunStatus{DateKey: k.String(), Finished: time.Now()}
	if rep != nil {
		rs.RunID = rep.RunID
		rs.Rows = rep.Result.Rows
		rs.Skipped = rep.Admission.RowsSkipped
	}
	if err != nil {
		rs.Error = err.Error()
		rs.Class = stageerr.Class(err)
	}
	return rs
}
