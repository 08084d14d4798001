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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/ordergate/config"
	"github.com/cardinalhq/ordergate/internal/auditor"
	"github.com/cardinalhq/ordergate/internal/datekey"
)

func init() {
	var date string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report how many rows the destination holds for a DateKey",
		RunE: func(_ *cobra.Command, _ []string) error {
			doneCtx, doneFx, err := setupTelemetry(config.ServiceTypeAudit)
			if err != nil {
				return err
			}
			defer func() {
				_ = doneFx()
			}()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			_, err = auditDate(doneCtx, cfg, date)
			return err
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "DateKey (YYYYMMDD) to audit; defaults to today")
	rootCmd.AddCommand(cmd)
}

func auditDate(ctx context.Context, cfg *config.Config, date string) (auditor.AdmissionResult, error) {
	k := datekey.NewLocator().Locate()
	if date != "" {
		var err error
		if k, err = datekey.Parse(date); err != nil {
			return auditor.AdmissionResult{}, err
		}
	}

	a, err := newApp(ctx, cfg, appNeeds{warehouse: true})
	if err != nil {
		return auditor.AdmissionResult{}, err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close", slog.Any("error", err))
		}
	}()

	return a.pipeline.Audit(ctx, k)
}
