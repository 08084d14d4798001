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
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/ordergate/config"
	"github.com/cardinalhq/ordergate/internal/dbopen"
	"github.com/cardinalhq/ordergate/internal/warehouse"
	"github.com/cardinalhq/ordergate/internal/warehouse/migrations"
)

func init() {
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run destination migrations",
	Long:  "Create or upgrade the orders table in the PostgreSQL destination. DuckDB destinations create their table on open.",
	RunE:  migrate,
}

func migrate(_ *cobra.Command, _ []string) error {
	_, doneFx, err := setupTelemetry(config.ServiceTypeMigrate)
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
	if cfg.Destination.Driver != warehouse.DriverPostgres {
		slog.Info("Destination is not PostgreSQL, nothing to migrate", slog.String("driver", cfg.Destination.Driver))
		return nil
	}

	slog.Info("Running destination migrations")
	if err := migrateDestination(); err != nil {
		return err
	}
	slog.Info("Destination migrations completed successfully")
	return nil
}

func migrateDestination() error {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(5*time.Minute))
	defer cancel()

	opts := migrations.DefaultCheckOptions()
	opts.Mode = migrations.CheckModeSkip
	pool, err := dbopen.ConnectDestination(ctx, opts)
	if err != nil {
		if errors.Is(err, dbopen.ErrDatabaseNotConfigured) {
			slog.Error("Set " + dbopen.DestinationURLEnv + " or the " + dbopen.DestinationPrefix + "_* variables")
		}
		return err
	}
	defer pool.Close()
	return migrations.RunMigrationsUp(ctx, pool)
}
