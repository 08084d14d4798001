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
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/ordergate/config"
	"github.com/cardinalhq/ordergate/internal/admitter"
	"github.com/cardinalhq/ordergate/internal/auditor"
	"github.com/cardinalhq/ordergate/internal/cloudstorage"
	"github.com/cardinalhq/ordergate/internal/dbopen"
	"github.com/cardinalhq/ordergate/internal/fetcher"
	"github.com/cardinalhq/ordergate/internal/helpers"
	"github.com/cardinalhq/ordergate/internal/pipeline"
	"github.com/cardinalhq/ordergate/internal/schema"
	"github.com/cardinalhq/ordergate/internal/validator"
	"github.com/cardinalhq/ordergate/internal/warehouse"
	"github.com/cardinalhq/ordergate/internal/warehouse/migrations"
)

// Partial downloads older than this are removed before a run.
const staleDownloadAge = time.Hour

// appNeeds selects which collaborators newApp builds. Commands that only
// validate a local file never touch storage or the destination.
type appNeeds struct {
	storage   bool
	warehouse bool
}

type app struct {
	cfg      *config.Config
	contract *schema.Contract
	wh       warehouse.Warehouse
	pipeline *pipeline.Pipeline
}

func loadContract(cfg *config.Config) (*schema.Contract, error) {
	if cfg.Validation.ContractFile == "" {
		return schema.Orders(), nil
	}
	c, err := schema.LoadFile(cfg.Validation.ContractFile)
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}
	return c, nil
}

func newApp(ctx context.Context, cfg *config.Config, needs appNeeds) (*app, error) {
	contract, err := loadContract(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, contract: contract}
	deps := pipeline.Deps{
		Validator: validator.New(contract, cfg.ValidatorOptions()),
	}

	if needs.storage {
		client, err := cloudstorage.NewProviders().NewClient(ctx, cfg.StorageProfile())
		if err != nil {
			return nil, err
		}
		f, err := fetcher.New(client, cfg.FetcherOptions())
		if err != nil {
			return nil, err
		}
		deps.Fetcher = f
	}

	if needs.warehouse {
		wh, err := openWarehouse(ctx, cfg, contract)
		if err != nil {
			return nil, err
		}
		a.wh = wh
		deps.Admitter = admitter.New(wh, wh.Table())
		deps.Auditor = auditor.New(wh, wh.Table())
	}

	p, err := pipeline.New(pipeline.Config{RemoveStaged: cfg.Staging.RemoveOnSuccess}, deps)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.pipeline = p
	return a, nil
}

func openWarehouse(ctx context.Context, cfg *config.Config, contract *schema.Contract) (warehouse.Warehouse, error) {
	wcfg := warehouse.Config{
		Driver:         cfg.Destination.Driver,
		Table:          cfg.Destination.Table,
		Columns:        contract.Columns(),
		DuckDBPath:     cfg.Destination.DuckDBPath,
		DuckDBSettings: cfg.DuckDB.Settings(),
		MetricsPeriod:  cfg.DuckDB.MetricsPeriod,
	}

	if cfg.Destination.Driver != warehouse.DriverPostgres {
		return warehouse.Open(ctx, wcfg)
	}

	mode, err := migrations.ParseCheckMode(cfg.Destination.MigrationCheck)
	if err != nil {
		return nil, err
	}
	url, err := dbopen.DestinationURL()
	if err != nil {
		return nil, err
	}
	wcfg.URL = url
	wh, err := warehouse.Open(ctx, wcfg)
	if err != nil {
		return nil, err
	}
	opts := migrations.DefaultCheckOptions()
	opts.Mode = mode
	if err := migrations.CheckExpectedVersion(ctx, wh.(*warehouse.Postgres).Pool(), opts); err != nil {
		_ = wh.Close()
		return nil, err
	}
	return wh, nil
}

// cleanStaging removes partial downloads left by interrupted runs.
func (a *app) cleanStaging() {
	pattern := "*-" + strings.ReplaceAll(a.cfg.Staging.NameTemplate, fetcher.DatePlaceholder, "*")
	if _, err := helpers.CleanStaleFiles(a.cfg.Staging.Dir, pattern, staleDownloadAge); err != nil {
		slog.Warn("Failed to clean staging directory", slog.String("dir", a.cfg.Staging.Dir), slog.Any("error", err))
	}
}

func (a *app) Close() error {
	if a.wh == nil {
		return nil
	}
	if err := a.wh.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}

// closeAll runs every closer and reports all of their failures.
func closeAll(closers ...func() error) error {
	var result *multierror.Error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
