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

// Package migrations holds the Postgres destination schema and applies it
// with golang-migrate.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// MigrationsTable records the applied version in the destination database.
const MigrationsTable = "gomigrate_ordergate"

//go:embed *.sql
var migrationFiles embed.FS

type CheckMode int

const (
	// CheckModeWait polls until the schema reaches the expected version.
	CheckModeWait CheckMode = iota
	// CheckModeWarn logs a version mismatch and continues.
	CheckModeWarn
	CheckModeSkip
)

type CheckOptions struct {
	Mode          CheckMode
	Timeout       time.Duration
	RetryInterval time.Duration
	AllowDirty    bool
}

func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		Mode:          CheckModeWarn,
		Timeout:       60 * time.Second,
		RetryInterval: 5 * time.Second,
	}
}

// ParseCheckMode maps "wait", "warn" and "skip" to a CheckMode.
func ParseCheckMode(s string) (CheckMode, error) {
	switch strings.ToLower(s) {
	case "wait":
		return CheckModeWait, nil
	case "warn", "":
		return CheckModeWarn, nil
	case "skip":
		return CheckModeSkip, nil
	default:
		return 0, fmt.Errorf("unknown migration check mode %q", s)
	}
}

func newMigrate(pool *pgxpool.Pool) (*migrate.Migrate, func(), error) {
	sourceDriver, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs driver: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	dbDriver, err := pgx.WithInstance(sqlDB, &pgx.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create pgx driver: %w", err)
	}
	cleanup := func() {
		_ = dbDriver.Close()
		_ = sqlDB.Close()
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, cleanup, nil
}

// RunMigrationsUp applies all up migrations using embedded migration files.
func RunMigrationsUp(ctx context.Context, pool *pgxpool.Pool) error {
	m, cleanup, err := newMigrate(pool)
	if err != nil {
		return err
	}
	defer cleanup()

	_, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return errors.New("migration is dirty, please fix it before proceeding")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, _ := m.Version()
	slog.Info("Destination migrations applied", slog.Uint64("version", uint64(version)))
	return nil
}

// LatestVersion is the highest version among the embedded migrations.
func LatestVersion() (uint, error) {
	return extractLatestMigrationVersion(migrationFiles)
}

func extractLatestMigrationVersion(files embed.FS) (uint, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 1760400000_orders.up.sql
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		maxVersion = max(maxVersion, uint(version))
	}

	if maxVersion == 0 {
		return 0, errors.New("no valid migration files found")
	}
	return maxVersion, nil
}

// CheckExpectedVersion verifies the destination schema is at LatestVersion.
func CheckExpectedVersion(ctx context.Context, pool *pgxpool.Pool, opts CheckOptions) error {
	if opts.Mode == CheckModeSkip {
		return nil
	}
	expected, err := LatestVersion()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(opts.Timeout)
	for {
		current, dirty, err := currentVersion(pool)
		if err != nil {
			return fmt.Errorf("failed to get current migration version: %w", err)
		}
		if dirty && !opts.AllowDirty {
			return errors.New("destination migration is in dirty state, please fix before proceeding")
		}

		switch {
		case current == expected:
			slog.Debug("Migration version check passed", slog.Uint64("version", uint64(current)))
			return nil
		case current > expected:
			return fmt.Errorf("destination version %d is newer than expected version %d", current, expected)
		case opts.Mode == CheckModeWarn:
			slog.Warn("Destination schema is behind, run the migrate command",
				slog.Uint64("current_version", uint64(current)),
				slog.Uint64("expected_version", uint64(expected)))
			return nil
		case time.Now().After(deadline):
			return fmt.Errorf("timeout waiting for destination migrations: current version %d, expected %d",
				current, expected)
		}

		slog.Info("Waiting for destination migrations",
			slog.Uint64("current_version", uint64(current)),
			slog.Uint64("expected_version", uint64(expected)),
			slog.Duration("remaining_timeout", time.Until(deadline)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}
}

func currentVersion(pool *pgxpool.Pool) (uint, bool, error) {
	m, cleanup, err := newMigrate(pool)
	if err != nil {
		return 0, false, err
	}
	defer cleanup()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
