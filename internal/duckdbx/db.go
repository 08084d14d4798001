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

// Package duckdbx manages a pooled, file-backed DuckDB database shared by
// every connection in the process.
package duckdbx

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
)

// DB manages a pool of connections to a single on-disk DuckDB database.
type DB struct {
	dbPath         string
	cleanupOnClose bool

	poolSize int
	dsn      string

	mu     sync.Mutex
	db     *sql.DB
	dbErr  error
	opened bool

	metricsPeriod time.Duration
	metricsCancel context.CancelFunc
}

// Settings holds the DuckDB parameters that end up in the DSN.
type Settings struct {
	MemoryLimitMB        int64
	TempDirectory        string
	MaxTempDirectorySize string
	PoolSize             int
	Threads              int
}

type dbConfig struct {
	dbPath        string
	metricsPeriod time.Duration
	metricsCtx    context.Context
	settings      Settings
}

type Option func(*dbConfig)

// WithDatabasePath sets the database file. Without it a temporary database
// is created and removed on Close.
func WithDatabasePath(path string) Option {
	return func(cfg *dbConfig) {
		cfg.dbPath = path
	}
}

func WithSettings(s Settings) Option {
	return func(cfg *dbConfig) {
		cfg.settings = s
	}
}

// WithMetrics enables periodic polling of DuckDB memory metrics.
// If period is 0, uses default of 30 seconds.
func WithMetrics(period time.Duration) Option {
	return func(cfg *dbConfig) {
		if period == 0 {
			period = 30 * time.Second
		}
		cfg.metricsPeriod = period
	}
}

func WithMetricsContext(ctx context.Context) Option {
	return func(cfg *dbConfig) {
		cfg.metricsCtx = ctx
	}
}

// Open prepares a DB. The underlying database is opened on first use.
func Open(opts ...Option) (*DB, error) {
	cfg := &dbConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	dbPath := cfg.dbPath
	cleanupOnClose := false
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "ordergate-duckdb-")
		if err != nil {
			return nil, fmt.Errorf("create temp dir for DB: %w", err)
		}
		dbPath = filepath.Join(dir, "ordergate.ddb")
		cleanupOnClose = true
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	poolSize := cfg.settings.PoolSize
	if poolSize <= 0 {
		poolSize = min(4, max(2, runtime.GOMAXPROCS(0)/2))
	}
	threads := cfg.settings.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	d := &DB{
		dbPath:         dbPath,
		cleanupOnClose: cleanupOnClose,
		poolSize:       poolSize,
		dsn:            buildDSN(dbPath, cfg.settings, threads),
		metricsPeriod:  cfg.metricsPeriod,
	}

	slog.Info("duckdbx: opening database",
		"dbPath", dbPath,
		"temporary", cleanupOnClose,
		"poolSize", poolSize,
		"threads", threads,
	)

	if cfg.metricsPeriod > 0 {
		ctx := cfg.metricsCtx
		if ctx == nil {
			ctx = context.Background()
		}
		var mctx context.Context
		mctx, d.metricsCancel = context.WithCancel(ctx)
		go d.pollMemoryMetrics(mctx)
	}

	return d, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.dbPath
}

// Conn returns a pooled connection and the function that releases it.
func (d *DB) Conn(ctx context.Context) (*sql.Conn, func(), error) {
	db, err := d.ensureDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { _ = conn.Close() }, nil
}

// Close stops metric polling, closes the pool and removes the database if
// it was temporary. User-provided paths are never removed.
func (d *DB) Close() error {
	if d.metricsCancel != nil {
		d.metricsCancel()
	}

	d.mu.Lock()
	var err error
	if d.db != nil {
		err = d.db.Close()
		d.db = nil
	}
	d.dbErr = sql.ErrConnDone
	d.opened = true
	d.mu.Unlock()

	if d.cleanupOnClose {
		_ = os.RemoveAll(filepath.Dir(d.dbPath))
	}
	return err
}

func (d *DB) ensureDB(ctx context.Context) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return d.db, d.dbErr
	}
	d.opened = true

	connector, err := duckdb.NewConnector(d.dsn, nil)
	if err != nil {
		d.dbErr = fmt.Errorf("create connector: %w", err)
		return nil, d.dbErr
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(d.poolSize)
	db.SetMaxIdleConns(d.poolSize)

	if err := applyPostConnectSettings(ctx, db); err != nil {
		_ = db.Close()
		d.dbErr = err
		return nil, err
	}
	d.db = db
	return db, nil
}

// buildDSN constructs a DuckDB DSN with the provided settings.
func buildDSN(dbPath string, s Settings, threads int) string {
	params := []string{fmt.Sprintf("threads=%d", threads)}
	if s.MemoryLimitMB > 0 {
		params = append(params, fmt.Sprintf("memory_limit=%dMB", s.MemoryLimitMB))
	}
	if s.TempDirectory != "" {
		params = append(params, "temp_directory="+s.TempDirectory)
	}
	if s.MaxTempDirectorySize != "" {
		params = append(params, "max_temp_directory_size="+s.MaxTempDirectorySize)
	}
	return dbPath + "?" + strings.Join(params, "&")
}

func applyPostConnectSettings(ctx context.Context, db *sql.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn for setup: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "PRAGMA enable_object_cache;"); err != nil {
		return fmt.Errorf("enable_object_cache: %w", err)
	}
	return nil
}

// EscapeSingle doubles single quotes for use inside a SQL string literal.
func EscapeSingle(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
