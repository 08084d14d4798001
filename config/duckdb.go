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

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cardinalhq/ordergate/internal/duckdbx"
	"github.com/cardinalhq/ordergate/internal/helpers"
)

// DuckDBConfig holds DuckDB-specific configuration for the embedded
// destination.
type DuckDBConfig struct {
	MemoryLimit          int64         `mapstructure:"memory_limit"` // MB, 0 = unlimited
	TempDirectory        string        `mapstructure:"temp_directory"`
	MaxTempDirectorySize string        `mapstructure:"max_temp_directory_size"`
	PoolSize             int           `mapstructure:"pool_size"`
	Threads              int           `mapstructure:"threads"`
	MetricsPeriod        time.Duration `mapstructure:"metrics_period"`
}

func DefaultDuckDBConfig() DuckDBConfig {
	return DuckDBConfig{
		MetricsPeriod: 30 * time.Second,
	}
}

// GetTempDirectory returns the configured temp directory, defaulting to
// TMPDIR and then /tmp.
func (c *DuckDBConfig) GetTempDirectory() string {
	if c.TempDirectory != "" {
		return c.TempDirectory
	}
	if tmpdir := os.Getenv("TMPDIR"); tmpdir != "" {
		return tmpdir
	}
	return "/tmp"
}

// GetMaxTempDirectorySize returns the configured spill limit, defaulting to
// 90% of the temp directory's volume.
func (c *DuckDBConfig) GetMaxTempDirectorySize() string {
	if c.MaxTempDirectorySize != "" {
		return c.MaxTempDirectorySize
	}
	if usage, err := helpers.DiskUsage(c.GetTempDirectory()); err == nil {
		maxSizeGB := uint64(float64(usage.TotalBytes) * 0.9 / (1024 * 1024 * 1024))
		if maxSizeGB > 0 {
			return fmt.Sprintf("%dGB", maxSizeGB)
		}
	}
	return ""
}

// Settings converts the configuration for duckdbx.
func (c *DuckDBConfig) Settings() duckdbx.Settings {
	return duckdbx.Settings{
		MemoryLimitMB:        c.MemoryLimit,
		TempDirectory:        c.GetTempDirectory(),
		MaxTempDirectorySize: c.GetMaxTempDirectorySize(),
		PoolSize:             c.PoolSize,
		Threads:              c.Threads,
	}
}
