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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/ordergate/internal/cloudstorage"
	"github.com/cardinalhq/ordergate/internal/fetcher"
	"github.com/cardinalhq/ordergate/internal/validator"
	"github.com/cardinalhq/ordergate/internal/warehouse"
)

// Config aggregates configuration for the application. It is built once by
// Load and treated as read-only afterwards.
type Config struct {
	Source      SourceConfig      `mapstructure:"source"`
	Staging     StagingConfig     `mapstructure:"staging"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Destination DestinationConfig `mapstructure:"destination"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	DuckDB      DuckDBConfig      `mapstructure:"duckdb"`
}

// SourceConfig locates the daily file in remote storage.
type SourceConfig struct {
	Provider     string `mapstructure:"provider"` // aws, azure or file
	Bucket       string `mapstructure:"bucket"`
	KeyTemplate  string `mapstructure:"key_template"`
	Region       string `mapstructure:"region"`
	Role         string `mapstructure:"role"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	InsecureTLS  bool   `mapstructure:"insecure_tls"`
	BasePath     string `mapstructure:"base_path"` // root of the file provider

	StorageAccount string `mapstructure:"storage_account"` // azure
}

type StagingConfig struct {
	Dir             string `mapstructure:"dir"`
	NameTemplate    string `mapstructure:"name_template"`
	RemoveOnSuccess bool   `mapstructure:"remove_on_success"`
}

type ValidationConfig struct {
	PreviewRows  int    `mapstructure:"preview_rows"`
	FullFile     bool   `mapstructure:"full_file"`
	ContractFile string `mapstructure:"contract_file"`
}

type DestinationConfig struct {
	Driver         string `mapstructure:"driver"` // duckdb or postgres
	Table          string `mapstructure:"table"`
	DuckDBPath     string `mapstructure:"duckdb_path"`
	MigrationCheck string `mapstructure:"migration_check"` // wait, warn or skip
}

type PipelineConfig struct {
	Retries     int           `mapstructure:"retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Schedule    string        `mapstructure:"schedule"`
	AdmittedTTL time.Duration `mapstructure:"admitted_ttl"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Provider:    "aws",
			Bucket:      "sales-data-2016-2018",
			KeyTemplate: fetcher.DefaultKeyTemplate,
		},
		Staging: StagingConfig{
			Dir:          filepath.Join(os.TempDir(), "ordergate", "staging"),
			NameTemplate: fetcher.DefaultNameTemplate,
		},
		Validation: ValidationConfig{
			PreviewRows: validator.DefaultPreviewRows,
		},
		Destination: DestinationConfig{
			Driver:         warehouse.DriverDuckDB,
			Table:          "orders",
			DuckDBPath:     "ordergate.ddb",
			MigrationCheck: "warn",
		},
		Pipeline: PipelineConfig{
			Retries:     1,
			RetryDelay:  2 * time.Minute,
			Schedule:    "0 6 * * *",
			AdmittedTTL: 36 * time.Hour,
		},
		DuckDB: DefaultDuckDBConfig(),
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "ORDERGATE" and the dot character
// in keys is replaced by an underscore. For example, "source.bucket" becomes
// "ORDERGATE_SOURCE_BUCKET".
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("ORDERGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no run could succeed with.
func (c *Config) Validate() error {
	var errs []error
	if c.Source.Bucket == "" {
		errs = append(errs, errors.New("source.bucket is required"))
	}
	switch c.Source.Provider {
	case "aws", "s3", "":
	case "azure":
		if c.Source.StorageAccount == "" && c.Source.Endpoint == "" {
			errs = append(errs, errors.New("source.storage_account or source.endpoint is required for the azure provider"))
		}
	case "file":
		if c.Source.BasePath == "" {
			errs = append(errs, errors.New("source.base_path is required for the file provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.provider %q is not supported", c.Source.Provider))
	}
	if c.Staging.Dir == "" {
		errs = append(errs, errors.New("staging.dir is required"))
	}
	if c.Validation.PreviewRows < 0 {
		errs = append(errs, errors.New("validation.preview_rows must not be negative"))
	}
	switch c.Destination.Driver {
	case warehouse.DriverDuckDB, warehouse.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("destination.driver %q is not supported", c.Destination.Driver))
	}
	if _, err := warehouse.ParseTable(c.Destination.Table); err != nil {
		errs = append(errs, fmt.Errorf("destination.table: %w", err))
	}
	if c.Pipeline.Retries < 0 {
		errs = append(errs, errors.New("pipeline.retries must not be negative"))
	}
	return errors.Join(errs...)
}

// StorageProfile is the cloudstorage profile for the source.
func (c *Config) StorageProfile() cloudstorage.Profile {
	return cloudstorage.Profile{
		Provider:     c.Source.Provider,
		Region:       c.Source.Region,
		Role:         c.Source.Role,
		Endpoint:     c.Source.Endpoint,
		UsePathStyle: c.Source.UsePathStyle,
		InsecureTLS:  c.Source.InsecureTLS,
		BasePath:     c.Source.BasePath,

		StorageAccount: c.Source.StorageAccount,
	}
}

func (c *Config) FetcherOptions() fetcher.Options {
	return fetcher.Options{
		Bucket:       c.Source.Bucket,
		KeyTemplate:  c.Source.KeyTemplate,
		NameTemplate: c.Staging.NameTemplate,
		StagingDir:   c.Staging.Dir,
	}
}

func (c *Config) ValidatorOptions() validator.Options {
	return validator.Options{
		PreviewRows: c.Validation.PreviewRows,
		FullFile:    c.Validation.FullFile,
	}
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
