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

// Package dbopen resolves and opens the Postgres destination.
package dbopen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/ordergate/internal/warehouse"
	"github.com/cardinalhq/ordergate/internal/warehouse/migrations"
)

const (
	// DestinationURLEnv overrides every PGDEST_* variable.
	DestinationURLEnv = "ORDERGATE_DESTINATION_URL"
	DestinationPrefix = "PGDEST"
)

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

// GetDatabaseURLFromEnv constructs a PostgreSQL URL from environment
// variables named PREFIX_HOST, PREFIX_PORT, PREFIX_USER, PREFIX_PASSWORD,
// PREFIX_DBNAME, and optionally PREFIX_SSLMODE. PREFIX_URL, when set, is
// returned as is. HOST and DBNAME are required; PORT defaults to 5432.
func GetDatabaseURLFromEnv(prefix string) (string, error) {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	if urlStr := os.Getenv(prefix + "URL"); urlStr != "" {
		return urlStr, nil
	}

	host := os.Getenv(prefix + "HOST")
	dbname := os.Getenv(prefix + "DBNAME")
	var missing []string
	if host == "" {
		missing = append(missing, prefix+"HOST")
	}
	if dbname == "" {
		missing = append(missing, prefix+"DBNAME")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing required environment variable(s): %s",
			ErrDatabaseNotConfigured, strings.Join(missing, ", "))
	}

	port := os.Getenv(prefix + "PORT")
	if port == "" {
		port = "5432"
	}

	u := &url.URL{
		Scheme: "postgresql",
		Host:   host + ":" + port,
		Path:   dbname,
	}
	if user := os.Getenv(prefix + "USER"); user != "" {
		if pass := os.Getenv(prefix + "PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}

	q := u.Query()
	if sslmode := os.Getenv(prefix + "SSLMODE"); sslmode != "" {
		q.Set("sslmode", sslmode)
	}
	q.Set("application_name", applicationName())
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// applicationName is OTEL_SERVICE_NAME reduced to characters Postgres
// accepts, or "ordergate".
func applicationName() string {
	appName := os.Getenv("OTEL_SERVICE_NAME")
	if appName == "" {
		return "ordergate"
	}
	appName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' {
			return r
		}
		return '_'
	}, appName)
	if len(appName) > 63 {
		appName = appName[:63]
	}
	return appName
}

// DestinationURL returns ORDERGATE_DESTINATION_URL, or a URL built from
// the PGDEST_* variables.
func DestinationURL() (string, error) {
	if u := os.Getenv(DestinationURLEnv); u != "" {
		return u, nil
	}
	return GetDatabaseURLFromEnv(DestinationPrefix)
}

// ConnectDestination opens the destination pool and checks its schema
// version according to opts.
func ConnectDestination(ctx context.Context, opts migrations.CheckOptions) (*pgxpool.Pool, error) {
	u, err := DestinationURL()
	if err != nil {
		return nil, err
	}
	pool, err := warehouse.NewConnectionPool(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("connect to destination: %w", err)
	}
	if err := migrations.CheckExpectedVersion(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
