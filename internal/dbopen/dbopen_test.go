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

package dbopen

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearDestEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		DestinationURLEnv, "PGDEST_URL", "PGDEST_HOST", "PGDEST_PORT", "PGDEST_USER",
		"PGDEST_PASSWORD", "PGDEST_DBNAME", "PGDEST_SSLMODE", "OTEL_SERVICE_NAME",
	} {
		t.Setenv(k, "")
	}
}

func TestDestinationURLPrefersExplicitURL(t *testing.T) {
	clearDestEnv(t)
	t.Setenv(DestinationURLEnv, "postgres://a@b/c")
	t.Setenv("PGDEST_HOST", "ignored")

	u, err := DestinationURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://a@b/c", u)
}

func TestDestinationURLFromParts(t *testing.T) {
	clearDestEnv(t)
	t.Setenv("PGDEST_HOST", "db.internal")
	t.Setenv("PGDEST_DBNAME", "sales")
	t.Setenv("PGDEST_USER", "loader")
	t.Setenv("PGDEST_PASSWORD", "p@ss")
	t.Setenv("PGDEST_SSLMODE", "require")
	t.Setenv("OTEL_SERVICE_NAME", "ordergate schedule")

	raw, err := DestinationURL()
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/sales", u.Path)
	assert.Equal(t, "loader", u.User.Username())
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss", pass)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "ordergate_schedule", u.Query().Get("application_name"))
}

func TestDestinationURLMissingParts(t *testing.T) {
	clearDestEnv(t)
	t.Setenv("PGDEST_HOST", "db.internal")

	_, err := DestinationURL()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDatabaseNotConfigured))
	assert.Contains(t, err.Error(), "PGDEST_DBNAME")
}

func TestGetDatabaseURLFromEnvAddsUnderscore(t *testing.T) {
	clearDestEnv(t)
	t.Setenv("PGDEST_URL", "postgres://x/y")
	u, err := GetDatabaseURLFromEnv("PGDEST")
	require.NoError(t, err)
	assert.Equal(t, "postgres://x/y", u)
}
