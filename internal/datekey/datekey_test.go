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

package datekey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTime(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want DateKey
	}{
		{"midnight", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), "20250701"},
		{"end of day", time.Date(2025, 7, 1, 23, 59, 59, 999, time.UTC), "20250701"},
		{"offset zone is normalized to UTC", time.Date(2025, 7, 2, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600)), "20250701"},
		{"leap day", time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), "20240229"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromTime(tt.in))
		})
	}
}

func TestLocatorIdempotentWithinDay(t *testing.T) {
	base := time.Date(2025, 7, 14, 0, 0, 1, 0, time.UTC)
	calls := 0
	l := &Locator{Now: func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 3 * time.Hour)
	}}

	first := l.Locate()
	for range 5 {
		assert.Equal(t, first, l.Locate())
	}
	assert.Equal(t, DateKey("20250714"), first)
}

func TestLocatorDefaultsToWallClock(t *testing.T) {
	var l *Locator
	got := l.Locate()
	assert.Len(t, got.String(), 8)
	assert.Equal(t, FromTime(time.Now()), got)
}

func TestParse(t *testing.T) {
	k, err := Parse("20250701")
	require.NoError(t, err)
	assert.Equal(t, DateKey("20250701"), k)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), k.Time())

	for _, bad := range []string{"", "2025-07-01", "2025070", "20251301", "abcdefgh", "202507011"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestZero(t *testing.T) {
	var k DateKey
	assert.True(t, k.IsZero())
	assert.True(t, k.Time().IsZero())
}
