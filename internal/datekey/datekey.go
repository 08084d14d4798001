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

// Package datekey derives the per-day key that addresses the remote orders
// file, the local staged copy and the destination partition.
package datekey

import (
	"fmt"
	"time"
)

// Layout is the time layout of a DateKey.
const Layout = "20060102"

// DateKey is an 8-digit YYYYMMDD token. The zero value is invalid.
type DateKey string

// FromTime returns the DateKey for the calendar date of t in UTC.
func FromTime(t time.Time) DateKey {
	return DateKey(t.UTC().Format(Layout))
}

// Parse validates s as an 8-digit calendar date and returns it as a DateKey.
func Parse(s string) (DateKey, error) {
	if len(s) != len(Layout) {
		return "", fmt.Errorf("date key %q: want %d digits", s, len(Layout))
	}
	t, err := time.Parse(Layout, s)
	if err != nil {
		return "", fmt.Errorf("date key %q: %w", s, err)
	}
	return FromTime(t), nil
}

func (k DateKey) String() string {
	return string(k)
}

// IsZero reports whether k has not been set.
func (k DateKey) IsZero() bool {
	return k == ""
}

// Time returns midnight UTC of the date k names. It is the load date used to
// tag admitted rows.
func (k DateKey) Time() time.Time {
	t, err := time.Parse(Layout, string(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Locator computes today's DateKey from a clock.
type Locator struct {
	Now func() time.Time
}

// NewLocator returns a Locator backed by the wall clock.
func NewLocator() *Locator {
	return &Locator{Now: time.Now}
}

// Locate returns the DateKey for the current day.
func (l *Locator) Locate() DateKey {
	now := time.Now
	if l != nil && l.Now != nil {
		now = l.Now
	}
	return FromTime(now())
}
