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

// Package admitter promotes a validated staged file into the destination
// dataset.
package admitter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cardinalhq/ordergate/internal/datekey"
	"github.com/cardinalhq/ordergate/internal/logctx"
	"github.com/cardinalhq/ordergate/internal/stageerr"
	"github.com/cardinalhq/ordergate/internal/warehouse"
)

// Outcome describes one admission. RowsSkipped is the shortfall between
// the validated row count and what the destination accepted. When the
// destination cannot count its rows, RowsLoaded is warehouse.RowsUnknown
// and RowsSkipped is zero.
type Outcome struct {
	DateKey      datekey.DateKey
	LoadDate     time.Time
	RowsExpected int64
	RowsLoaded   int64
	RowsSkipped  int64
}

type Admitter struct {
	loader warehouse.Loader
	table  string
}

func New(loader warehouse.Loader, table string) *Admitter {
	return &Admitter{loader: loader, table: table}
}

// Admit loads path under the load date of k. It must only be called once
// the file has passed validation.
func (a *Admitter) Admit(ctx context.Context, k datekey.DateKey, path string, expected int64) (Outcome, error) {
	if a.loader == nil {
		return Outcome{}, &stageerr.AdmissionError{Table: a.table, Source: path, Err: errors.New("no destination configured")}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	loadDate := k.Time()
	out, err := a.loader.Load(ctx, warehouse.LoadRequest{Path: path, LoadDate: loadDate})
	if err != nil {
		return Outcome{}, &stageerr.AdmissionError{Table: a.table, Source: path, Err: err}
	}

	o := Outcome{
		DateKey:      k,
		LoadDate:     loadDate,
		RowsExpected: expected,
		RowsLoaded:   out.RowsLoaded,
	}

	ll := logctx.FromContext(ctx)
	if out.RowsLoaded < 0 {
		o.RowsLoaded = warehouse.RowsUnknown
		ll.Warn("Admitted staged file without a row count",
			slog.String("table", a.table),
			slog.Int64("rowsExpected", o.RowsExpected))
		return o, nil
	}
	o.RowsSkipped = max(0, expected-out.RowsLoaded)
	if o.RowsSkipped > 0 {
		ll.Warn("Destination skipped malformed rows",
			slog.String("table", a.table),
			slog.Int64("rowsExpected", o.RowsExpected),
			slog.Int64("rowsLoaded", o.RowsLoaded),
			slog.Int64("rowsSkipped", o.RowsSkipped))
	} else {
		ll.Info("Admitted staged file",
			slog.String("table", a.table),
			slog.Int64("rowsLoaded", o.RowsLoaded))
	}
	return o, nil
}
