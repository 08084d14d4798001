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

// Package auditor reports how many rows the destination holds for a day.
package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinalhq/ordergate/internal/datekey"
	"github.com/cardinalhq/ordergate/internal/logctx"
	"github.com/cardinalhq/ordergate/internal/warehouse"
)

// AdmissionResult is the row count the destination reports for DateKey.
type AdmissionResult struct {
	DateKey  datekey.DateKey
	LoadDate time.Time
	Rows     int64
}

type Auditor struct {
	q     warehouse.Querier
	table string
}

// New returns an Auditor counting rows of table, which must already be a
// sanitized identifier.
func New(q warehouse.Querier, table string) *Auditor {
	return &Auditor{q: q, table: table}
}

func (a *Auditor) Audit(ctx context.Context, k datekey.DateKey) (AdmissionResult, error) {
	loadDate := k.Time()
	res, err := a.q.Query(ctx, warehouse.CountByLoadDateSQL(a.table), warehouse.DateArg(loadDate))
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("count query on %s: %w", a.table, err)
	}
	n, err := res.Scalar()
	if err != nil {
		return AdmissionResult{}, err
	}

	r := AdmissionResult{DateKey: k, LoadDate: loadDate, Rows: n}
	logctx.FromContext(ctx).Info("Loaded row count",
		slog.String("table", a.table),
		slog.String("loadDate", warehouse.DateArg(loadDate)),
		slog.Int64("rows", n))
	return r, nil
}
