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

package warehouse

import (
	"fmt"
	"math"

	"github.com/cardinalhq/ordergate/internal/stageerr"
)

// Result is a query result: ordered column names and records.
type Result struct {
	Columns []string
	Records [][]any
}

// Scalar returns the single integer value of a one-record, one-field
// result. Any other shape is an UnexpectedResultShapeError.
func (r *Result) Scalar() (int64, error) {
	if r == nil {
		return 0, &stageerr.UnexpectedResultShapeError{Fields: -1, Reason: "no result"}
	}
	fields := -1
	if len(r.Records) > 0 {
		fields = len(r.Records[0])
	}
	shapeErr := func(reason string) error {
		return &stageerr.UnexpectedResultShapeError{Records: len(r.Records), Fields: fields, Reason: reason}
	}

	switch {
	case len(r.Records) == 0:
		return 0, shapeErr("no records")
	case len(r.Records) > 1:
		return 0, shapeErr("more than one record")
	case fields != 1:
		return 0, shapeErr(fmt.Sprintf("expected one field, got %d", fields))
	}

	switch v := r.Records[0][0].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, shapeErr("value out of range")
		}
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case nil:
		return 0, shapeErr("null value")
	default:
		return 0, shapeErr(fmt.Sprintf("non-integer value of type %T", v))
	}
}
