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

package validator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cardinalhq/ordergate/internal/stageerr"
)

const utf8BOM = "\uFEFF"

// rowReader reads a comma-delimited file with a header row. Rows shorter
// than the header are padded with empty cells; longer rows are a parse error.
type rowReader struct {
	path   string
	csv    *csv.Reader
	header []string
}

func newRowReader(path string, r io.Reader) (*rowReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // width is enforced against the header below

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &stageerr.ParseError{Path: path, Line: 1, Err: errors.New("file is empty, no header row")}
		}
		return nil, toParseError(path, err)
	}
	header[0] = strings.TrimPrefix(header[0], utf8BOM)

	return &rowReader{path: path, csv: cr, header: header}, nil
}

// next returns the next data row, or io.EOF.
func (r *rowReader) next() (stageerr.Row, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stageerr.Row{}, io.EOF
		}
		return stageerr.Row{}, toParseError(r.path, err)
	}
	line, _ := r.csv.FieldPos(0)

	switch {
	case len(record) > len(r.header):
		return stageerr.Row{}, &stageerr.ParseError{
			Path: r.path,
			Line: line,
			Err:  fmt.Errorf("expected %d fields, saw %d", len(r.header), len(record)),
		}
	case len(record) < len(r.header):
		padded := make([]string, len(r.header))
		copy(padded, record)
		record = padded
	}
	return stageerr.Row{Line: line, Values: record}, nil
}

func toParseError(path string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &stageerr.ParseError{Path: path, Line: pe.Line, Err: pe.Err}
	}
	return &stageerr.ParseError{Path: path, Err: err}
}
