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

// Package validator runs the ordered integrity checks a staged orders file
// must pass before it may be admitted. The first violation ends validation.
package validator

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/cardinalhq/ordergate/internal/logctx"
	"github.com/cardinalhq/ordergate/internal/schema"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

// DefaultPreviewRows bounds the rows the quality checks inspect when
// full-file validation is off.
const DefaultPreviewRows = 10

// cancelCheckEvery is how many rows the full pass reads between context checks.
const cancelCheckEvery = 4096

type Options struct {
	// PreviewRows is the number of data rows parsed for the readability,
	// schema, completeness and uniqueness checks. Zero selects the default.
	PreviewRows int
	// FullFile applies the completeness and uniqueness checks to every row
	// instead of the preview.
	FullFile bool
}

// Report describes a file that passed validation.
type Report struct {
	Header      []string
	PreviewRows int
	TotalRows   int64
	FullFile    bool
}

type Validator struct {
	contract *schema.Contract
	opts     Options

	required    []string
	requiredIdx []int
	uniqueIdx   int
}

func New(contract *schema.Contract, opts Options) *Validator {
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = DefaultPreviewRows
	}
	required := contract.Required()
	requiredIdx := make([]int, len(required))
	for i, col := range required {
		requiredIdx[i] = contract.Index(col)
	}
	return &Validator{
		contract:    contract,
		opts:        opts,
		required:    required,
		requiredIdx: requiredIdx,
		uniqueIdx:   contract.Index(contract.Unique()),
	}
}

// Validate checks the file at path. Checks run in order: readability of the
// preview, header shape, required-field completeness, key uniqueness, and a
// full-file parse that yields the row count.
func (v *Validator) Validate(ctx context.Context, path string) (*Report, error) {
	ll := logctx.FromContext(ctx)

	header, preview, err := v.readPreview(path)
	if err != nil {
		return nil, err
	}
	ll.Info("Parsed file preview", "path", path, "previewRows", len(preview))

	if !v.contract.HeaderMatches(header) {
		return nil, &stageerr.SchemaMismatchError{
			Expected: v.contract.Columns(),
			Actual:   header,
		}
	}
	ll.Info("Column names match expected schema")

	if !v.opts.FullFile {
		if err := v.checkRequired(preview); err != nil {
			return nil, err
		}
		ll.Info("No missing values in required columns", "rowsChecked", len(preview))
		if err := v.checkUnique(preview); err != nil {
			return nil, err
		}
		ll.Info("All key values are unique", "column", v.contract.Unique(), "rowsChecked", len(preview))
	}

	total, err := v.fullPass(ctx, path)
	if err != nil {
		return nil, err
	}
	ll.Info("Counted rows in file", "path", path, "rows", total, "fullFile", v.opts.FullFile)

	return &Report{
		Header:      header,
		PreviewRows: len(preview),
		TotalRows:   total,
		FullFile:    v.opts.FullFile,
	}, nil
}

func (v *Validator) readPreview(path string) ([]string, []stageerr.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &stageerr.ParseError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	rr, err := newRowReader(path, f)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]stageerr.Row, 0, v.opts.PreviewRows)
	for len(rows) < v.opts.PreviewRows {
		row, err := rr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return rr.header, rows, nil
}

func (v *Validator) checkRequired(rows []stageerr.Row) error {
	counts := make([]int, len(v.required))
	for _, row := range rows {
		v.countNulls(row, counts)
	}
	return v.missingValueError(counts, len(rows))
}

func (v *Validator) countNulls(row stageerr.Row, counts []int) {
	for i, idx := range v.requiredIdx {
		if v.contract.IsNull(row.Values[idx]) {
			counts[i]++
		}
	}
}

func (v *Validator) missingValueError(counts []int, rowsChecked int) error {
	var offending []stageerr.ColumnCount
	for i, col := range v.required {
		if counts[i] > 0 {
			offending = append(offending, stageerr.ColumnCount{Column: col, Count: counts[i]})
		}
	}
	if len(offending) == 0 {
		return nil
	}
	return &stageerr.MissingValueError{Counts: offending, RowsChecked: rowsChecked}
}

func (v *Validator) checkUnique(rows []stageerr.Row) error {
	seen := make(map[string]int, len(rows))
	for _, row := range rows {
		seen[row.Values[v.uniqueIdx]]++
	}
	var dups []stageerr.Row
	for _, row := range rows {
		if seen[row.Values[v.uniqueIdx]] > 1 {
			dups = append(dups, row)
		}
	}
	if len(dups) == 0 {
		return nil
	}
	return &stageerr.DuplicateKeyError{Column: v.contract.Unique(), Rows: dups}
}

// fullPass parses every row of the file and returns the row count. In
// full-file mode it also runs the completeness and uniqueness checks over
// all rows; duplicate rows are gathered in a second pass so that only key
// counts are held in memory.
func (v *Validator) fullPass(ctx context.Context, path string) (int64, error) {
	var (
		total     int64
		nullCount []int
		keyCount  map[string]int
	)
	if v.opts.FullFile {
		nullCount = make([]int, len(v.required))
		keyCount = make(map[string]int)
	}

	err := v.scan(ctx, path, func(row stageerr.Row) {
		total++
		if v.opts.FullFile {
			v.countNulls(row, nullCount)
			keyCount[row.Values[v.uniqueIdx]]++
		}
	})
	if err != nil {
		return 0, err
	}
	if !v.opts.FullFile {
		return total, nil
	}

	if err := v.missingValueError(nullCount, int(total)); err != nil {
		return 0, err
	}

	hasDup := false
	for _, n := range keyCount {
		if n > 1 {
			hasDup = true
			break
		}
	}
	if !hasDup {
		return total, nil
	}

	var dups []stageerr.Row
	err = v.scan(ctx, path, func(row stageerr.Row) {
		if keyCount[row.Values[v.uniqueIdx]] > 1 {
			dups = append(dups, row)
		}
	})
	if err != nil {
		return 0, err
	}
	return 0, &stageerr.DuplicateKeyError{Column: v.contract.Unique(), Rows: dups}
}

func (v *Validator) scan(ctx context.Context, path string, fn func(stageerr.Row)) error {
	f, err := os.Open(path)
	if err != nil {
		return &stageerr.ParseError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	rr, err := newRowReader(path, f)
	if err != nil {
		return err
	}
	if len(rr.header) != len(v.contract.Columns()) {
		return &stageerr.ParseError{Path: path, Line: 1, Err: errors.New("header changed during validation")}
	}

	for n := 0; ; n++ {
		if n%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row, err := rr.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(row)
	}
}
