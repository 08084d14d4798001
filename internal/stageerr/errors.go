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

// Package stageerr defines the classified errors a pipeline run can stop
// with. Every error carries the structured context needed to diagnose the
// failure without re-running, and exposes it as slog attributes.
package stageerr

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Attributer is implemented by every error in this package.
type Attributer interface {
	LogAttrs() []slog.Attr
}

// RetrievalError reports that the remote object could not be fetched.
type RetrievalError struct {
	Bucket   string
	Key      string
	NotFound bool
	Code     string // provider error code, when one was returned
	Err      error
}

func (e *RetrievalError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("retrieve %s/%s: object not found", e.Bucket, e.Key)
	}
	return fmt.Sprintf("retrieve %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

func (e *RetrievalError) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("bucket", e.Bucket),
		slog.String("key", e.Key),
		slog.Bool("notFound", e.NotFound),
	}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", e.Code))
	}
	return attrs
}

// StagingError reports that a retrieved file could not be placed at its
// deterministic local path.
type StagingError struct {
	Source string
	Path   string
	Reason string
	Err    error
}

func (e *StagingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s: %s", e.Path, e.Reason)
}

func (e *StagingError) Unwrap() error { return e.Err }

func (e *StagingError) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("source", e.Source),
		slog.String("path", e.Path),
		slog.String("reason", e.Reason),
	}
}

// ParseError reports that the staged file is not readable as delimited data.
// Line is 1-based and counts the header; 0 means unknown.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s at line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("path", e.Path),
		slog.Int("line", e.Line),
	}
}

// SchemaMismatchError reports a header that differs from the contract.
type SchemaMismatchError struct {
	Expected []string
	Actual   []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("column mismatch: expected %d columns %v, got %d %v",
		len(e.Expected), e.Expected, len(e.Actual), e.Actual)
}

// Missing returns the expected columns absent from the actual header.
func (e *SchemaMismatchError) Missing() []string {
	var out []string
	for _, c := range e.Expected {
		if !slices.Contains(e.Actual, c) {
			out = append(out, c)
		}
	}
	return out
}

// Unexpected returns the actual columns the contract does not name.
func (e *SchemaMismatchError) Unexpected() []string {
	var out []string
	for _, c := range e.Actual {
		if !slices.Contains(e.Expected, c) {
			out = append(out, c)
		}
	}
	return out
}

func (e *SchemaMismatchError) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Any("expected", e.Expected),
		slog.Any("actual", e.Actual),
		slog.Any("missing", e.Missing()),
		slog.Any("unexpected", e.Unexpected()),
	}
}

// ColumnCount pairs a column with a number of offending values.
type ColumnCount struct {
	Column string
	Count  int
}

// MissingValueError reports nulls in columns that must always be populated.
type MissingValueError struct {
	Counts      []ColumnCount
	RowsChecked int
}

func (e *MissingValueError) Error() string {
	parts := make([]string, 0, len(e.Counts))
	for _, c := range e.Counts {
		parts = append(parts, fmt.Sprintf("%s=%d", c.Column, c.Count))
	}
	return fmt.Sprintf("missing values in required columns (%s) across %d rows",
		strings.Join(parts, ", "), e.RowsChecked)
}

func (e *MissingValueError) LogAttrs() []slog.Attr {
	attrs := make([]any, 0, len(e.Counts))
	for _, c := range e.Counts {
		attrs = append(attrs, slog.Int(c.Column, c.Count))
	}
	return []slog.Attr{
		slog.Group("nulls", attrs...),
		slog.Int("rowsChecked", e.RowsChecked),
	}
}

// Row is one data row of the staged file. Line is the 1-based file line.
type Row struct {
	Line   int
	Values []string
}

// DuplicateKeyError reports repeated values in the unique column. Rows holds
// every occurrence of every repeated value, in file order.
type DuplicateKeyError struct {
	Column string
	Rows   []Row
}

// Keys returns the distinct repeated values in first-seen order.
func (e *DuplicateKeyError) Keys(columnIndex int) []string {
	var keys []string
	for _, r := range e.Rows {
		if columnIndex >= len(r.Values) {
			continue
		}
		if !slices.Contains(keys, r.Values[columnIndex]) {
			keys = append(keys, r.Values[columnIndex])
		}
	}
	return keys
}

func (e *DuplicateKeyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "duplicate %s values found in %d rows:", e.Column, len(e.Rows))
	for _, r := range e.Rows {
		fmt.Fprintf(&b, "\n  line %d: %s", r.Line, strings.Join(r.Values, ","))
	}
	return b.String()
}

func (e *DuplicateKeyError) LogAttrs() []slog.Attr {
	lines := make([]int, 0, len(e.Rows))
	for _, r := range e.Rows {
		lines = append(lines, r.Line)
	}
	return []slog.Attr{
		slog.String("column", e.Column),
		slog.Any("lines", lines),
	}
}

// AdmissionError reports that the bulk admission could not be issued.
type AdmissionError struct {
	Table  string
	Source string
	Err    error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admit %s into %s: %v", e.Source, e.Table, e.Err)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

func (e *AdmissionError) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("table", e.Table),
		slog.String("source", e.Source),
	}
}

// UnexpectedResultShapeError reports a count query result that is not
// exactly one record holding one value.
type UnexpectedResultShapeError struct {
	Records int
	Fields  int // fields of the first record, -1 when there is none
	Reason  string
}

func (e *UnexpectedResultShapeError) Error() string {
	return fmt.Sprintf("unexpected count result shape: %s (records=%d, fields=%d)", e.Reason, e.Records, e.Fields)
}

func (e *UnexpectedResultShapeError) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Int("records", e.Records),
		slog.Int("fields", e.Fields),
		slog.String("reason", e.Reason),
	}
}

// Retryable reports whether a whole-run retry could plausibly succeed.
// Validation failures are deterministic for a given file, and a result shape
// failure happens after rows were admitted, so neither is retryable.
func Retryable(err error) bool {
	var (
		re *RetrievalError
		se *StagingError
		ae *AdmissionError
	)
	return errors.As(err, &re) || errors.As(err, &se) || errors.As(err, &ae)
}

// Class returns the taxonomy name of err, or "unclassified".
func Class(err error) string {
	var (
		re  *RetrievalError
		se  *StagingError
		pe  *ParseError
		sme *SchemaMismatchError
		mve *MissingValueError
		dke *DuplicateKeyError
		ae  *AdmissionError
		ure *UnexpectedResultShapeError
	)
	switch {
	case errors.As(err, &re):
		return "RetrievalError"
	case errors.As(err, &se):
		return "StagingError"
	case errors.As(err, &pe):
		return "ParseError"
	case errors.As(err, &sme):
		return "SchemaMismatchError"
	case errors.As(err, &mve):
		return "MissingValueError"
	case errors.As(err, &dke):
		return "DuplicateKeyError"
	case errors.As(err, &ae):
		return "AdmissionError"
	case errors.As(err, &ure):
		return "UnexpectedResultShapeError"
	default:
		return "unclassified"
	}
}

// Attrs returns the structured context of err when it carries any.
func Attrs(err error) []slog.Attr {
	var a Attributer
	if errors.As(err, &a) {
		return a.LogAttrs()
	}
	return nil
}
