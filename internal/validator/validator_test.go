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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/ordergate/internal/schema"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

const ordersHeader = "order_id,customer_id,order_status,order_purchase_timestamp,order_approved_at," +
	"order_delivered_carrier_date,order_delivered_customer_date,order_estimated_delivery_date"

func orderRow(id, customer string) string {
	return fmt.Sprintf("%s,%s,delivered,2017-10-02 10:56:33,2017-10-02 11:07:15,"+
		"2017-10-04 19:55:00,2017-10-10 21:25:13,2017-10-18 00:00:00", id, customer)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders_20250701.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func ordersFile(t *testing.T, rows ...string) string {
	t.Helper()
	return writeFile(t, ordersHeader+"\n"+strings.Join(rows, "\n")+"\n")
}

func manyRows(n int) []string {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = orderRow(fmt.Sprintf("O%d", i+1), fmt.Sprintf("C%d", i+1))
	}
	return rows
}

func TestValidateAcceptsValidFile(t *testing.T) {
	for _, full := range []bool{false, true} {
		t.Run(fmt.Sprintf("fullFile=%v", full), func(t *testing.T) {
			path := ordersFile(t, manyRows(25)...)
			v := New(schema.Orders(), Options{FullFile: full})

			report, err := v.Validate(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, schema.OrdersColumns, report.Header)
			assert.Equal(t, 10, report.PreviewRows)
			assert.Equal(t, int64(25), report.TotalRows)
			assert.Equal(t, full, report.FullFile)
		})
	}
}

func TestValidateHeaderOnly(t *testing.T) {
	path := writeFile(t, ordersHeader+"\n")
	report, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.TotalRows)
}

func TestValidateStripsBOM(t *testing.T) {
	path := writeFile(t, "\uFEFF"+ordersHeader+"\n"+orderRow("O1", "C1")+"\n")
	_, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)
	require.NoError(t, err)
}

func TestValidateSchemaMismatch(t *testing.T) {
	cols := schema.OrdersColumns
	tests := []struct {
		name   string
		header []string
	}{
		{"missing column", append([]string{cols[0]}, cols[2:]...)},
		{"extra column", append(append([]string{}, cols...), "note")},
		{"reordered", append([]string{cols[1], cols[0]}, cols[2:]...)},
		{"renamed", append([]string{"id"}, cols[1:]...)},
		{"case differs", append([]string{"ORDER_ID"}, cols[1:]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, strings.Join(tt.header, ",")+"\n")
			_, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)

			var sme *stageerr.SchemaMismatchError
			require.ErrorAs(t, err, &sme)
			assert.Equal(t, cols, sme.Expected)
			assert.Equal(t, tt.header, sme.Actual)
		})
	}
}

func TestValidateMissingCustomerIDColumn(t *testing.T) {
	header := strings.Replace(ordersHeader, "customer_id,", "", 1)
	path := writeFile(t, header+"\nO1,delivered,a,b,c,d,e\n")

	_, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)
	var sme *stageerr.SchemaMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Len(t, sme.Expected, 8)
	assert.Len(t, sme.Actual, 7)
	assert.Equal(t, []string{"customer_id"}, sme.Missing())
	assert.Contains(t, err.Error(), "expected 8 columns")
	assert.Contains(t, err.Error(), "got 7")
}

func TestValidateMissingValues(t *testing.T) {
	path := ordersFile(t,
		orderRow("O1", "C1"),
		orderRow("O2", ""),
		orderRow("", "C3"),
		orderRow("O4", "NA"),
	)
	_, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)

	var mve *stageerr.MissingValueError
	require.ErrorAs(t, err, &mve)
	assert.Equal(t, []stageerr.ColumnCount{{Column: "order_id", Count: 1}, {Column: "customer_id", Count: 2}}, mve.Counts)
	assert.Equal(t, 4, mve.RowsChecked)
}

func TestValidateShortRowCountsAsMissing(t *testing.T) {
	path := ordersFile(t, orderRow("O1", "C1"), "O2")
	_, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)

	var mve *stageerr.MissingValueError
	require.ErrorAs(t, err, &mve)
	assert.Equal(t, []stageerr.ColumnCount{{Column: "customer_id", Count: 1}}, mve.Counts)
}

func TestValidateDuplicateKeys(t *testing.T) {
	path := ordersFile(t,
		orderRow("O100", "C1"),
		orderRow("O101", "C2"),
		orderRow("O100", "C3"),
	)
	_, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)

	var dke *stageerr.DuplicateKeyError
	require.ErrorAs(t, err, &dke)
	assert.Equal(t, "order_id", dke.Column)
	require.Len(t, dke.Rows, 2)
	assert.Equal(t, 2, dke.Rows[0].Line)
	assert.Equal(t, 4, dke.Rows[1].Line)
	assert.Equal(t, "C1", dke.Rows[0].Values[1])
	assert.Equal(t, "C3", dke.Rows[1].Values[1])
}

func TestValidateMissingValuesWinOverDuplicates(t *testing.T) {
	path := ordersFile(t, orderRow("O1", ""), orderRow("O1", "C2"))
	_, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)

	var mve *stageerr.MissingValueError
	require.ErrorAs(t, err, &mve)
}

func TestPreviewBoundsQualityChecks(t *testing.T) {
	rows := manyRows(20)
	rows = append(rows, orderRow("O1", "C99"), orderRow("O50", ""))
	path := ordersFile(t, rows...)

	t.Run("preview ignores defects past the preview", func(t *testing.T) {
		report, err := New(schema.Orders(), Options{PreviewRows: 10}).Validate(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, int64(22), report.TotalRows)
	})

	t.Run("full file finds missing values first", func(t *testing.T) {
		_, err := New(schema.Orders(), Options{FullFile: true}).Validate(context.Background(), path)
		var mve *stageerr.MissingValueError
		require.ErrorAs(t, err, &mve)
		assert.Equal(t, 22, mve.RowsChecked)
	})
}

func TestFullFileFindsLateDuplicates(t *testing.T) {
	rows := append(manyRows(15), orderRow("O3", "C99"))
	path := ordersFile(t, rows...)

	_, err := New(schema.Orders(), Options{FullFile: true}).Validate(context.Background(), path)
	var dke *stageerr.DuplicateKeyError
	require.ErrorAs(t, err, &dke)
	require.Len(t, dke.Rows, 2)
	assert.Equal(t, 4, dke.Rows[0].Line)
	assert.Equal(t, 17, dke.Rows[1].Line)
}

func TestValidateParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"empty file", "", 1},
		{"too many fields in preview", ordersHeader + "\n" + orderRow("O1", "C1") + ",extra\n", 2},
		{"bare quote in quoted field", ordersHeader + "\n\"O1\"x\"," + "C1\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.content)
			_, err := New(schema.Orders(), Options{}).Validate(context.Background(), path)
			var pe *stageerr.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, path, pe.Path)
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

func TestValidateParseErrorBeyondPreview(t *testing.T) {
	rows := append(manyRows(12), orderRow("O99", "C99")+",extra")
	path := ordersFile(t, rows...)

	_, err := New(schema.Orders(), Options{PreviewRows: 5}).Validate(context.Background(), path)
	var pe *stageerr.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 14, pe.Line)
}

func TestValidateMissingFile(t *testing.T) {
	_, err := New(schema.Orders(), Options{}).Validate(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	var pe *stageerr.ParseError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateHonorsCancellation(t *testing.T) {
	path := ordersFile(t, manyRows(3)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(schema.Orders(), Options{}).Validate(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
