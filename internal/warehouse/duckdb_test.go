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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testColumns = []string{"order_id", "customer_id", "order_status"}

func openTestDuckDB(t *testing.T) *DuckDB {
	t.Helper()
	w, err := OpenDuckDB(context.Background(), Config{
		Driver:     DriverDuckDB,
		Table:      "orders",
		Columns:    testColumns,
		DuckDBPath: filepath.Join(t.TempDir(), "warehouse.ddb"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "orders_20250701.csv")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func countFor(t *testing.T, w Warehouse, day time.Time) int64 {
	t.Helper()
	res, err := w.Query(context.Background(), CountByLoadDateSQL(w.Table()), DateArg(day))
	require.NoError(t, err)
	n, err := res.Scalar()
	require.NoError(t, err)
	return n
}

func TestDuckDBLoadAndCount(t *testing.T) {
	w := openTestDuckDB(t)
	ctx := context.Background()
	day := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	path := writeCSV(t, "order_id,customer_id,order_status\nO1,C1,shipped\nO2,C2,delivered\nO3,C3,\n")
	out, err := w.Load(ctx, LoadRequest{Path: path, LoadDate: day})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.RowsLoaded)

	assert.Equal(t, int64(3), countFor(t, w, day))
	assert.Equal(t, int64(0), countFor(t, w, day.AddDate(0, 0, -1)))

	res, err := w.Query(ctx, `SELECT order_id, order_status FROM "orders" ORDER BY order_id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "order_status"}, res.Columns)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "O1", res.Records[0][0])
	assert.Nil(t, res.Records[2][1], "empty cells load as NULL")
}

func TestDuckDBLoadSkipsMalformedRows(t *testing.T) {
	w := openTestDuckDB(t)
	day := time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)

	path := writeCSV(t, "order_id,customer_id,order_status\nO1,C1,shipped\nO2,C2,delivered,extra\nO3,C3,created\n")
	out, err := w.Load(context.Background(), LoadRequest{Path: path, LoadDate: day})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.RowsLoaded)
	assert.Equal(t, int64(2), countFor(t, w, day))
}

func TestDuckDBLoadSeparatesDays(t *testing.T) {
	w := openTestDuckDB(t)
	ctx := context.Background()
	d1 := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	path := writeCSV(t, "order_id,customer_id,order_status\nO1,C1,shipped\n")
	_, err := w.Load(ctx, LoadRequest{Path: path, LoadDate: d1})
	require.NoError(t, err)
	_, err = w.Load(ctx, LoadRequest{Path: path, LoadDate: d2})
	require.NoError(t, err)

	assert.Equal(t, int64(1), countFor(t, w, d1))
	assert.Equal(t, int64(1), countFor(t, w, d2))
}

func TestDuckDBLoadMissingFile(t *testing.T) {
	w := openTestDuckDB(t)
	_, err := w.Load(context.Background(), LoadRequest{
		Path:     filepath.Join(t.TempDir(), "absent.csv"),
		LoadDate: time.Now(),
	})
	assert.Error(t, err)
}

func TestDuckDBQueryShapeErrors(t *testing.T) {
	w := openTestDuckDB(t)
	res, err := w.Query(context.Background(), `SELECT 1, 2`)
	require.NoError(t, err)
	_, err = res.Scalar()
	assert.Error(t, err)

	res, err = w.Query(context.Background(), `SELECT * FROM range(3)`)
	require.NoError(t, err)
	_, err = res.Scalar()
	assert.Error(t, err)
}

func TestLoadSQLEscapesPath(t *testing.T) {
	w := &DuckDB{table: `"orders"`, columns: []string{"order_id"}}
	sql := w.loadSQL("/tmp/o'brien.csv")
	assert.Contains(t, sql, `read_csv('/tmp/o''brien.csv'`)
	assert.Contains(t, sql, `columns={'order_id': 'VARCHAR'}`)
	assert.Contains(t, sql, "ignore_errors=true")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", Table: "orders", Columns: testColumns})
	assert.Error(t, err)
}

type countlessResult struct{}

func (countlessResult) LastInsertId() (int64, error) { return 0, errors.New("not supported") }
func (countlessResult) RowsAffected() (int64, error) { return 0, errors.New("driver: no row count") }

type countedResult int64

func (r countedResult) LastInsertId() (int64, error) { return 0, nil }
func (r countedResult) RowsAffected() (int64, error) { return int64(r), nil }

func TestLoadOutcomeWithoutRowCount(t *testing.T) {
	w := &DuckDB{table: `"orders"`}
	assert.Equal(t, LoadOutcome{RowsLoaded: RowsUnknown}, w.loadOutcome(countlessResult{}))
	assert.Equal(t, LoadOutcome{RowsLoaded: 7}, w.loadOutcome(countedResult(7)))
}
