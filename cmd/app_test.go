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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/ordergate/config"
	"github.com/cardinalhq/ordergate/internal/datekey"
	"github.com/cardinalhq/ordergate/internal/healthcheck"
	"github.com/cardinalhq/ordergate/internal/pipeline"
	"github.com/cardinalhq/ordergate/internal/scheduler"
	"github.com/cardinalhq/ordergate/internal/schema"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

const testBucket = "orders-bucket"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Source.Provider = "file"
	cfg.Source.BasePath = base
	cfg.Source.Bucket = testBucket
	cfg.Staging.Dir = filepath.Join(base, "staging")
	cfg.Destination.DuckDBPath = filepath.Join(base, "db", "orders.ddb")
	cfg.DuckDB.MetricsPeriod = 0
	cfg.Pipeline.RetryDelay = time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func ordersCSV(rows int) string {
	var b strings.Builder
	b.WriteString(strings.Join(schema.OrdersColumns, ","))
	b.WriteString("\n")
	for i := range rows {
		vals := make([]string, len(schema.OrdersColumns))
		for j, col := range schema.OrdersColumns {
			vals[j] = fmt.Sprintf("%s-%d", col, i)
		}
		b.WriteString(strings.Join(vals, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func putObject(t *testing.T, cfg *config.Config, date, body string) {
	t.Helper()
	key := strings.ReplaceAll(cfg.Source.KeyTemplate, "{date}", date)
	path := filepath.Join(cfg.Source.BasePath, testBucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestRunOnceAdmitsFile(t *testing.T) {
	cfg := testConfig(t)
	putObject(t, cfg, "20250701", ordersCSV(3))

	rep, err := runOnce(context.Background(), cfg, "20250701")
	require.NoError(t, err)
	assert.Equal(t, "20250701", rep.DateKey.String())
	assert.Equal(t, int64(3), rep.Result.Rows)

	res, err := auditDate(context.Background(), cfg, "20250701")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)

	res, err = auditDate(context.Background(), cfg, "20250702")
	require.NoError(t, err)
	assert.Zero(t, res.Rows)
}

func TestRunOnceMissingObjectRetriesThenFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Retries = 2

	_, err := runOnce(context.Background(), cfg, "20250701")
	require.Error(t, err)
	var re *stageerr.RetrievalError
	assert.True(t, errors.As(err, &re))
}

func TestRunOnceRejectsBadDate(t *testing.T) {
	cfg := testConfig(t)
	_, err := runOnce(context.Background(), cfg, "2025-07-01")
	require.Error(t, err)
}

func TestRunOnceRejectsInvalidFile(t *testing.T) {
	cfg := testConfig(t)
	putObject(t, cfg, "20250701", "order_id,amount\n1,2\n")

	_, err := runOnce(context.Background(), cfg, "20250701")
	var sm *stageerr.SchemaMismatchError
	require.True(t, errors.As(err, &sm), "got %v", err)

	res, err := auditDate(context.Background(), cfg, "20250701")
	require.NoError(t, err)
	assert.Zero(t, res.Rows)
}

func TestValidateFile(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.csv")
	require.NoError(t, os.WriteFile(good, []byte(ordersCSV(4)), 0o644))
	rep, err := validateFile(context.Background(), cfg, good)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.PreviewRows)

	dup := filepath.Join(dir, "dup.csv")
	body := ordersCSV(2) + strings.SplitN(ordersCSV(1), "\n", 3)[1] + "\n"
	require.NoError(t, os.WriteFile(dup, []byte(body), 0o644))
	_, err = validateFile(context.Background(), cfg, dup)
	var dk *stageerr.DuplicateKeyError
	assert.True(t, errors.As(err, &dk), "got %v", err)
}

func TestLoadContractFromFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.ContractFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := loadContract(cfg)
	require.Error(t, err)

	cfg.Validation.ContractFile = ""
	c, err := loadContract(cfg)
	require.NoError(t, err)
	assert.Equal(t, schema.OrdersColumns, c.Columns())
}

func TestCloseAll(t *testing.T) {
	assert.NoError(t, closeAll(nil, func() error { return nil }))

	errA := errors.New("a")
	errB := errors.New("b")
	err := closeAll(func() error { return errA }, func() error { return nil }, func() error { return errB })
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestRunScheduleStopsWithContext(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, appNeeds{storage: true, warehouse: true})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	health := healthcheck.NewServer(0)
	assert.NoError(t, runSchedule(ctx, a, health, "0 6 * * *", false))
	assert.True(t, health.IsReady())

	health = healthcheck.NewServer(0)
	assert.Error(t, runSchedule(ctx, a, health, "not a cron", false))
	assert.Equal(t, healthcheck.StatusUnhealthy, health.GetStatus())
}

func TestRunStatus(t *testing.T) {
	k, err := datekey.Parse("20250701")
	require.NoError(t, err)

	rs := runStatus(k, &pipeline.Report{RunID: "r1"}, nil)
	assert.Equal(t, "20250701", rs.DateKey)
	assert.Equal(t, "r1", rs.RunID)
	assert.Empty(t, rs.Error)

	rs = runStatus(k, nil, &stageerr.RetrievalError{Bucket: "b", Key: "k", NotFound: true})
	assert.NotEmpty(t, rs.Error)
	assert.Equal(t, "RetrievalError", rs.Class)
}

type scriptedRunner struct {
	reps []*pipeline.Report
	errs []error
	k    []datekey.DateKey
}

func (r *scriptedRunner) RunFor(_ context.Context, k datekey.DateKey) (*pipeline.Report, error) {
	i := len(r.k)
	r.k = append(r.k, k)
	return r.reps[i], r.errs[i]
}

func TestRunWithPolicyStopsAfterAdmission(t *testing.T) {
	policy := scheduler.RetryPolicy{Retries: 3, Delay: time.Millisecond}
	// Retryable class, but the file is already in the destination.
	countErr := &stageerr.AdmissionError{Table: "orders", Err: errors.New("connection reset")}
	admitted := &pipeline.Report{RunID: "r1", Stages: []pipeline.StageTiming{
		{Name: pipeline.StageAdmit},
		{Name: pipeline.StageCount, Err: countErr},
	}}
	r := &scriptedRunner{reps: []*pipeline.Report{admitted}, errs: []error{countErr}}

	rep, err := runWithPolicy(context.Background(), policy, r, "20250701")
	assert.ErrorIs(t, err, countErr)
	assert.True(t, rep.Admitted())
	assert.Len(t, r.k, 1)
}

func TestRunWithPolicyRetriesBeforeAdmission(t *testing.T) {
	policy := scheduler.RetryPolicy{Retries: 3, Delay: time.Millisecond}
	missing := &stageerr.RetrievalError{Bucket: "b", Key: "k", Err: errors.New("timeout")}
	failed := &pipeline.Report{Stages: []pipeline.StageTiming{{Name: pipeline.StageFetch, Err: missing}}}
	ok := &pipeline.Report{Stages: []pipeline.StageTiming{{Name: pipeline.StageAdmit}, {Name: pipeline.StageCount}}}
	r := &scriptedRunner{reps: []*pipeline.Report{failed, ok}, errs: []error{missing, nil}}

	rep, err := runWithPolicy(context.Background(), policy, r, "20250701")
	require.NoError(t, err)
	assert.True(t, rep.Admitted())
	assert.Len(t, r.k, 2)
}
