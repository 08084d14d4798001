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

// Package pipeline runs the daily orders admission: locate the DateKey,
// fetch and stage the file, validate it, admit it, then audit the count.
// The first failing stage ends the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/ordergate/internal/admitter"
	"github.com/cardinalhq/ordergate/internal/auditor"
	"github.com/cardinalhq/ordergate/internal/datekey"
	"github.com/cardinalhq/ordergate/internal/fetcher"
	"github.com/cardinalhq/ordergate/internal/idgen"
	"github.com/cardinalhq/ordergate/internal/logctx"
	"github.com/cardinalhq/ordergate/internal/runctx"
	"github.com/cardinalhq/ordergate/internal/validator"
)

// Stage names, in run order.
const (
	StageLocate   = "get_today_file_date"
	StageFetch    = "fetch_orders_file"
	StageValidate = "validate_orders_file"
	StageAdmit    = "copy_orders"
	StageCount    = "count_loaded_rows"
)

type Fetcher interface {
	Fetch(ctx context.Context, k datekey.DateKey) (*fetcher.StagedFile, error)
}

type Validator interface {
	Validate(ctx context.Context, path string) (*validator.Report, error)
}

type Admitter interface {
	Admit(ctx context.Context, k datekey.DateKey, path string, expected int64) (admitter.Outcome, error)
}

type Auditor interface {
	Audit(ctx context.Context, k datekey.DateKey) (auditor.AdmissionResult, error)
}

// Config is fixed for the lifetime of a Pipeline.
type Config struct {
	// RemoveStaged deletes the staged file after a successful run. Failed
	// runs always keep it for inspection.
	RemoveStaged bool
}

// Deps are the collaborators of each stage.
type Deps struct {
	Locator   *datekey.Locator
	Fetcher   Fetcher
	Validator Validator
	Admitter  Admitter
	Auditor   Auditor

	NewRunID      func() string
	Now           func() time.Time
	MeterProvider metric.MeterProvider
}

type Pipeline struct {
	cfg     Config
	deps    Deps
	metrics *stageMetrics
}

// StageTiming records how one stage went.
type StageTiming struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Report is the record of one run. Fields for stages that did not run are
// left zero.
type Report struct {
	RunID      string
	DateKey    datekey.DateKey
	Staged     *fetcher.StagedFile
	Validation *validator.Report
	Admission  admitter.Outcome
	Result     auditor.AdmissionResult
	Stages     []StageTiming
}

// Admitted reports whether the admission stage of this run succeeded.
func (r *Report) Admitted() bool {
	if r == nil {
		return false
	}
	for _, st := range r.Stages {
		if st.Name == StageAdmit && st.Err == nil {
			return true
		}
	}
	return false
}

// New builds a Pipeline. Collaborators may be left nil when only ValidateFile
// or Audit will be called; a full run requires all of them.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Locator == nil {
		deps.Locator = datekey.NewLocator()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = idgen.NextRunID
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = otel.GetMeterProvider()
	}
	m, err := newStageMetrics(deps.MeterProvider)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, deps: deps, metrics: m}, nil
}

// Run admits the file for the current DateKey.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	return p.run(ctx, "")
}

// RunFor admits the file for k, skipping the locate stage.
func (p *Pipeline) RunFor(ctx context.Context, k datekey.DateKey) (*Report, error) {
	if k.IsZero() {
		return nil, errors.New("pipeline: date key is required")
	}
	return p.run(ctx, k)
}

// ValidateFile runs only the validation stage against a local file.
func (p *Pipeline) ValidateFile(ctx context.Context, path string) (*validator.Report, error) {
	if p.deps.Validator == nil {
		return nil, errors.New("pipeline: validator is not configured")
	}
	var rep *validator.Report
	err := p.stage(ctx, nil, StageValidate, func(ctx context.Context) error {
		var err error
		rep, err = p.deps.Validator.Validate(ctx, path)
		return err
	})
	return rep, err
}

// Audit runs only the count stage for k.
func (p *Pipeline) Audit(ctx context.Context, k datekey.DateKey) (auditor.AdmissionResult, error) {
	if p.deps.Auditor == nil {
		return auditor.AdmissionResult{}, errors.New("pipeline: auditor is not configured")
	}
	var res auditor.AdmissionResult
	err := p.stage(ctx, nil, StageCount, func(ctx context.Context) error {
		var err error
		res, err = p.deps.Auditor.Audit(ctx, k)
		return err
	})
	return res, err
}

func (p *Pipeline) checkRunDeps() error {
	switch {
	case p.deps.Fetcher == nil:
		return errors.New("pipeline: fetcher is not configured")
	case p.deps.Validator == nil:
		return errors.New("pipeline: validator is not configured")
	case p.deps.Admitter == nil:
		return errors.New("pipeline: admitter is not configured")
	case p.deps.Auditor == nil:
		return errors.New("pipeline: auditor is not configured")
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, override datekey.DateKey) (*Report, error) {
	if err := p.checkRunDeps(); err != nil {
		return nil, err
	}
	run := runctx.New(p.deps.NewRunID(), p.deps.Now())
	ctx = runctx.WithRun(ctx, run)
	ctx = logctx.With(ctx, slog.String("runID", run.ID()))
	rep := &Report{RunID: run.ID()}

	ll := logctx.FromContext(ctx)
	ll.Info("Pipeline run started")

	err := p.runStages(ctx, run, rep, override)
	total := p.deps.Now().Sub(run.StartedAt())
	if err != nil {
		ll.Error("Pipeline run failed", slog.Duration("duration", total), slog.Any("error", err))
		return rep, err
	}

	if p.cfg.RemoveStaged && rep.Staged != nil {
		if rmErr := os.Remove(rep.Staged.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			ll.Warn("Failed to remove staged file", slog.String("path", rep.Staged.Path), slog.Any("error", rmErr))
		}
	}
	ll.Info("Pipeline run complete",
		slog.Duration("duration", total),
		slog.Int64("rowsLoaded", rep.Admission.RowsLoaded),
		slog.Int64("rowsSkipped", rep.Admission.RowsSkipped),
		slog.Int64("rowsCounted", rep.Result.Rows))
	return rep, nil
}

func (p *Pipeline) runStages(ctx context.Context, run *runctx.Run, rep *Report, override datekey.DateKey) error {
	if override.IsZero() {
		if err := p.stage(ctx, rep, StageLocate, func(context.Context) error {
			return run.SetDateKey(p.deps.Locator.Locate())
		}); err != nil {
			return err
		}
	} else if err := run.SetDateKey(override); err != nil {
		return err
	}

	k, err := run.DateKey()
	if err != nil {
		return err
	}
	rep.DateKey = k
	ctx = logctx.With(ctx, slog.String("dateKey", k.String()))

	if err := p.stage(ctx, rep, StageFetch, func(ctx context.Context) error {
		staged, err := p.deps.Fetcher.Fetch(ctx, k)
		if err != nil {
			return err
		}
		rep.Staged = staged
		return run.SetStagedPath(staged.Path)
	}); err != nil {
		return err
	}

	path, err := run.StagedPath()
	if err != nil {
		return err
	}

	if err := p.stage(ctx, rep, StageValidate, func(ctx context.Context) error {
		v, err := p.deps.Validator.Validate(ctx, path)
		if err != nil {
			return err
		}
		rep.Validation = v
		return nil
	}); err != nil {
		return err
	}

	if err := p.stage(ctx, rep, StageAdmit, func(ctx context.Context) error {
		out, err := p.deps.Admitter.Admit(ctx, k, path, rep.Validation.TotalRows)
		if err != nil {
			return err
		}
		rep.Admission = out
		p.metrics.recordAdmission(ctx, out)
		return nil
	}); err != nil {
		return err
	}

	return p.stage(ctx, rep, StageCount, func(ctx context.Context) error {
		res, err := p.deps.Auditor.Audit(ctx, k)
		if err != nil {
			return err
		}
		rep.Result = res
		return nil
	})
}

// stage runs fn as the named stage, logging and timing it. A cancelled
// context stops the run before the stage starts.
func (p *Pipeline) stage(ctx context.Context, rep *Report, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	ctx = logctx.With(ctx, slog.String("stage", name))
	ll := logctx.FromContext(ctx)
	ll.Debug("Stage started")

	start := p.deps.Now()
	err := fn(ctx)
	dur := p.deps.Now().Sub(start)

	p.metrics.recordStage(ctx, name, dur, err)
	if rep != nil {
		rep.Stages = append(rep.Stages, StageTiming{Name: name, Duration: dur, Err: err})
	}

	if err != nil {
		span.RecordError(err)
		logStageError(ll, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	ll.Info("Stage complete", slog.Duration("duration", dur))
	return nil
}
