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

// Package scheduler fires pipeline runs on a cron schedule and guarantees
// at most one admission per DateKey within the process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/ordergate/internal/datekey"
)

// RunFunc performs one complete run for k. admitted reports whether the
// file reached the destination, which can be true even when err is not nil.
type RunFunc func(ctx context.Context, k datekey.DateKey) (admitted bool, err error)

// Scheduler triggers runs and remembers the DateKeys it has admitted.
type Scheduler struct {
	spec     string
	locator  *datekey.Locator
	run      RunFunc
	group    singleflight.Group
	admitted *ttlcache.Cache[datekey.DateKey, time.Time]
}

// New validates the standard five-field cron expression. admittedTTL bounds how
// long an admitted DateKey is remembered and should exceed one day.
func New(spec string, locator *datekey.Locator, run RunFunc, admittedTTL time.Duration) (*Scheduler, error) {
	if run == nil {
		return nil, errors.New("scheduler: run function is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if locator == nil {
		locator = datekey.NewLocator()
	}
	if admittedTTL <= 0 {
		admittedTTL = 36 * time.Hour
	}
	return &Scheduler{
		spec:    spec,
		locator: locator,
		run:     run,
		admitted: ttlcache.New(
			ttlcache.WithTTL[datekey.DateKey, time.Time](admittedTTL),
			ttlcache.WithDisableTouchOnHit[datekey.DateKey, time.Time](),
		),
	}, nil
}

// Admitted reports whether k was admitted by this scheduler.
func (s *Scheduler) Admitted(k datekey.DateKey) bool {
	return s.admitted.Has(k)
}

// Trigger runs k unless it is already admitted. A key is remembered once
// its run reports the admission, even if a later stage of that run fails.
// Concurrent triggers for the same key share one run; only the caller that
// executed it sees ran == true.
func (s *Scheduler) Trigger(ctx context.Context, k datekey.DateKey) (ran bool, err error) {
	if s.Admitted(k) {
		slog.Info("DateKey already admitted, skipping trigger", slog.String("dateKey", k.String()))
		return false, nil
	}

	v, err, shared := s.group.Do(k.String(), func() (any, error) {
		if s.Admitted(k) {
			return false, nil
		}
		admitted, err := s.run(ctx, k)
		if admitted {
			s.admitted.Set(k, time.Now(), ttlcache.DefaultTTL)
		}
		if err != nil {
			if admitted {
				slog.Warn("Run failed after admission, DateKey will not be admitted again",
					slog.String("dateKey", k.String()), slog.Any("error", err))
			}
			return false, err
		}
		return admitted, nil
	})
	if err != nil {
		return false, err
	}
	if shared {
		slog.Info("Joined in-flight run for DateKey", slog.String("dateKey", k.String()))
		return false, nil
	}
	return v.(bool), nil
}

// Run fires a trigger for the current DateKey on every schedule tick until
// ctx is done, then waits for the active run to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	go s.admitted.Start()
	defer s.admitted.Stop()

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.spec, func() { s.fire(ctx) }); err != nil {
		return fmt.Errorf("add schedule: %w", err)
	}
	c.Start()
	slog.Info("Scheduler started", slog.String("schedule", s.spec))

	<-ctx.Done()
	slog.Info("Scheduler stopping, waiting for active run")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) fire(ctx context.Context) {
	k := s.locator.Locate()
	ran, err := s.Trigger(ctx, k)
	switch {
	case err != nil:
		slog.Error("Scheduled run failed", slog.String("dateKey", k.String()), slog.Any("error", err))
	case ran:
		slog.Info("Scheduled run admitted file", slog.String("dateKey", k.String()))
	}
}
