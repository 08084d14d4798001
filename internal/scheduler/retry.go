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

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cardinalhq/ordergate/internal/logctx"
	"github.com/cardinalhq/ordergate/internal/stageerr"
)

// RetryPolicy layers whole-run retries over a run. Only errors that
// stageerr.Retryable accepts are retried.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that RetryPolicy.Do returns it without retrying,
// whatever its class.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// retries are used up. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	ll := logctx.FromContext(ctx)
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if attempt >= p.Retries || !stageerr.Retryable(err) || ctx.Err() != nil {
			return err
		}

		ll.Warn("Run failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("retries", p.Retries),
			slog.Duration("delay", p.Delay),
			slog.String("errorClass", stageerr.Class(err)),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.Delay):
		}
	}
}
