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

// Package runctx holds the state shared by the stages of one pipeline run.
// Values are write-once; readers get typed accessors instead of keyed lookups.
package runctx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cardinalhq/ordergate/internal/datekey"
)

var (
	ErrDateKeyUnset    = errors.New("date key has not been set for this run")
	ErrStagedPathUnset = errors.New("staged path has not been set for this run")
)

// Run is the shared context of one pipeline run.
type Run struct {
	id        string
	startedAt time.Time

	mu         sync.RWMutex
	dateKey    datekey.DateKey
	stagedPath string
}

// New returns a Run with the given identifier.
func New(id string, startedAt time.Time) *Run {
	return &Run{id: id, startedAt: startedAt}
}

func (r *Run) ID() string {
	return r.id
}

func (r *Run) StartedAt() time.Time {
	return r.startedAt
}

// SetDateKey records the run's DateKey. Setting the same key twice is a
// no-op; setting a different key fails.
func (r *Run) SetDateKey(k datekey.DateKey) error {
	if k.IsZero() {
		return errors.New("refusing to set an empty date key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dateKey.IsZero() && r.dateKey != k {
		return fmt.Errorf("run %s already has date key %s, refusing %s", r.id, r.dateKey, k)
	}
	r.dateKey = k
	return nil
}

// DateKey returns the run's DateKey.
func (r *Run) DateKey() (datekey.DateKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.dateKey.IsZero() {
		return "", ErrDateKeyUnset
	}
	return r.dateKey, nil
}

// SetStagedPath records where the fetched file was staged. Write-once.
func (r *Run) SetStagedPath(p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stagedPath != "" && r.stagedPath != p {
		return fmt.Errorf("run %s already staged %s, refusing %s", r.id, r.stagedPath, p)
	}
	r.stagedPath = p
	return nil
}

// StagedPath returns the staged file path.
func (r *Run) StagedPath() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stagedPath == "" {
		return "", ErrStagedPathUnset
	}
	return r.stagedPath, nil
}

type contextKey struct{}

// WithRun stores r in ctx.
func WithRun(ctx context.Context, r *Run) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

// FromContext returns the Run stored in ctx, or nil.
func FromContext(ctx context.Context) *Run {
	r, _ := ctx.Value(contextKey{}).(*Run)
	return r
}
