// Copyright 2025 CardinalHQ, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package helpers

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanStaleFiles removes regular files in dir matching pattern that were
// last modified more than olderThan ago, and returns how many it removed.
// Partial downloads left by an interrupted run are the usual target.
func CleanStaleFiles(dir, pattern string, olderThan time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, path := range matches {
		fi, err := os.Lstat(path)
		if err != nil || !fi.Mode().IsRegular() || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Info("Failed to remove stale file (ignoring)", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Removed stale files", slog.String("dir", dir), slog.Int("count", removed))
	}
	return removed, nil
}
