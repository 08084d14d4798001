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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/ordergate/cmd"
)

func stderrLogger(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}

func init() {
	// DateKeys and load dates are UTC.
	time.Local = time.UTC

	setMaxProcs()
	setMemLimit()

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(50)
		_ = os.Setenv("GOGC", "50")
	}
}

func setMaxProcs() {
	var err error
	if gomaxecs.IsECS() {
		_, err = gomaxecs.Set(gomaxecs.WithLogger(stderrLogger))
	} else {
		_, err = maxprocs.Set(maxprocs.Logger(stderrLogger))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMAXPROCS: %v\n", err)
	}
}

func setMemLimit() {
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.8),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set GOMEMLIMIT: %v\n", err)
	}
}

func main() {
	// DuckDB spills and partial downloads land under TMPDIR.
	tmp := filepath.Join(os.TempDir(), "ordergate")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		slog.Error("Failed to create temp dir (ignoring)", slog.String("path", tmp), slog.Any("error", err))
	} else if err := os.Setenv("TMPDIR", tmp); err != nil {
		slog.Error("Failed to set TMPDIR", slog.String("path", tmp), slog.Any("error", err))
	}

	cmd.Execute()
}
