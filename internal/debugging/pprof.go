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

package debugging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"time"
)

const PprofPortEnv = "ORDERGATE_PPROF_PORT"

// RunPprof serves net/http/pprof on ORDERGATE_PPROF_PORT until ctx is done.
// It does nothing when the variable is unset or not a port number.
func RunPprof(ctx context.Context) {
	port := pprofPort()
	if port <= 0 {
		return
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", port),
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting pprof server", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Pprof server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			slog.Error("Error shutting down pprof server", slog.Any("error", err))
		}
	}()
}

func pprofPort() int {
	v := os.Getenv(PprofPortEnv)
	if v == "" {
		return 0
	}
	port, err := strconv.Atoi(v)
	if err != nil || port > 65535 {
		slog.Warn("Ignoring invalid "+PprofPortEnv, slog.String("value", v))
		return 0
	}
	return port
}
