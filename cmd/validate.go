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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/ordergate/config"
	"github.com/cardinalhq/ordergate/internal/stageerr"
	"github.com/cardinalhq/ordergate/internal/validator"
)

func init() {
	var (
		fullFile    bool
		previewRows int
	)

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a local orders file against the contract without admitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			doneCtx, doneFx, err := setupTelemetry(config.ServiceTypeValidate)
			if err != nil {
				return err
			}
			defer func() {
				_ = doneFx()
			}()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.Flags().Changed("full-file") {
				cfg.Validation.FullFile = fullFile
			}
			if c.Flags().Changed("preview-rows") {
				cfg.Validation.PreviewRows = previewRows
			}

			_, err = validateFile(doneCtx, cfg, args[0])
			return err
		},
	}

	cmd.Flags().BoolVar(&fullFile, "full-file", false, "Check every row instead of the preview")
	cmd.Flags().IntVar(&previewRows, "preview-rows", validator.DefaultPreviewRows, "Rows examined by the quality checks")
	rootCmd.AddCommand(cmd)
}

func validateFile(ctx context.Context, cfg *config.Config, path string) (*validator.Report, error) {
	a, err := newApp(ctx, cfg, appNeeds{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = a.Close()
	}()

	rep, err := a.pipeline.ValidateFile(ctx, path)
	if err != nil {
		slog.Error("File rejected", append([]any{slog.String("path", path)}, attrsAsAny(stageerr.Attrs(err))...)...)
		return nil, err
	}
	slog.Info("File accepted",
		slog.String("path", path),
		slog.Int("previewRows", rep.PreviewRows),
		slog.Int64("totalRows", rep.TotalRows),
		slog.Bool("fullFile", rep.FullFile))
	return rep, nil
}

func attrsAsAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
