package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/commit"
	"github.com/sells-group/lab-inventory/internal/fetcher"
	"github.com/sells-group/lab-inventory/internal/importer"
	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/validate"
)

var (
	importMode          string
	importDepartment    string
	importDryRun        bool
	importNoEnrich      bool
	importPersistImages bool
)

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a spreadsheet (.xlsx or .csv) of inventory items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if importMode != "" {
			cfg.Import.Mode = importMode
		}
		if importDepartment != "" {
			cfg.Import.DepartmentID = importDepartment
		}

		env, err := initImportEnv(ctx, cfg, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		sheet, err := readSheet(ctx, args[0])
		if err != nil {
			return err
		}

		opts := importer.RunOptions{
			Options: env.Options,
			Enrich:  !importNoEnrich,
			DryRun:  importDryRun,
			OnProgress: func(p commit.Progress) {
				zap.L().Info("import progress",
					zap.Int("processed", p.Processed),
					zap.Int("total", p.Total),
					zap.Float64("percent", p.Percent),
				)
			},
		}
		opts.PersistImages = importPersistImages

		report, runErr := importer.Run(ctx, sheet, env.Deps(!importNoEnrich), opts)
		if report != nil {
			if err := writeReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			logReport(args[0], report)
		}
		if errors.Is(runErr, validate.ErrNameUnmapped) {
			return eris.New("no column maps to the item name; nothing was imported")
		}
		return runErr
	},
}

// readSheet parses the spreadsheet at path.
func readSheet(ctx context.Context, path string) (*model.Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return fetcher.ParseSheet(ctx, filepath.Base(path), f)
}

func writeReport(w io.Writer, report *importer.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(report), "write report")
}

func logReport(file string, report *importer.Report) {
	fields := []zap.Field{
		zap.String("file", file),
		zap.String("session_id", report.SessionID),
		zap.String("phase", report.Phase),
		zap.Int("warnings", len(report.Warnings)),
		zap.Int("unverified_rows", report.Reconcile.Unverified),
	}
	if r := report.Result; r != nil {
		fields = append(fields,
			zap.Int("inserted", r.Inserted),
			zap.Int("updated", r.Updated),
			zap.Int("skipped", r.Skipped),
			zap.Int("failed", r.Failed),
			zap.Int("image_jobs", report.ImageJobs),
		)
	}
	zap.L().Info("import complete", fields...)
}

func init() {
	importCmd.Flags().StringVar(&importMode, "mode", "", "insert or upsert (default from config)")
	importCmd.Flags().StringVar(&importDepartment, "department", "", "department id for imported items (default from config)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "print canonical records without committing")
	importCmd.Flags().BoolVar(&importNoEnrich, "no-enrich", false, "skip lookup and heuristic enrichment")
	importCmd.Flags().BoolVar(&importPersistImages, "persist-images", false, "download selected images right after commit")
	rootCmd.AddCommand(importCmd)
}
