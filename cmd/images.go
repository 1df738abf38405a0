package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/store"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Manage image persistence jobs",
}

var imagesRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Download pending images of committed items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initImportEnv(ctx, cfg, "images")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Images.RunPending(ctx)
		if err != nil {
			return eris.Wrap(err, "retry image jobs")
		}
		zap.L().Info("image jobs processed",
			zap.Int("done", sum.Done),
			zap.Int("failed", sum.Failed),
			zap.Int("pending", sum.Pending),
		)
		return json.NewEncoder(cmd.OutOrStdout()).Encode(sum)
	},
}

var imagesStatus string

var imagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List image jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobs, err := st.ListImageJobs(ctx, store.ImageJobFilter{Status: model.ImageJobStatus(imagesStatus)})
		if err != nil {
			return err
		}
		if jobs == nil {
			jobs = []model.ImageJob{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	},
}

func init() {
	imagesListCmd.Flags().StringVar(&imagesStatus, "status", "", "pending, done or failed (default all)")
	imagesCmd.AddCommand(imagesRetryCmd, imagesListCmd)
	rootCmd.AddCommand(imagesCmd)
}
