package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/schema"
)

var templateOutput string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Write the import template spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if templateOutput == "-" {
			return schema.WriteTemplate(cmd.OutOrStdout())
		}
		f, err := os.Create(templateOutput)
		if err != nil {
			return eris.Wrapf(err, "create %s", templateOutput)
		}
		if err := schema.WriteTemplate(f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", templateOutput)
		}
		zap.L().Info("template written", zap.String("path", templateOutput), zap.Int("columns", len(schema.Fields())))
		return nil
	},
}

func init() {
	templateCmd.Flags().StringVarP(&templateOutput, "output", "o", "inventory_template.xlsx", "output path, or - for stdout")
	rootCmd.AddCommand(templateCmd)
}
