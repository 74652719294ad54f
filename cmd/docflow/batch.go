package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	batchXLSX       string
	batchShowHidden bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Process every PDF under a directory",
	Long: `Walks a directory, processes each PDF with the configured number of
workers and optionally writes an XLSX summary of all extracted fields.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchXLSX, "xlsx", "", "write an XLSX summary to this path")
	batchCmd.Flags().BoolVar(&batchShowHidden, "hidden", false, "include hidden files and directories")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	docs, stats, err := a.RunBatch(cmd.Context(), args[0], !batchShowHidden)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}
	cmd.Printf("Processed %d documents (%d completed, %d with errors, %d duplicates)\n",
		len(docs), stats.Completed, stats.WithErrors, stats.Deduplicated)

	path := batchXLSX
	if path == "" {
		path = a.Config.Output.XLSXPath
	}
	if path != "" {
		if err := a.WriteWorkbook(docs, path); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
		cmd.Printf("Summary written to %s\n", path)
	}
	return nil
}
