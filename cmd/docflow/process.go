package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docflow/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Process a single PDF",
	Long: `Runs one PDF (local path or gs:// URI) through every stage and writes
its JSON artifact. A fatal stage error still produces the artifact.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	doc, err := a.Orchestrator.ProcessFile(cmd.Context(), args[0])
	if doc != nil {
		cmd.Printf("%s\t%s\t%s\t%.2f\n", doc.Filename, doc.Status, doc.DocumentType, doc.ClassificationConfidence)
		for _, v := range doc.Violations {
			cmd.Printf("  %s: %s\n", v.Path, v.Message)
		}
	}
	if err != nil && pipeline.IsFatal(err) {
		return fmt.Errorf("processing failed: %w", err)
	}
	return nil
}
