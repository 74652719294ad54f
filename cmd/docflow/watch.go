package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docflow/internal/async"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir...]",
	Short: "Process PDFs as they appear",
	Long: `Watches directories recursively and processes new or changed PDFs until
interrupted. Without arguments the configured pipeline.watch_dirs are used.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	roots := args
	if len(roots) == 0 {
		roots = a.Config.Pipeline.WatchDirs
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Watching %v (Ctrl+C to stop)\n", roots)
	return a.Watch(ctx, roots, 30*time.Second, func(_ async.Job, doc *entity.DocumentRecord, _ error) {
		if doc != nil {
			cmd.Printf("%s\t%s\t%s\n", doc.Filename, doc.Status, doc.DocumentType)
		}
	})
}

