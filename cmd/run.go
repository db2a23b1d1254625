package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinassist/kbpipeline/internal/orchestrator"
)

func newRunCmd() *cobra.Command {
	var opts orchestrator.Options

	cmd := &cobra.Command{
		Use:   "run [source...]",
		Short: "Fetch, extract, and index the cataloged documents",
		Long: `Run walks each source's catalog through the full pipeline: polite
fetch, extraction, change detection, and corpus indexing. Interrupting
with SIGINT or SIGTERM drains in-flight documents and checkpoints, so a
subsequent run resumes where this one stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			profiles, err := selectProfiles(a, args)
			if err != nil {
				return err
			}

			orch := a.Orchestrator()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				sig, ok := <-sigCh
				if !ok {
					return
				}
				a.Log.Warn("shutdown signal received, draining", zap.String("signal", sig.String()))
				orch.Stop()
			}()

			var totalFailed int
			for _, profile := range profiles {
				counters, err := orch.Run(cmd.Context(), profile, opts)
				if err != nil {
					return err
				}
				totalFailed += counters.Failed
				cmd.Printf("%s: %d new, %d changed, %d unchanged, %d failed (%d retries)\n",
					profile.Name, counters.New, counters.Changed, counters.Unchanged,
					counters.Failed, counters.Retries)
			}
			if totalFailed > 0 {
				return fmt.Errorf("%d documents failed, see the error ledger", totalFailed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "process at most N documents per source (0 = all)")
	cmd.Flags().StringVar(&opts.StartFrom, "start-from", "", "skip catalog entries ordered before this document ID")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "reprocess documents even when their content is unchanged")
	cmd.Flags().BoolVar(&opts.RetryErrors, "retry-errors", false, "process only documents whose last run failed")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent document workers (0 = configured default)")

	return cmd
}
