// Package cmd defines the CLI commands for the kbpipeline executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/clinassist/kbpipeline/internal/app"
	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/logging"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newApp is a variable so tests can inject a prebuilt application.
var newApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return app.New(ctx, cfg, log)
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kbpipeline",
		Short: "Clinical knowledge ingestion and retrieval pipeline",
		Long: `kbpipeline crawls licensed clinical reference sources, extracts and
normalizes their articles, indexes them into per-source retrieval corpora,
and answers questions across all of them with citations.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
				_ = a.Log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./kbpipeline.yaml)")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kbpipeline: %v\n", err)
		os.Exit(1)
	}
}

// selectProfiles resolves the positional source arguments against the
// configured profiles, defaulting to all of them, in stable name order.
func selectProfiles(a *app.App, args []string) ([]config.SourceProfile, error) {
	if len(args) == 0 {
		names := make([]string, 0, len(a.Cfg.Sources))
		for name := range a.Cfg.Sources {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]config.SourceProfile, 0, len(names))
		for _, name := range names {
			out = append(out, a.Cfg.Sources[name])
		}
		return out, nil
	}

	out := make([]config.SourceProfile, 0, len(args))
	for _, name := range args {
		profile, ok := a.Cfg.Sources[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		out = append(out, profile)
	}
	return out, nil
}
