package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover [source...]",
		Short: "Refresh document catalogs for the named sources",
		Long: `Discover enumerates every document each source currently publishes
(sitemap, listing page, or directory walk) and saves the result as the
source's catalog. Run it before "run" so the orchestrator has a workload.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			profiles, err := selectProfiles(a, args)
			if err != nil {
				return err
			}

			disc := a.Discoverer()
			for _, profile := range profiles {
				catalog, err := disc.Discover(cmd.Context(), profile)
				if err != nil {
					return err
				}
				a.Log.Info("catalog refreshed",
					zap.String("source", profile.Name),
					zap.Int("documents", len(catalog.IDs)))
				cmd.Printf("%s: %d documents\n", profile.Name, len(catalog.IDs))
			}
			return nil
		},
	}
}
