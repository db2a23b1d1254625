package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinassist/kbpipeline/internal/app"
	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/pipeline"
)

func newIndexCmd() *cobra.Command {
	var (
		all   bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "index [source...]",
		Short: "Re-submit stored documents to their corpus backends",
		Long: `Index replays already-extracted documents into their corpora without
re-fetching. By default it picks up documents whose last indexing attempt
failed. --all widens the pass to every non-indexed document with a stored
body, and --force re-submits indexed documents as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			profiles, err := selectProfiles(a, args)
			if err != nil {
				return err
			}

			idx := a.Indexer
			for _, profile := range profiles {
				records, err := a.Records.ListRecords(cmd.Context(), profile.Name, "")
				if err != nil {
					return err
				}

				var indexed, skipped, failed int
				for _, rec := range records {
					if !eligible(rec, all, force) {
						skipped++
						continue
					}
					chunks, err := idx.Reindex(cmd.Context(), profile, rec.ID)
					if err != nil {
						if errors.Is(err, pipeline.ErrNotFound) {
							skipped++
							continue
						}
						failed++
						a.Log.Error("reindex failed",
							zap.String("source", profile.Name),
							zap.String("doc", rec.ID),
							zap.Error(err))
						continue
					}
					if err := markIndexed(cmd, a, profile, rec); err != nil {
						return err
					}
					indexed++
					a.Log.Info("document reindexed",
						zap.String("source", profile.Name),
						zap.String("doc", rec.ID),
						zap.Int("chunks", chunks))
				}
				cmd.Printf("%s: %d indexed, %d skipped, %d failed\n",
					profile.Name, indexed, skipped, failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reindex every non-indexed document with a stored body")
	cmd.Flags().BoolVar(&force, "force", false, "also re-submit documents that are already indexed")

	return cmd
}

// eligible decides whether a record is part of the reindex pass. The default
// pass targets documents parked after an indexing failure.
func eligible(rec pipeline.CrawlRecord, all, force bool) bool {
	switch rec.Status {
	case pipeline.StatusExtracted:
		return true
	case pipeline.StatusIndexed:
		return force
	default:
		return all || force
	}
}

func markIndexed(cmd *cobra.Command, a *app.App, profile config.SourceProfile, rec pipeline.CrawlRecord) error {
	doc, err := a.Records.GetDocument(cmd.Context(), profile.Name, rec.ID)
	if err != nil {
		return err
	}
	rec.Status = pipeline.StatusIndexed
	rec.Fingerprint = doc.Fingerprint
	rec.LastSuccess = a.Clock.Now()
	rec.LastError = ""
	return a.Records.PutRecord(cmd.Context(), rec)
}
