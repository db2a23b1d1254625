package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var (
		sources []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question across the indexed corpora",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question is empty")
			}

			answer, err := a.QueryRouter().Search(cmd.Context(), question, sources)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(answer, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(out))
				return nil
			}

			cmd.Println(answer.Answer)
			if len(answer.Citations) > 0 {
				cmd.Println("Sources:")
				for n, c := range answer.Citations {
					cmd.Printf("  [%d] %s, %s (%s)\n", n+1, c.Title, c.Section, c.Locator)
				}
			}
			if answer.Partial {
				cmd.Println("(partial: one or more corpora did not respond)")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sources, "sources", nil, "restrict the search to these sources")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full answer as JSON")

	return cmd
}
