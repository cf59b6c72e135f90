package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/canary-data/docharvester/internal/config"
)

// newSourcesCmd creates the 'sources' subcommand, which lists the registered
// institutions without touching the network.
func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Lists the configured institutions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ids := make([]string, 0, len(cfg.Sources))
			for id := range cfg.Sources {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool {
				a, b := cfg.Sources[ids[i]], cfg.Sources[ids[j]]
				if a.Priority != b.Priority {
					return a.Priority < b.Priority
				}
				return ids[i] < ids[j]
			})

			for _, id := range ids {
				src := cfg.Sources[id]
				cmd.Printf("%-22s priority=%d variant=%-16s %s\n", id, src.Priority, src.Variant, src.BaseURL)
			}
			return nil
		},
	}
}
