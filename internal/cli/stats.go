package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory store row counts",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	stats, err := dbClient.CollectStats(ctx)
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}

	fmt.Printf("Turns:             %d\n", stats.Turns)
	fmt.Printf("Facts (active):    %d\n", stats.ActiveFacts)
	fmt.Printf("Facts (total):     %d\n", stats.TotalFacts)
	fmt.Printf("Episodes:          %d\n", stats.Episodes)
	fmt.Printf("Episodes archived: %d\n", stats.ArchivedEpisodes)
	return nil
}
