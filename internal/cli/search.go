package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	searchConversation string
	searchLimit        int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid search over conversation history",
	Long: `Search a conversation's history with blended semantic and keyword
retrieval, temporal decay, and actor weighting.

Examples:
  gryagmem search "deploy pipeline" -c chat-42
  gryagmem search "що там з сервером" -c chat-42 -n 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchConversation, "conversation", "c", "", "conversation id (required)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "max results")
	_ = searchCmd.MarkFlagRequired("conversation")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	ctx := context.Background()

	s, err := getServices(ctx, true)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	results, err := s.engine.Search(ctx, searchConversation, query, searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s (%s)\n", i+1, r.FinalScore, r.Turn.ActorID, r.Turn.Timestamp.Format("2006-01-02 15:04"))
		fmt.Printf("   %s\n", truncate(r.Turn.Text, 120))
		if verbose {
			fmt.Printf("   semantic=%.3f keyword=%.3f temporal=%.3f importance=%.2f boost=%.1f\n",
				r.SemanticScore, r.KeywordScore, r.TemporalFactor, r.ImportanceFactor, r.TypeBoost)
			if len(r.MatchedKeywords) > 0 {
				fmt.Printf("   matched: %v\n", r.MatchedKeywords)
			}
		}
		fmt.Println()
	}

	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
