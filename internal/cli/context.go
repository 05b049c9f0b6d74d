package cli

import (
	"context"
	"fmt"

	"github.com/ThatHunky/gryag-sub000/internal/service"
	"github.com/ThatHunky/gryag-sub000/internal/tokens"
	"github.com/spf13/cobra"
)

var (
	contextConversation string
	contextThread       string
	contextActor        string
	contextPrompt       bool
)

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Assemble layered generation context",
	Long: `Assemble the five-layer context a reply would be generated from:
immediate and recent history, relevant turns, background facts, and
past episodes, trimmed to the token budget.

Examples:
  gryagmem context "when did we discuss the outage?" -c chat-42 -a alice
  gryagmem context "коли ми про це говорили?" -c chat-42 -a alice --prompt`,
	Args: cobra.ExactArgs(1),
	RunE: runContext,
}

func init() {
	contextCmd.Flags().StringVarP(&contextConversation, "conversation", "c", "", "conversation id (required)")
	contextCmd.Flags().StringVarP(&contextActor, "actor", "a", "", "actor id (required)")
	contextCmd.Flags().StringVar(&contextThread, "thread", "", "thread id")
	contextCmd.Flags().BoolVar(&contextPrompt, "prompt", false, "print the formatted generation input")
	_ = contextCmd.MarkFlagRequired("conversation")
	_ = contextCmd.MarkFlagRequired("actor")
}

func runContext(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := getServices(ctx, true)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	req := service.BuildRequest{
		ConversationID: contextConversation,
		ActorID:        contextActor,
		Query:          args[0],
	}
	if contextThread != "" {
		req.ThreadID = &contextThread
	}

	lc, err := s.assembler.Assemble(ctx, req)
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}

	fmt.Printf("Assembled in %s, %d tokens total\n\n", lc.AssemblyTime, lc.TotalTokens)
	fmt.Printf("  immediate:  %3d turns    %5d tokens\n", len(lc.Immediate.Turns), lc.Immediate.Tokens)
	fmt.Printf("  recent:     %3d turns    %5d tokens\n", len(lc.Recent.Turns), lc.Recent.Tokens)
	fmt.Printf("  relevant:   %3d results  %5d tokens\n", len(lc.Relevant.Results), lc.Relevant.Tokens)
	fmt.Printf("  background: %3d facts    %5d tokens\n",
		len(lc.Background.ActorFacts)+len(lc.Background.ConversationFacts), lc.Background.Tokens)
	fmt.Printf("  episodic:   %3d episodes %5d tokens\n", len(lc.Episodic.Episodes), lc.Episodic.Tokens)

	if contextPrompt {
		input := service.Format(lc, tokens.NewHeuristic(cfg.MediaTokenCost))
		fmt.Printf("\n--- system context (%d tokens with history) ---\n%s\n", input.TokenCount, input.SystemContext)
		fmt.Printf("--- history (%d turns) ---\n", len(input.History))
		for _, t := range input.History {
			fmt.Printf("[%s] %s: %s\n", t.Role, t.ActorID, truncate(t.Text, 100))
		}
	}

	return nil
}
