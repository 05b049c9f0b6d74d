package cli

import (
	"context"
	"fmt"

	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/ThatHunky/gryag-sub000/internal/service"
	"github.com/spf13/cobra"
)

var (
	factSubject    string
	factScope      string
	factCategory   string
	factLimit      int
	factAll        bool
	factConfidence float64
	factEvidence   string
	factReason     string
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect and maintain the versioned fact store",
	Long: `Work with the fact store: list ranked facts about a subject, add an
observation, trace a fact's version history, or retire one.

Examples:
  gryagmem facts list -s user-123
  gryagmem facts list -s chat-42 --scope conversation --all
  gryagmem facts add -s user-123 --category preference favorite-editor neovim
  gryagmem facts history -s user-123 --category preference favorite-editor
  gryagmem facts retire assertion-id --reason "user asked to forget"`,
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List facts about a subject, best-ranked first",
	RunE:  runFactsList,
}

var factsAddCmd = &cobra.Command{
	Use:   "add <key> <value>",
	Short: "Record an observed fact",
	Args:  cobra.ExactArgs(2),
	RunE:  runFactsAdd,
}

var factsHistoryCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "Show a fact's version chain, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runFactsHistory,
}

var factsRetireCmd = &cobra.Command{
	Use:   "retire <id>",
	Short: "Retire an assertion",
	Args:  cobra.ExactArgs(1),
	RunE:  runFactsRetire,
}

func init() {
	for _, c := range []*cobra.Command{factsListCmd, factsAddCmd, factsHistoryCmd} {
		c.Flags().StringVarP(&factSubject, "subject", "s", "", "subject id (required)")
		c.Flags().StringVar(&factScope, "scope", "user", "subject scope (user, conversation)")
		_ = c.MarkFlagRequired("subject")
	}

	factsListCmd.Flags().IntVarP(&factLimit, "limit", "n", 20, "max results")
	factsListCmd.Flags().BoolVar(&factAll, "all", false, "list all active facts, unranked")

	factsAddCmd.Flags().StringVar(&factCategory, "category", "", "fact category (required)")
	factsAddCmd.Flags().Float64Var(&factConfidence, "confidence", 0.7, "extraction confidence (0, 1]")
	factsAddCmd.Flags().StringVar(&factEvidence, "evidence", "", "supporting quote or note")
	_ = factsAddCmd.MarkFlagRequired("category")

	factsHistoryCmd.Flags().StringVar(&factCategory, "category", "", "fact category (required)")
	_ = factsHistoryCmd.MarkFlagRequired("category")

	factsRetireCmd.Flags().StringVar(&factReason, "reason", "", "why the fact is being retired (required)")
	_ = factsRetireCmd.MarkFlagRequired("reason")

	factsCmd.AddCommand(factsListCmd)
	factsCmd.AddCommand(factsAddCmd)
	factsCmd.AddCommand(factsHistoryCmd)
	factsCmd.AddCommand(factsRetireCmd)
}

func printFact(a models.Assertion) {
	fmt.Printf("- [%s] %s = %s (conf %.2f, v%d, evidence x%d)\n",
		a.Category, a.Key, a.Value, a.Confidence, a.Version, a.EvidenceCount)
	if verbose {
		fmt.Printf("  id: %s\n", a.ID)
		if a.Evidence != "" {
			fmt.Printf("  evidence: %s\n", a.Evidence)
		}
		fmt.Printf("  first observed %s, last reinforced %s\n",
			a.FirstObserved.Format("2006-01-02"), a.LastReinforced.Format("2006-01-02"))
	}
}

func runFactsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	scope := models.Scope(factScope)

	var facts []models.Assertion
	var err error
	if factAll {
		facts, err = dbClient.ActiveAssertions(ctx, factSubject, scope)
	} else {
		var s *services
		s, err = getServices(ctx, false)
		if err != nil {
			return fmt.Errorf("init services: %w", err)
		}
		facts, err = s.facts.TopFacts(ctx, factSubject, scope, factLimit)
	}
	if err != nil {
		return fmt.Errorf("list facts: %w", err)
	}

	if len(facts) == 0 {
		fmt.Println("No facts found.")
		return nil
	}

	fmt.Printf("Facts about %s (%s, %d):\n\n", factSubject, scope, len(facts))
	for _, a := range facts {
		printFact(a)
	}
	return nil
}

func runFactsAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := getServices(ctx, true)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	result, err := s.facts.Upsert(ctx, service.FactInput{
		SubjectID:  factSubject,
		Scope:      models.Scope(factScope),
		Category:   models.Category(factCategory),
		Key:        args[0],
		Value:      args[1],
		Confidence: factConfidence,
		Evidence:   factEvidence,
	})
	if err != nil {
		return fmt.Errorf("add fact: %w", err)
	}

	fmt.Printf("%s: %s = %s (conf %.2f, v%d)\n",
		result.Outcome, result.Assertion.Key, result.Assertion.Value,
		result.Assertion.Confidence, result.Assertion.Version)
	return nil
}

func runFactsHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	chain, err := dbClient.VersionChain(ctx, factSubject, models.Scope(factScope), models.Category(factCategory), args[0])
	if err != nil {
		return fmt.Errorf("fact history: %w", err)
	}

	if len(chain) == 0 {
		fmt.Println("No versions found.")
		return nil
	}

	fmt.Printf("Version chain for %s/%s (%d):\n\n", factSubject, args[0], len(chain))
	for _, a := range chain {
		state := "superseded"
		if a.Active {
			state = "active"
		} else if a.RetiredReason != nil {
			state = fmt.Sprintf("retired: %s", *a.RetiredReason)
		}
		fmt.Printf("v%d  %s = %s (conf %.2f) [%s]\n", a.Version, a.Key, a.Value, a.Confidence, state)
	}
	return nil
}

func runFactsRetire(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := getServices(ctx, false)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	if err := s.facts.Retire(ctx, args[0], factReason); err != nil {
		return fmt.Errorf("retire fact: %w", err)
	}
	fmt.Printf("Retired %s\n", args[0])
	return nil
}
