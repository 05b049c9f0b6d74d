package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	episodeConversation  string
	episodeArchived      bool
	episodeLimit         int
	episodeStaleDays     int
	episodeMaxImportance float64
)

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "Inspect episodic memories",
	Long: `Work with episodic memory: list a conversation's episodes, show one
in full, or archive stale low-importance episodes.

Examples:
  gryagmem episodes list -c chat-42
  gryagmem episodes show episode-id
  gryagmem episodes sweep --stale-days 60`,
}

var episodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a conversation's episodes, newest first",
	RunE:  runEpisodesList,
}

var episodesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one episode in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runEpisodesShow,
}

var episodesSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive stale low-importance episodes",
	RunE:  runEpisodesSweep,
}

func init() {
	episodesListCmd.Flags().StringVarP(&episodeConversation, "conversation", "c", "", "conversation id (required)")
	episodesListCmd.Flags().BoolVar(&episodeArchived, "archived", false, "include archived episodes")
	episodesListCmd.Flags().IntVarP(&episodeLimit, "limit", "n", 20, "max results")
	_ = episodesListCmd.MarkFlagRequired("conversation")

	episodesSweepCmd.Flags().IntVar(&episodeStaleDays, "stale-days", 30, "archive episodes not accessed for this many days")
	episodesSweepCmd.Flags().Float64Var(&episodeMaxImportance, "max-importance", 0.7, "only archive episodes below this importance")

	episodesCmd.AddCommand(episodesListCmd)
	episodesCmd.AddCommand(episodesShowCmd)
	episodesCmd.AddCommand(episodesSweepCmd)
}

func runEpisodesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	episodes, err := dbClient.ListEpisodes(ctx, episodeConversation, episodeArchived, episodeLimit)
	if err != nil {
		return fmt.Errorf("list episodes: %w", err)
	}

	if len(episodes) == 0 {
		fmt.Println("No episodes found.")
		return nil
	}

	fmt.Printf("Episodes (%d):\n\n", len(episodes))
	for _, e := range episodes {
		mark := ""
		if e.Archived {
			mark = " [archived]"
		}
		fmt.Printf("- %s (%.2f, %s)%s\n", e.Topic, e.Importance, e.Emotion, mark)
		fmt.Printf("  %s\n", truncate(e.Summary, 120))
		if verbose {
			fmt.Printf("  id: %s, %d turns, participants: %s\n",
				e.ID, len(e.TurnIDs), strings.Join(e.ParticipantIDs, ", "))
		}
	}
	return nil
}

func runEpisodesShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := dbClient.GetEpisode(ctx, args[0])
	if err != nil {
		return fmt.Errorf("show episode: %w", err)
	}

	fmt.Printf("Topic:        %s\n", e.Topic)
	fmt.Printf("Summary:      %s\n", e.Summary)
	fmt.Printf("Importance:   %.2f\n", e.Importance)
	fmt.Printf("Emotion:      %s\n", e.Emotion)
	fmt.Printf("Participants: %s\n", strings.Join(e.ParticipantIDs, ", "))
	if len(e.Tags) > 0 {
		fmt.Printf("Tags:         %s\n", strings.Join(e.Tags, ", "))
	}
	fmt.Printf("Turns:        %d\n", len(e.TurnIDs))
	fmt.Printf("Created:      %s\n", e.CreatedAt.Format("2006-01-02 15:04"))
	if e.AccessCount > 0 {
		fmt.Printf("Accessed:     %d times, last %s\n", e.AccessCount, e.LastAccessed.Format("2006-01-02 15:04"))
	}
	if e.Archived {
		fmt.Println("Archived:     yes")
	}
	return nil
}

func runEpisodesSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := getServices(ctx, false)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	archived, err := s.episodes.Sweep(ctx, episodeStaleDays, episodeMaxImportance)
	if err != nil {
		return fmt.Errorf("sweep episodes: %w", err)
	}
	fmt.Printf("Archived %d episodes.\n", archived)
	return nil
}
