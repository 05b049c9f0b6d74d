package cli

import (
	"context"
	"fmt"

	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/spf13/cobra"
)

var (
	recordConversation string
	recordThread       string
	recordActor        string
	recordRole         string
	recordReplyTo      string
	recordAddressed    bool
)

var recordCmd = &cobra.Command{
	Use:   "record <text>",
	Short: "Record a conversation turn",
	Long: `Record one turn of a conversation: the text is embedded, persisted,
and fed into episode boundary tracking.

Examples:
  gryagmem record "так, серйозно, хто зламав білд?" -c chat-42 -a alice
  gryagmem record "I fixed the deploy script" -c chat-42 -a bot --role assistant`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&recordConversation, "conversation", "c", "", "conversation id (required)")
	recordCmd.Flags().StringVarP(&recordActor, "actor", "a", "", "actor id (required)")
	recordCmd.Flags().StringVar(&recordThread, "thread", "", "thread id")
	recordCmd.Flags().StringVar(&recordRole, "role", "user", "turn role (user, assistant, system)")
	recordCmd.Flags().StringVar(&recordReplyTo, "reply-to", "", "id of the turn this replies to")
	recordCmd.Flags().BoolVar(&recordAddressed, "addressed", false, "turn addresses the assistant directly")
	_ = recordCmd.MarkFlagRequired("conversation")
	_ = recordCmd.MarkFlagRequired("actor")
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := getServices(ctx, true)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	turn := models.Turn{
		ConversationID: recordConversation,
		ActorID:        recordActor,
		Role:           models.Role(recordRole),
		Text:           args[0],
		Addressed:      recordAddressed,
	}
	if recordThread != "" {
		turn.ThreadID = &recordThread
	}
	if recordReplyTo != "" {
		turn.ReplyToID = &recordReplyTo
	}

	stored, err := s.recorder.Record(ctx, turn)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}

	fmt.Printf("Recorded turn %s\n", stored.ID)
	if verbose {
		fmt.Printf("  conversation: %s\n", stored.ConversationID)
		fmt.Printf("  embedded:     %v\n", len(stored.Embedding) > 0)
	}
	return nil
}
