package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var wipeForce bool

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all stored memory data",
	Long:  `Delete every turn, fact, and episode from the store. Irreversible.`,
	RunE:  runWipe,
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeForce, "force", false, "skip confirmation")
}

func runWipe(cmd *cobra.Command, args []string) error {
	if !wipeForce {
		fmt.Print("This deletes ALL stored memory. Type 'yes' to continue: ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := dbClient.WipeData(context.Background()); err != nil {
		return fmt.Errorf("wipe data: %w", err)
	}
	fmt.Println("All memory data deleted.")
	return nil
}
