package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <source-document-id>",
	Short: "Delete an ingested document",
	Long: `Delete every chunk of one ingested document.

The source document id is shown by 'kintel search'.

Examples:
  kintel delete --org acme 0b6c...
  kintel delete --org acme 0b6c... --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	org, err := requireOrg()
	if err != nil {
		return err
	}
	sourceID := args[0]

	if !deleteForce {
		fmt.Printf("Delete document %s from %s? [y/N] ", sourceID, org)
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	n, err := apiClient.DeleteDocument(context.Background(), org, sourceID)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if n == 0 {
		fmt.Printf("No chunks found for %s.\n", sourceID)
		return nil
	}
	fmt.Printf("✓ Deleted %d chunks of %s\n", n, sourceID)
	return nil
}
