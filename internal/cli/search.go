package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/kintel/internal/client"
	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search ingested documents",
	Long: `Search an organization's documents by vector similarity.

Without a query, lists the organization's documents in source order.

Examples:
  kintel search --org acme "refund policy"
  kintel search --org acme "shipping" -n 3
  kintel search --org acme`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "max results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	org, err := requireOrg()
	if err != nil {
		return err
	}
	var query string
	if len(args) == 1 {
		query = args[0]
	}

	docs, err := apiClient.Search(context.Background(), client.SearchOptions{
		OrganizationID: org,
		Query:          query,
		K:              searchLimit,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(docs) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results:\n\n", len(docs))
	for i, d := range docs {
		fmt.Printf("%d. %s part %d [%s]\n", i+1, d.SourceFileName, d.PartNumber, d.SourceDocumentID)
		if d.Distance != nil {
			fmt.Printf("   distance %.4f\n", *d.Distance)
		}
		fmt.Printf("   %s\n", preview(d.Content, 160))
		if verbose {
			fmt.Printf("   id: %s\n", d.ID)
		}
		fmt.Println()
	}
	return nil
}

// preview flattens whitespace and shortens s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
