package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	askShowContext bool
	askOutputFile  string
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Ask a question and get an LLM-synthesized answer",
	Long: `Ask a question about an organization's documents.

The server retrieves and reranks relevant chunks, adds matching curated
question/answer pairs, and answers with the configured LLM.

Examples:
  kintel ask --org acme "How long do refunds take?"
  kintel ask --org acme "What does the warranty cover?" --context
  kintel ask --org acme "Summarize the shipping policy" -O answer.md`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askShowContext, "context", false, "print the documents and Q/A pairs used")
	askCmd.Flags().StringVarP(&askOutputFile, "output", "O", "", "write the answer to file")
}

func runAsk(cmd *cobra.Command, args []string) error {
	org, err := requireOrg()
	if err != nil {
		return err
	}

	resp, err := apiClient.Chat(context.Background(), org, args[0])
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if askOutputFile != "" {
		if err := os.WriteFile(askOutputFile, []byte(resp.Answer+"\n"), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("Answer written to %s\n", askOutputFile)
	} else {
		fmt.Println(resp.Answer)
	}

	if askShowContext {
		if len(resp.RelevantQuestions) > 0 {
			fmt.Printf("\nQ/A pairs (%d):\n", len(resp.RelevantQuestions))
			for _, q := range resp.RelevantQuestions {
				fmt.Printf("  • %s\n", preview(q, 160))
			}
		}
		fmt.Printf("\nDocuments (%d):\n", len(resp.RelevantDocs))
		for i, d := range resp.RelevantDocs {
			fmt.Printf("  %d. %s\n", i+1, preview(d, 160))
		}
	}
	return nil
}
