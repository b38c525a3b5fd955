package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var questionLimit int

var questionCmd = &cobra.Command{
	Use:   "question",
	Short: "Manage curated question/answer pairs",
	Long: `Curated question/answer pairs are added to the chat context when they
are close to the user's query.

Examples:
  kintel question add --org acme "How long do refunds take?" "Five business days."
  kintel question relevant --org acme "refund"
  kintel question delete --org acme 8d1e...`,
}

var questionAddCmd = &cobra.Command{
	Use:   "add <question> <answer>",
	Short: "Store a question/answer pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		qa, err := apiClient.AddQuestion(context.Background(), org, args[0], args[1])
		if err != nil {
			return fmt.Errorf("add question: %w", err)
		}
		fmt.Printf("✓ Stored question %s\n", qa.ID)
		return nil
	},
}

var questionRelevantCmd = &cobra.Command{
	Use:   "relevant <query>",
	Short: "List the pairs closest to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		qas, err := apiClient.RelevantQuestions(context.Background(), org, args[0], questionLimit)
		if err != nil {
			return fmt.Errorf("relevant questions: %w", err)
		}
		if len(qas) == 0 {
			fmt.Println("No questions found.")
			return nil
		}
		for i, qa := range qas {
			fmt.Printf("%d. %s\n   %s\n", i+1, qa.Question, qa.Answer)
			if verbose {
				fmt.Printf("   id: %s\n", qa.ID)
			}
		}
		return nil
	},
}

var questionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a question/answer pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		if err := apiClient.DeleteQuestion(context.Background(), org, args[0]); err != nil {
			return fmt.Errorf("delete question: %w", err)
		}
		fmt.Printf("✓ Deleted question %s\n", args[0])
		return nil
	},
}

func init() {
	questionRelevantCmd.Flags().IntVarP(&questionLimit, "limit", "n", 3, "max results")
	questionCmd.AddCommand(questionAddCmd, questionRelevantCmd, questionDeleteCmd)
}
