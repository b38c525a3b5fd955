package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/kintel/internal/client"
	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the state of an ingestion task",
	Long: `Show the state of an ingestion task.

Tasks are kept for KINTEL_RESULT_TTL after they finish; older or unknown
ids are reported as not found.

Examples:
  kintel status 3f2a9c1e-...
  kintel status 3f2a9c1e-... --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "follow progress until done")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	taskID := args[0]

	if statusWatch {
		return watchTask(ctx, apiClient, taskID)
	}

	st, err := apiClient.TaskStatus(ctx, taskID)
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("task %s not found (unknown or expired)", taskID)
	}
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("Task:     %s\n", st.TaskID)
	fmt.Printf("State:    %s\n", st.State)
	fmt.Printf("Progress: %d/%d\n", st.Current, st.Total)
	fmt.Printf("Status:   %s\n", st.Status)
	if st.Error != "" {
		fmt.Printf("Error:    %s\n", st.Error)
	}
	return nil
}
