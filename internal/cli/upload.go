package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/kintel/internal/client"
	"github.com/spf13/cobra"
)

var (
	uploadTaskID string
	uploadWatch  bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload documents for ingestion",
	Long: `Upload one or more files to the server. Each file becomes one
ingestion task; the command prints the task ids.

Use --watch to follow each task until it finishes.

Examples:
  kintel upload --org acme handbook.pdf
  kintel upload --org acme notes.md faq.txt --watch
  kintel upload --org acme report.docx --task-id report-2024`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadTaskID, "task-id", "", "task id to use (single file only)")
	uploadCmd.Flags().BoolVarP(&uploadWatch, "watch", "w", false, "follow task progress until done")
}

func runUpload(cmd *cobra.Command, args []string) error {
	org, err := requireOrg()
	if err != nil {
		return err
	}
	if uploadTaskID != "" && len(args) > 1 {
		return fmt.Errorf("--task-id can only be used with a single file")
	}

	ctx := context.Background()
	var failed int
	for _, path := range args {
		res, err := apiClient.Upload(ctx, path, client.UploadOptions{OrganizationID: org, TaskID: uploadTaskID})
		if err != nil {
			fmt.Printf("✗ %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("✓ %s queued as task %s\n", path, res.TaskID)

		if uploadWatch {
			if err := watchTask(ctx, apiClient, res.TaskID); err != nil {
				fmt.Printf("✗ %s: %v\n", path, err)
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}
	return nil
}
