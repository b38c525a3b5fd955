package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show the server's in-memory runtime statistics: operation timings,
LLM token usage and task counts since the last restart, plus dependency
health.

Examples:
  kintel stats
  kintel stats --server http://kintel.internal:8080`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	health, err := apiClient.Health(ctx)
	if health == nil {
		return fmt.Errorf("get health: %w", err)
	}
	stats, err := apiClient.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}

	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Health: %s\n", health.Status)
	for _, name := range sortedKeys(health.Components) {
		fmt.Printf("  %-16s %s\n", name, health.Components[name])
	}
	fmt.Printf("Uptime: %.1f seconds\n", stats.UptimeSeconds)

	if len(stats.Tasks) > 0 {
		fmt.Printf("\nTasks:\n")
		for _, state := range sortedKeys(stats.Tasks) {
			fmt.Printf("  %-10s %d\n", state, stats.Tasks[state])
		}
	}

	for _, op := range sortedKeys(stats.Operations) {
		fmt.Printf("\n%s:\n", op)
		printOpStats(stats.Operations[op])
	}
	return nil
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	if op.TotalInputTokens != nil && op.TotalOutputTokens != nil {
		fmt.Printf("  Tokens: %d in, %d out\n", *op.TotalInputTokens, *op.TotalOutputTokens)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
