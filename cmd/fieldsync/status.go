package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue depth and local storage",
	Example: `  fieldsync status
  fieldsync status --probe --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusProbe bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusProbe, "probe", false,
		"Actively probe the backend before reporting connectivity")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if statusProbe {
		apiClient.Monitor.CheckConnection(ctx)
	}
	conn := apiClient.Monitor.Status()

	if err := apiClient.Sync.RefreshCounts(ctx); err != nil {
		return err
	}
	state := apiClient.Sync.State()

	photoCounts, err := apiClient.Photos.StatusCounts(ctx)
	if err != nil {
		return err
	}
	storageUsed, err := apiClient.Photos.TotalStorageUsed(ctx)
	if err != nil {
		return err
	}
	modified, err := apiClient.Assessments.ModifiedAssessments(ctx)
	if err != nil {
		return err
	}
	failed, err := apiClient.Store.ListTasks(ctx, store.TaskFilter{
		Statuses: []models.QueueStatus{models.QueueFailed},
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"connectivity":         conn,
			"backend":              cfg.Remote.Backend,
			"queue":                state,
			"photos":               photoCounts,
			"storage_bytes":        storageUsed,
			"modified_assessments": len(modified),
			"failed_items":         failed,
		})
		return nil
	}

	printHeader("Connectivity")
	if conn.Online {
		printSuccess("  Online (%s)", conn.Quality)
	} else {
		printWarning("  Offline for %s", apiClient.Monitor.OfflineDuration().Round(time.Second))
	}
	fmt.Printf("  Backend:      %s\n", cfg.Remote.Backend)
	fmt.Printf("  Last online:  %s\n", formatTime(conn.LastOnline))
	fmt.Printf("  Last offline: %s\n", formatTime(conn.LastOffline))

	printHeader("\nSync queue")
	fmt.Printf("  Pending: %d\n", state.PendingCount)
	if state.FailedCount > 0 {
		printWarning("  Failed:  %d (retry with: fieldsync sync --retry)", state.FailedCount)
	} else {
		fmt.Printf("  Failed:  0\n")
	}
	fmt.Printf("  Unsynced assessments: %d\n", len(modified))

	printHeader("\nPhotos")
	fmt.Printf("  Pending: %d  Uploading: %d  Uploaded: %d  Failed: %d\n",
		photoCounts.Pending, photoCounts.Uploading, photoCounts.Uploaded, photoCounts.Failed)
	fmt.Printf("  Local storage: %s\n", formatBytes(storageUsed))

	if len(failed) > 0 {
		printHeader("\nFailed items")
		for _, item := range failed {
			errorColor.Printf("  %s %s %s", item.Type, item.EntityID, item.Discriminator)
			fmt.Printf("  attempts=%d  %s\n", item.Attempts, item.LastError)
		}
	}

	return nil
}
