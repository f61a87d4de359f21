package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the sync queue now",
	Long: `Sync pushes queued assessment edits and photos to the remote backend.

Items that exhausted their attempts stay failed until retried with --retry
or discarded with --clear-failed. --requeue queues edits for assessments
that are marked modified but have nothing queued.`,
	Example: `  fieldsync sync
  fieldsync sync --retry
  fieldsync sync --clear-failed --json`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var (
	syncRetry       bool
	syncClearFailed bool
	syncRequeue     bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncRetry, "retry", false,
		"Reset failed items to pending before draining")
	syncCmd.Flags().BoolVar(&syncClearFailed, "clear-failed", false,
		"Discard failed items instead of draining")
	syncCmd.Flags().BoolVar(&syncRequeue, "requeue", false,
		"Queue modified assessments that have no queued edits")

	syncCmd.MarkFlagsMutuallyExclusive("retry", "clear-failed")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			printWarning("\nSync interrupted, stopping after the current item...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if syncClearFailed {
		n, err := apiClient.Sync.ClearFailed(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{"success": true, "cleared": n})
		} else {
			printSuccess("Cleared %d failed item(s)", n)
		}
		return nil
	}

	if syncRequeue {
		n, err := apiClient.Assessments.RequeueModified(ctx)
		if err != nil {
			return err
		}
		if !jsonOutput {
			printInfo("Requeued %d edit(s)", n)
		}
	}

	if !apiClient.Monitor.CheckConnection(ctx) {
		return models.ErrOffline
	}

	done := make(chan struct{})
	var collected []map[string]interface{}
	go func() {
		defer close(done)
		watchEvents(ctx, &collected)
	}()

	start := time.Now()
	var (
		result *sync.Result
		err    error
		reset  int
	)
	if syncRetry {
		reset, result, err = apiClient.Sync.RetryFailed(ctx)
	} else {
		result, err = apiClient.Sync.ForceSyncNow(ctx)
	}
	cancel()
	<-done

	state := apiClient.Sync.State()

	if jsonOutput {
		out := map[string]interface{}{
			"success": err == nil,
			"result":  result,
			"state":   state,
			"events":  collected,
		}
		if syncRetry {
			out["reset"] = reset
		}
		if err != nil {
			out["error"] = err.Error()
		}
		printJSON(out)
		return err
	}

	if err != nil {
		if errors.Is(err, models.ErrSyncInProgress) {
			printWarning("Another sync is already running")
		}
		return err
	}
	if result == nil {
		printInfo("Nothing to sync")
		return nil
	}

	fmt.Printf("\nSync summary:\n")
	if syncRetry {
		fmt.Printf("   Reset failed: %d\n", reset)
	}
	fmt.Printf("   Processed: %d\n", result.Processed)
	fmt.Printf("   Succeeded: %d\n", result.Succeeded)
	fmt.Printf("   Failed:    %d\n", result.Failed)
	if result.Deferred > 0 {
		fmt.Printf("   Backing off: %d\n", result.Deferred)
	}
	fmt.Printf("   Pending:   %d\n", state.PendingCount)
	fmt.Printf("   Duration:  %s\n", time.Since(start).Round(time.Millisecond))

	switch {
	case result.Stopped:
		printWarning("Sync stopped before the queue was drained")
	case state.FailedCount > 0:
		printWarning("%d item(s) failed permanently (retry with: fieldsync sync --retry)", state.FailedCount)
	case result.Failed > 0:
		printWarning("Some items failed and will be retried")
	default:
		printSuccess("Sync completed successfully")
	}
	return nil
}

// watchEvents prints or collects sync events until ctx is done and the
// channel is drained.
func watchEvents(ctx context.Context, collected *[]map[string]interface{}) {
	handle := func(event sync.Event) {
		if jsonOutput {
			data := map[string]interface{}{
				"type":      event.Type,
				"timestamp": event.Timestamp,
			}
			if event.Item != nil {
				data["item_id"] = event.Item.ID
				data["entity_id"] = event.Item.EntityID
			}
			if event.Error != nil {
				data["error"] = event.Error.Error()
			}
			*collected = append(*collected, data)
			return
		}

		switch event.Type {
		case sync.EventStarted:
			printInfo("Syncing...")
		case sync.EventItemCompleted:
			successColor.Printf("  ✓ ")
			fmt.Printf("%s %s %s\n", event.Item.Type, event.Item.EntityID, event.Item.Discriminator)
		case sync.EventItemFailed:
			errorColor.Printf("  ✗ ")
			fmt.Printf("%s %s: %v\n", event.Item.Type, event.Item.EntityID, event.Error)
		case sync.EventStopped:
			printWarning("  Stopped")
		}
	}

	events := apiClient.Sync.Events()
	for {
		select {
		case event := <-events:
			handle(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-events:
					handle(event)
				default:
					return
				}
			}
		}
	}
}
