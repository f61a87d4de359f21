package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/fieldsync/internal/services/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow connectivity and sync automatically until interrupted",
	Long: `Run watches the link state and drains the sync queue every time the
device comes back online, and periodically while it stays online.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Sync.AutoSync {
		printWarning("Auto-sync is disabled; only connectivity is tracked")
	}
	if !apiClient.HasRemote() {
		printWarning("No remote backend configured; edits stay queued")
	}

	unsubscribe := apiClient.Sync.Subscribe(func(state sync.State) {
		if state.IsSyncing || jsonOutput {
			return
		}
		if state.LastError != "" {
			printWarning("Last sync error: %s", state.LastError)
		}
	})
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-apiClient.Sync.Events():
				reportRunEvent(event)
			}
		}
	}()

	if !jsonOutput {
		printInfo("Watching connectivity (online: %v). Press Ctrl+C to stop.", apiClient.Monitor.IsOnline())
	}

	err := apiClient.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}

	if !jsonOutput {
		printInfo("Stopped")
	}
	return nil
}

func reportRunEvent(event sync.Event) {
	if jsonOutput {
		data := map[string]interface{}{
			"type":      event.Type,
			"timestamp": event.Timestamp,
			"pending":   event.State.PendingCount,
			"failed":    event.State.FailedCount,
		}
		if event.Item != nil {
			data["item_id"] = event.Item.ID
		}
		if event.Error != nil {
			data["error"] = event.Error.Error()
		}
		printJSON(data)
		return
	}

	switch event.Type {
	case sync.EventStarted:
		printInfo("Sync started")
	case sync.EventCompleted:
		printSuccess("Sync finished: %d pending, %d failed", event.State.PendingCount, event.State.FailedCount)
	case sync.EventItemFailed:
		printWarning("  %s %s: %v", event.Item.Type, event.Item.EntityID, event.Error)
	case sync.EventStopped:
		printWarning("Sync stopped: connection lost")
	}
}
