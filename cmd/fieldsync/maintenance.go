package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/fieldsync/internal/config"
	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/store"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Apply retention to synced data, uploaded photos and completed items",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete all local data, including unsynced edits",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write an example config file",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipClient: "true"},
	RunE:        runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Remote.APIKey != "" {
			shown.Remote.APIKey = "********"
		}
		printJSON(shown)
		return nil
	},
}

var (
	logoutForce bool
	configForce bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd, logoutCmd, configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)

	logoutCmd.Flags().BoolVarP(&logoutForce, "yes", "y", false,
		"Do not ask for confirmation")
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite an existing file")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	result, err := apiClient.Cleanup(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(result)
		return nil
	}
	printSuccess("Cleanup completed")
	fmt.Printf("   Assessments:     %d\n", result.Assessments)
	fmt.Printf("   Appointments:    %d\n", result.Appointments)
	fmt.Printf("   Photos:          %d\n", result.Photos)
	fmt.Printf("   Completed items: %d\n", result.CompletedItems)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	unsynced, err := apiClient.Store.CountTasks(ctx, store.TaskFilter{
		Statuses: []models.QueueStatus{models.QueuePending, models.QueueInProgress, models.QueueFailed},
	})
	if err != nil {
		return err
	}
	if unsynced > 0 && !logoutForce {
		printWarning("%d queued item(s) have not been synced and will be lost.", unsynced)
		if !confirm("Delete all local data?") {
			return errors.New("logout cancelled")
		}
	}

	if err := apiClient.Logout(ctx); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "discarded_items": unsynced})
		return nil
	}
	printSuccess("Local data cleared")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "fieldsync.json"
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.SaveExample(path); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "path": path})
		return nil
	}
	printSuccess("Wrote example config to %s", path)
	return nil
}
