// Command fieldsync inspects and drives the offline store and sync queue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/fieldsync/internal/client"
	"github.com/TheMichaelB/fieldsync/internal/config"
	"github.com/TheMichaelB/fieldsync/internal/events"
)

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool
	noColor    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

// skipClient marks commands that run without opening the store.
const skipClient = "skip-client"

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline assessment store and sync queue",
	Long: `fieldsync keeps assessment edits and photos on the device and drains
them to the remote backend whenever a connection is available.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if apiClient != nil {
			if err := apiClient.Close(); err != nil {
				return err
			}
		}
		if logger != nil {
			return logger.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: ./fieldsync.json, ~/.config/fieldsync/fieldsync.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")
}

func setup(cmd *cobra.Command, args []string) error {
	configureColor()

	if cmd.Annotations[skipClient] == "true" {
		return nil
	}

	loader := config.NewLoader(cfgFile)
	var err error
	cfg, err = loader.Load()
	if err != nil {
		return err
	}

	// Routine engine logs stay out of command output unless asked for.
	if verbose {
		cfg.Log.Level = "debug"
	} else if cfg.Log.File == "" && (cfg.Log.Level == "debug" || cfg.Log.Level == "info") {
		cfg.Log.Level = "warn"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	if used := loader.ConfigFileUsed(); used != "" {
		logger.WithField("path", used).Debug("Loaded config file")
	}

	apiClient, err = client.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Error: %v", err)
		}
		os.Exit(1)
	}
}
