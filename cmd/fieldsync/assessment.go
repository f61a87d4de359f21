package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/fieldsync/internal/client"
	"github.com/TheMichaelB/fieldsync/internal/models"
)

var assessmentCmd = &cobra.Command{
	Use:     "assessment",
	Aliases: []string{"a"},
	Short:   "Edit and inspect cached assessments",
}

var assessmentSaveCmd = &cobra.Command{
	Use:   "save <assessment-id> <tab> [json]",
	Short: "Save one tab locally and queue it for sync",
	Long: `Save writes tab data to the local store and queues it for sync. The
data is a JSON document given as an argument, read from --file, or read
from stdin when neither is given.`,
	Example: `  fieldsync assessment save A1 notes '{"text":"rear bumper scuffed"}'
  fieldsync assessment save A1 damage --file damage.json`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runAssessmentSave,
}

var assessmentShowCmd = &cobra.Command{
	Use:   "show <assessment-id>",
	Short: "Show a cached assessment",
	Example: `  fieldsync assessment show A1
  fieldsync assessment show A1 --tab notes`,
	Args: cobra.ExactArgs(1),
	RunE: runAssessmentShow,
}

var assessmentPreloadCmd = &cobra.Command{
	Use:   "preload <assessment-id>",
	Short: "Cache a remote snapshot without overwriting local edits",
	Long: `Preload caches a whole-assessment snapshot (a JSON object keyed by tab
name) read from --file or stdin. Assessments holding unsynced local edits are
left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runAssessmentPreload,
}

var assessmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assessments with unsynced edits",
	Args:  cobra.NoArgs,
	RunE:  runAssessmentList,
}

var (
	assessmentFile        string
	assessmentTab         string
	assessmentAppointment string
	assessmentRequest     string
)

func init() {
	rootCmd.AddCommand(assessmentCmd)
	assessmentCmd.AddCommand(assessmentSaveCmd, assessmentShowCmd, assessmentPreloadCmd, assessmentListCmd)

	assessmentSaveCmd.Flags().StringVarP(&assessmentFile, "file", "f", "",
		"Read tab data from file")
	assessmentShowCmd.Flags().StringVarP(&assessmentTab, "tab", "t", "",
		"Show only this tab")
	assessmentPreloadCmd.Flags().StringVarP(&assessmentFile, "file", "f", "",
		"Read the snapshot from file")
	assessmentPreloadCmd.Flags().StringVar(&assessmentAppointment, "appointment", "",
		"Owning appointment id")
	assessmentPreloadCmd.Flags().StringVar(&assessmentRequest, "request", "",
		"Owning request id")
}

func runAssessmentSave(cmd *cobra.Command, args []string) error {
	id := args[0]
	tab, err := models.ParseTab(args[1])
	if err != nil {
		return err
	}

	var raw []byte
	switch {
	case len(args) == 3:
		raw = []byte(args[2])
	default:
		raw, err = readInput(assessmentFile)
		if err != nil {
			return err
		}
	}
	if !json.Valid(raw) {
		return errors.New("tab data must be valid JSON")
	}

	if err := apiClient.Offline.SaveLocal(cmd.Context(), id, tab, json.RawMessage(raw)); err != nil {
		return err
	}

	counts := apiClient.Offline.SyncStatus(cmd.Context(), id)
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":       true,
			"assessment_id": id,
			"tab":           tab,
			"sync_status":   counts,
		})
		return nil
	}

	printSuccess("Saved %s/%s locally (%d pending)", id, tab, counts.Pending)
	if apiClient.Offline.IsOffline() {
		printInfo("Offline: the edit will sync when the connection returns")
	}
	return nil
}

func runAssessmentShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]

	record, err := apiClient.Assessments.GetAssessment(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("assessment %s is not cached", id)
	}
	if err != nil {
		return err
	}

	if assessmentTab != "" {
		tab, err := models.ParseTab(assessmentTab)
		if err != nil {
			return err
		}
		data := client.GetCachedData[json.RawMessage](ctx, apiClient.Offline, id, tab)
		if data == nil {
			return fmt.Errorf("tab %s of %s is not cached", tab, id)
		}
		printJSON(data)
		return nil
	}

	counts := apiClient.Offline.SyncStatus(ctx, id)
	if jsonOutput {
		printJSON(map[string]interface{}{
			"assessment":  record,
			"sync_status": counts,
		})
		return nil
	}

	printHeader(fmt.Sprintf("Assessment %s", record.ID))
	fmt.Printf("  Status:        %s\n", record.Status)
	if record.AppointmentID != "" {
		fmt.Printf("  Appointment:   %s\n", record.AppointmentID)
	}
	if record.RequestID != "" {
		fmt.Printf("  Request:       %s\n", record.RequestID)
	}
	fmt.Printf("  Last modified: %s\n", formatTime(record.LastModified))
	fmt.Printf("  Last synced:   %s\n", formatTime(record.LastSynced))
	fmt.Printf("  Queue:         %d pending, %d failed\n", counts.Pending, counts.Failed)

	tabs := make([]string, 0, len(record.Data))
	for tab := range record.Data {
		tabs = append(tabs, string(tab))
	}
	sort.Strings(tabs)
	fmt.Printf("  Tabs:          %v\n", tabs)
	return nil
}

func runAssessmentPreload(cmd *cobra.Command, args []string) error {
	id := args[0]

	raw, err := readInput(assessmentFile)
	if err != nil {
		return err
	}

	applied := apiClient.Offline.CacheAssessment(cmd.Context(), id, json.RawMessage(raw), models.ParentIDs{
		AppointmentID: assessmentAppointment,
		RequestID:     assessmentRequest,
	})

	if jsonOutput {
		printJSON(map[string]interface{}{"assessment_id": id, "applied": applied})
		return nil
	}
	if applied {
		printSuccess("Cached %s", id)
	} else {
		printWarning("Snapshot not applied: offline, invalid, or %s holds unsynced edits", id)
	}
	return nil
}

func runAssessmentList(cmd *cobra.Command, args []string) error {
	records, err := apiClient.Assessments.ModifiedAssessments(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(records)
		return nil
	}
	if len(records) == 0 {
		printSuccess("No unsynced assessments")
		return nil
	}
	for _, record := range records {
		fmt.Printf("  %-24s %-12s %s\n", record.ID, record.Status, formatTime(record.LastModified))
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return data, nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}
