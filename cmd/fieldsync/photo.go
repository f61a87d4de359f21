package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/fieldsync/internal/services/photos"
)

var photoCmd = &cobra.Command{
	Use:     "photo",
	Aliases: []string{"p"},
	Short:   "Capture and manage assessment photos",
}

var photoAddCmd = &cobra.Command{
	Use:   "add <assessment-id> <image-file>",
	Short: "Compress a photo, store it locally and queue its upload",
	Example: `  fieldsync photo add A1 IMG_0042.jpg --category damage --label "Nearside door"`,
	Args:  cobra.ExactArgs(2),
	RunE:  runPhotoAdd,
}

var photoListCmd = &cobra.Command{
	Use:   "list <assessment-id>",
	Short: "List photos of an assessment",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhotoList,
}

var photoLabelCmd = &cobra.Command{
	Use:   "label <photo-id> <label>",
	Short: "Change a photo label and queue the update",
	Args:  cobra.ExactArgs(2),
	RunE:  runPhotoLabel,
}

var photoDeleteCmd = &cobra.Command{
	Use:   "delete <photo-id>",
	Short: "Delete a photo and its queued uploads",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhotoDelete,
}

var photoExportCmd = &cobra.Command{
	Use:   "export <photo-id> <dest-file>",
	Short: "Write a stored photo or its thumbnail to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runPhotoExport,
}

var (
	photoCategory  string
	photoLabel     string
	photoThumbnail bool
)

func init() {
	rootCmd.AddCommand(photoCmd)
	photoCmd.AddCommand(photoAddCmd, photoListCmd, photoLabelCmd, photoDeleteCmd, photoExportCmd)

	photoAddCmd.Flags().StringVar(&photoCategory, "category", photos.DefaultCategory,
		"Photo category")
	photoAddCmd.Flags().StringVar(&photoLabel, "label", "",
		"Human-readable label")
	photoListCmd.Flags().StringVar(&photoCategory, "category", "",
		"Only list this category")
	photoExportCmd.Flags().BoolVar(&photoThumbnail, "thumbnail", false,
		"Export the thumbnail instead of the full photo")
}

func runPhotoAdd(cmd *cobra.Command, args []string) error {
	assessmentID, path := args[0], args[1]

	input, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	photo, err := apiClient.Photos.StorePhoto(cmd.Context(), assessmentID, photoCategory, input, photoLabel)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(photo)
		return nil
	}
	printSuccess("Stored photo %s (%s, was %s)", photo.ID, formatBytes(photo.Size), formatBytes(int64(len(input))))
	return nil
}

func runPhotoList(cmd *cobra.Command, args []string) error {
	list, err := apiClient.Photos.Photos(cmd.Context(), args[0], photoCategory)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(list)
		return nil
	}
	if len(list) == 0 {
		printInfo("No photos")
		return nil
	}
	for _, p := range list {
		fmt.Printf("  %s  %-10s %-10s %9s  %s\n", p.ID, p.Category, p.Status, formatBytes(p.Size), p.Label)
		if p.RemoteURL != "" {
			fmt.Printf("      %s\n", p.RemoteURL)
		}
	}
	return nil
}

func runPhotoLabel(cmd *cobra.Command, args []string) error {
	if err := apiClient.Photos.UpdateLabel(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "photo_id": args[0]})
		return nil
	}
	printSuccess("Label updated")
	return nil
}

func runPhotoDelete(cmd *cobra.Command, args []string) error {
	if err := apiClient.Photos.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "photo_id": args[0]})
		return nil
	}
	printSuccess("Deleted photo %s", args[0])
	return nil
}

func runPhotoExport(cmd *cobra.Command, args []string) error {
	id, dest := args[0], args[1]

	return apiClient.Photos.WithPhotoURL(cmd.Context(), id, photoThumbnail, func(h *photos.DisplayHandle) error {
		data, err := os.ReadFile(h.Path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0600); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}

		if jsonOutput {
			printJSON(map[string]interface{}{"path": dest, "content_type": h.ContentType, "bytes": len(data)})
		} else {
			printSuccess("Wrote %s (%s)", dest, h.ContentType)
		}
		return nil
	})
}
