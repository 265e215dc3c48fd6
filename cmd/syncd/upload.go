package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload ENDPOINT FILE",
	Short: "Upload a file as multipart form data, reporting progress",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, path := args[0], args[1]
		field, _ := cmd.Flags().GetString("field")

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()

		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.close()

		raw, err := rt.client.UploadFile(cmd.Context(), endpoint, field, filepath.Base(path), f, func(percent int) {
			fmt.Fprintf(os.Stderr, "\ruploading %s: %3d%%", filepath.Base(path), percent)
		})
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("field", "file", "multipart form field name")
}
