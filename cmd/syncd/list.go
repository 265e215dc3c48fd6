package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"gigsync/internal/notification"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print one page of notification history",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		asJSON, _ := cmd.Flags().GetBool("json")

		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		store := notification.NewStore()
		result, err := notification.NewAPI(rt.client, rt.cfg.API.PageLimit).List(ctx, page, false)
		if err != nil {
			return fmt.Errorf("fetching page %d: %w", page, err)
		}
		store.ApplyPage(result.Items, result.Page, result.HasMore)
		snap := store.Snapshot()

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tREAD\tCREATED\tTITLE")
		for _, n := range snap.Notifications {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", n.ID, n.Type, n.IsRead, n.CreatedAt.Format(time.RFC3339), n.Title)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d unread, page %d, more: %t\n", snap.UnreadCount, snap.Page, snap.HasMore)
		return nil
	},
}

func init() {
	listCmd.Flags().Int("page", 1, "history page to fetch")
	listCmd.Flags().Bool("json", false, "print the snapshot as JSON")
}
