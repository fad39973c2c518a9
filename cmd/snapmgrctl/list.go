package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/snapmgr/internal/adminapi"
)

var (
	listRepository string
	listFinalized  bool
)

var listCmd = &cobra.Command{
	Use:   "list [NAME...]",
	Short: "List snapshots (in progress by default; --finalized for the repository's persisted catalogue)",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), adminapi.DefaultTimeout)
		defer cancel()

		c := client()
		if listFinalized {
			ids, err := c.ListFinalized(ctx, args)
			if err != nil {
				fail(err)
			}
			printSnapshotIDs(ids)
			return
		}

		entries, err := c.ListSnapshots(ctx, listRepository, args)
		if err != nil {
			fail(err)
		}
		if len(entries) == 0 {
			fmt.Println("no snapshots in progress")
			return
		}
		printSnapshotEntries(entries)
	},
}

func init() {
	listCmd.Flags().StringVar(&listRepository, "repository", "_all", "repository name, or _all")
	listCmd.Flags().BoolVar(&listFinalized, "finalized", false, "list the repository's durably-persisted catalogue instead of in-progress snapshots")
}
