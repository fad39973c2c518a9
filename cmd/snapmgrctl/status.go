package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jvs-project/snapmgr/internal/adminapi"
)

var statusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show the finalized status of a snapshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), adminapi.DefaultTimeout)
		defer cancel()

		info, err := client().Status(ctx, args[0])
		if err != nil {
			fail(err)
		}
		printSnapshotInfo(info)
	},
}
