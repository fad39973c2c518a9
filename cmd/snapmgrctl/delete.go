package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var deleteRepository string

var deleteCmd = &cobra.Command{
	Use:   "delete NAME...",
	Short: "Delete one or more snapshots (NAME may be a glob, or _all)",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if err := client().DeleteSnapshots(ctx, deleteRepository, args); err != nil {
			fail(err)
		}
		fmt.Println("deleted")
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteRepository, "repository", "", "repository name (required)")
	_ = deleteCmd.MarkFlagRequired("repository")
}
