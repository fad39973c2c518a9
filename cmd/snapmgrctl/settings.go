package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jvs-project/snapmgr/internal/adminapi"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or change dynamic settings (snapshot.max_concurrent_operations)",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get max_concurrent_operations",
	Short: "Print the current value of a dynamic setting",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), adminapi.DefaultTimeout)
		defer cancel()

		v, err := client().GetMaxConcurrentOperations(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Println(v)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set max_concurrent_operations VALUE",
	Short: "Change a dynamic setting",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		value, err := strconv.Atoi(args[1])
		if err != nil {
			fail(fmt.Errorf("invalid value %q: %w", args[1], err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), adminapi.DefaultTimeout)
		defer cancel()

		v, err := client().SetMaxConcurrentOperations(ctx, value)
		if err != nil {
			fail(err)
		}
		fmt.Println(v)
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
}
