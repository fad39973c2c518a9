package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/snapmgr/internal/adminapi"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check connectivity and current settings of the target snapmgrd",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), adminapi.DefaultTimeout)
		defer cancel()

		c := client()
		if err := c.Healthz(ctx); err != nil {
			fmt.Println("healthz: FAIL -", err)
			return
		}
		fmt.Println("healthz: ok")

		maxOps, err := c.GetMaxConcurrentOperations(ctx)
		if err != nil {
			fmt.Println("max_concurrent_operations: FAIL -", err)
			return
		}
		fmt.Printf("max_concurrent_operations: %d\n", maxOps)
	},
}
