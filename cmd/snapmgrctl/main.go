// Command snapmgrctl is a cobra CLI for admission, inspection, and
// health checks against a running cmd/snapmgrd, talking to it over the
// admin HTTP API (internal/adminapi) rather than sharing its in-memory
// ClusterStateBus — the two are always separate processes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/snapmgr/internal/adminapi"
)

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "snapmgrctl",
	Short: "Control a running snapmgrd instance",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:9400", "snapmgrd admin API address")
	rootCmd.AddCommand(createCmd, cloneCmd, deleteCmd, listCmd, statusCmd, doctorCmd, settingsCmd)
}

func client() *adminapi.Client {
	return adminapi.NewClient(serverAddr)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
