package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/snapmgr/internal/adminapi"
	"github.com/jvs-project/snapmgr/pkg/model"
)

var (
	createRepository  string
	createIndices     []string
	createDataStreams []string
	createGlobalState bool
	createPartial     bool
	createWait        bool
)

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a snapshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		info, err := client().CreateSnapshot(ctx, adminapi.CreateSnapshotRequest{
			Repository:         createRepository,
			Name:               args[0],
			Indices:            parseIndexIDs(createIndices),
			DataStreams:        createDataStreams,
			IncludeGlobalState: createGlobalState,
			Partial:            createPartial,
			Wait:               createWait,
		})
		if err != nil {
			fail(err)
		}
		printSnapshotInfo(info)
	},
}

func init() {
	createCmd.Flags().StringVar(&createRepository, "repository", "", "repository name (required)")
	createCmd.Flags().StringSliceVar(&createIndices, "index", nil, "index to snapshot, repeatable (name or name:uuid)")
	createCmd.Flags().StringSliceVar(&createDataStreams, "data-stream", nil, "data stream to snapshot, repeatable")
	createCmd.Flags().BoolVar(&createGlobalState, "include-global-state", false, "include cluster global state")
	createCmd.Flags().BoolVar(&createPartial, "partial", false, "allow snapshotting with missing shards")
	createCmd.Flags().BoolVar(&createWait, "wait", true, "block until the snapshot finalizes")
	_ = createCmd.MarkFlagRequired("repository")
}

// parseIndexIDs accepts "name" or "name:uuid" so a demo cluster state
// with empty-UUID indices (the common case with no live index metadata
// service behind this CLI) still round-trips.
func parseIndexIDs(raw []string) []model.IndexID {
	out := make([]model.IndexID, 0, len(raw))
	for _, r := range raw {
		name, uuid, _ := strings.Cut(r, ":")
		out = append(out, model.IndexID{Name: name, UUID: uuid})
	}
	return out
}
