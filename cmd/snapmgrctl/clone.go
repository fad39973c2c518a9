package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/snapmgr/internal/adminapi"
	"github.com/jvs-project/snapmgr/pkg/model"
)

var (
	cloneRepository string
	cloneSource     string
	cloneIndices    []string
	cloneWait       bool
)

var cloneCmd = &cobra.Command{
	Use:   "clone NAME",
	Short: "Clone an existing snapshot under a new name",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		c := client()
		source, err := resolveSnapshotID(ctx, c, cloneSource)
		if err != nil {
			fail(err)
		}

		info, err := c.CloneSnapshot(ctx, adminapi.CloneSnapshotRequest{
			Repository: cloneRepository,
			Name:       args[0],
			Source:     source,
			Indices:    parseIndexIDs(cloneIndices),
			Wait:       cloneWait,
		})
		if err != nil {
			fail(err)
		}
		printSnapshotInfo(info)
	},
}

// resolveSnapshotID accepts "name" or "name:uuid" for --source; when the
// UUID is omitted it looks the snapshot up in the repository's finalized
// catalogue, since CloneSnapshot matches its source by full SnapshotID.
func resolveSnapshotID(ctx context.Context, c *adminapi.Client, raw string) (model.SnapshotID, error) {
	name, uuid, hasUUID := strings.Cut(raw, ":")
	if hasUUID {
		return model.SnapshotID{Name: name, UUID: uuid}, nil
	}
	ids, err := c.ListFinalized(ctx, []string{name})
	if err != nil {
		return model.SnapshotID{}, err
	}
	for _, id := range ids {
		if id.Name == name {
			return id, nil
		}
	}
	return model.SnapshotID{}, fmt.Errorf("source snapshot %q not found", name)
}

func init() {
	cloneCmd.Flags().StringVar(&cloneRepository, "repository", "", "repository name (required)")
	cloneCmd.Flags().StringVar(&cloneSource, "source", "", "source snapshot name (required)")
	cloneCmd.Flags().StringSliceVar(&cloneIndices, "index", nil, "index to clone, repeatable (name or name:uuid)")
	cloneCmd.Flags().BoolVar(&cloneWait, "wait", true, "block until the clone finalizes")
	_ = cloneCmd.MarkFlagRequired("repository")
	_ = cloneCmd.MarkFlagRequired("source")
}
