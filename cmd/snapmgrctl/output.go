package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jvs-project/snapmgr/pkg/model"
)

func printSnapshotInfo(info *model.SnapshotInfo) {
	fmt.Printf("snapshot: %s (%s)\n", info.SnapshotID.Name, info.SnapshotID.UUID)
	fmt.Printf("state:    %s\n", info.State)
	fmt.Printf("shards:   %d/%d successful\n", info.SuccessfulShards, info.TotalShards)
	for _, f := range info.Failures {
		fmt.Printf("  failure: %s[%d] on %s: %s\n", f.Index.Name, f.ShardIndex, f.NodeID, f.Reason)
	}
}

func printSnapshotEntries(entries []*model.SnapshotEntry) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tNAME\tUUID\tSTATE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Snapshot.Repository, e.Snapshot.SnapshotID.Name, e.Snapshot.SnapshotID.UUID, e.State)
	}
	_ = tw.Flush()
}

func printSnapshotIDs(ids []model.SnapshotID) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tUUID")
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%s\n", id.Name, id.UUID)
	}
	_ = tw.Flush()
}
