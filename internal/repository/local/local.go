// Package local is a reference RepositoryDriver (component C1)
// implementation backed by a local directory tree. It is grounded on
// the teacher's internal/engine clone engines (reflink, JuiceFS clone,
// plain copy): each engine already knows how to produce a
// point-in-time copy of a directory, which is exactly what
// CloneShardSnapshot needs per shard. Repository metadata (generation,
// shard generations, finalized SnapshotInfo records) is written with
// pkg/fsutil.AtomicWrite, the same durable-write-then-rename pattern the
// teacher used for its worktree metadata.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jvs-project/snapmgr/internal/engine"
	"github.com/jvs-project/snapmgr/internal/repository"
	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/fsutil"
	"github.com/jvs-project/snapmgr/pkg/jsonutil"
	"github.com/jvs-project/snapmgr/pkg/model"
	"github.com/jvs-project/snapmgr/pkg/pathutil"
	"github.com/jvs-project/snapmgr/pkg/uuidutil"
)

// diskMeta is the on-disk shape of repository.Data.
type diskMeta struct {
	Generation       int64                        `json:"generation"`
	Snapshots        []model.SnapshotID           `json:"snapshots"`
	ShardGenerations map[string]string            `json:"shard_generations"`
}

// Driver is a local-filesystem RepositoryDriver.
type Driver struct {
	root   string
	engine engine.Engine
	sem    chan struct{}

	// mu serializes ExecuteConsistentStateUpdate against concurrent
	// writers; the repository interface promises fn runs with exclusive
	// access. It also guards shardIDIndex.
	mu sync.Mutex

	// shardIDIndex recovers the typed RepositoryShardID each on-disk
	// shardKey string was minted from, since diskMeta's map is keyed by
	// string for JSON stability. A shard this process has never written
	// to (e.g. right after a restart) is simply absent until its next
	// write; GenerationFor's NewShardGen fallback covers that gap.
	shardIDIndex map[string]model.RepositoryShardID
}

// New creates a Driver rooted at root, using eng for shard data copies
// and allowing at most maxConcurrentCopies clone operations in flight at
// once (the "snapshot executor" bounded worker pool from section 5).
func New(root string, eng engine.Engine, maxConcurrentCopies int) (*Driver, error) {
	if maxConcurrentCopies < 1 {
		maxConcurrentCopies = 1
	}
	if err := os.MkdirAll(filepath.Join(root, "snapshots"), 0o755); err != nil {
		return nil, fmt.Errorf("local repository: create snapshots dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "indices"), 0o755); err != nil {
		return nil, fmt.Errorf("local repository: create indices dir: %w", err)
	}
	d := &Driver{
		root:         root,
		engine:       eng,
		sem:          make(chan struct{}, maxConcurrentCopies),
		shardIDIndex: map[string]model.RepositoryShardID{},
	}
	if _, err := os.Stat(d.metaPath()); os.IsNotExist(err) {
		if err := d.writeMeta(&diskMeta{ShardGenerations: map[string]string{}}); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Driver) metaPath() string { return filepath.Join(d.root, "meta.json") }

func (d *Driver) readMeta() (*diskMeta, error) {
	raw, err := os.ReadFile(d.metaPath())
	if err != nil {
		return nil, fmt.Errorf("local repository: read meta: %w", err)
	}
	var m diskMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("local repository: decode meta: %w", err)
	}
	if m.ShardGenerations == nil {
		m.ShardGenerations = map[string]string{}
	}
	return &m, nil
}

func (d *Driver) writeMeta(m *diskMeta) error {
	raw, err := jsonutil.CanonicalMarshal(m)
	if err != nil {
		return fmt.Errorf("local repository: encode meta: %w", err)
	}
	return fsutil.AtomicWrite(d.metaPath(), raw, 0o644)
}

func shardKey(s model.RepositoryShardID) string {
	return fmt.Sprintf("%s/%s#%d", s.Index.Name, s.Index.UUID, s.ShardIndex)
}

// GetRepositoryData implements repository.Driver.
func (d *Driver) GetRepositoryData(ctx context.Context) (*repository.Data, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, err := d.readMeta()
	if err != nil {
		return nil, err
	}
	return d.toRepositoryDataLocked(m), nil
}

// toRepositoryDataLocked rebuilds the typed ShardGenerations map from
// disk keys; callers must hold d.mu.
func (d *Driver) toRepositoryDataLocked(m *diskMeta) *repository.Data {
	data := &repository.Data{
		Generation:       m.Generation,
		Snapshots:        m.Snapshots,
		ShardGenerations: map[model.RepositoryShardID]string{},
	}
	for k, v := range d.shardIDIndex {
		if gen, ok := m.ShardGenerations[k]; ok {
			data.ShardGenerations[v] = gen
		}
	}
	return data
}

// ExecuteConsistentStateUpdate implements repository.Driver.
func (d *Driver) ExecuteConsistentStateUpdate(ctx context.Context, fn func(*repository.Data) error) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readMeta()
	if err != nil {
		return 0, err
	}
	data := d.toRepositoryDataLocked(m)
	if err := fn(data); err != nil {
		return 0, err
	}

	m.Generation = data.Generation + 1
	m.Snapshots = data.Snapshots
	for shard, gen := range data.ShardGenerations {
		key := shardKey(shard)
		m.ShardGenerations[key] = gen
		d.shardIDIndex[key] = shard
	}
	if err := d.writeMeta(m); err != nil {
		return 0, err
	}
	return m.Generation, nil
}

func (d *Driver) snapshotDir(id model.SnapshotID) (string, error) {
	if err := pathutil.ValidateSnapshotName(id.Name); err != nil {
		return "", err
	}
	dir := filepath.Join(d.root, "snapshots", id.UUID)
	if err := pathutil.ValidatePathSafety(d.root, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// GetSnapshotInfo implements repository.Driver.
func (d *Driver) GetSnapshotInfo(ctx context.Context, id model.SnapshotID) (*model.SnapshotInfo, error) {
	dir, err := d.snapshotDir(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "info.json"))
	if os.IsNotExist(err) {
		return nil, errclass.ErrSnapshotMissing.WithMessagef("%s not found", id.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("local repository: read snapshot info: %w", err)
	}
	var info model.SnapshotInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("local repository: decode snapshot info: %w", err)
	}
	return &info, nil
}

// GetSnapshotIndexMetadata implements repository.Driver.
func (d *Driver) GetSnapshotIndexMetadata(ctx context.Context, data *repository.Data, id model.SnapshotID, index model.IndexID) (*model.IndexMetadata, error) {
	dir, err := d.snapshotDir(id)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "indices", index.UUID+".json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errclass.ErrSnapshotException.WithMessagef("index %s not present in snapshot %s", index.Name, id.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("local repository: read index metadata: %w", err)
	}
	var meta model.IndexMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("local repository: decode index metadata: %w", err)
	}
	return &meta, nil
}

// GetSnapshotGlobalMetadata implements repository.Driver.
func (d *Driver) GetSnapshotGlobalMetadata(ctx context.Context, id model.SnapshotID) (map[string]any, error) {
	dir, err := d.snapshotDir(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "global-meta.json"))
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local repository: read global metadata: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("local repository: decode global metadata: %w", err)
	}
	return meta, nil
}

// InitializeSnapshot implements repository.Driver.
func (d *Driver) InitializeSnapshot(ctx context.Context, id model.SnapshotID, indices []model.IndexID, meta map[string]any) error {
	dir, err := d.snapshotDir(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "indices"), 0o755); err != nil {
		return fmt.Errorf("local repository: initialize snapshot: %w", err)
	}
	raw, err := jsonutil.CanonicalMarshal(map[string]any{
		"name":      id.Name,
		"indices":   indices,
		"metadata":  meta,
		"pending":   true,
		"startedMs": time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("local repository: encode init marker: %w", err)
	}
	return fsutil.AtomicWrite(filepath.Join(dir, "pending.json"), raw, 0o644)
}

// FinalizeSnapshot implements repository.Driver. Actual shard data
// transfer for normal (non-clone) snapshots is out of scope (section 1's
// non-goals: "implementing the data-node side of shard snapshots") — a
// data node has already written shard blobs by the time this runs.
// Finalize only durably records the outcome and shard generations.
func (d *Driver) FinalizeSnapshot(ctx context.Context, req repository.FinalizeRequest) (*model.SnapshotInfo, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readMeta()
	if err != nil {
		return nil, 0, err
	}
	if req.ExpectedGeneration >= 0 && m.Generation > req.ExpectedGeneration+1 {
		return nil, 0, errclass.ErrRepositoryException.WithMessage("repository generation advanced past expected value")
	}

	dir, err := d.snapshotDir(req.Snapshot.SnapshotID)
	if err != nil {
		return nil, 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("local repository: finalize: %w", err)
	}

	info := *req.Info
	info.EndTimeMs = time.Now().UnixMilli()

	raw, err := jsonutil.CanonicalMarshal(&info)
	if err != nil {
		return nil, 0, fmt.Errorf("local repository: encode snapshot info: %w", err)
	}
	if err := fsutil.AtomicWrite(filepath.Join(dir, "info.json"), raw, 0o644); err != nil {
		return nil, 0, fmt.Errorf("local repository: write snapshot info: %w", err)
	}
	_ = os.Remove(filepath.Join(dir, "pending.json"))

	m.Snapshots = append(m.Snapshots, req.Snapshot.SnapshotID)
	for shard, gen := range req.ShardGenerations {
		key := shardKey(shard)
		m.ShardGenerations[key] = gen
		d.shardIDIndex[key] = shard
	}
	m.Generation++
	if err := d.writeMeta(m); err != nil {
		return nil, 0, err
	}

	return &info, m.Generation, nil
}

// DeleteSnapshots implements repository.Driver.
func (d *Driver) DeleteSnapshots(ctx context.Context, ids []model.SnapshotID, expectedGeneration int64, repoMetaVersion int) (int64, error) {
	if len(ids) > 1 && repoMetaVersion < model.MultiDelete {
		return 0, errclass.ErrRepositoryException.WithMessage("multi-snapshot delete requires MULTI_DELETE peer version")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readMeta()
	if err != nil {
		return 0, err
	}

	want := make(map[model.SnapshotID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	kept := m.Snapshots[:0]
	for _, id := range m.Snapshots {
		if !want[id] {
			kept = append(kept, id)
		}
	}
	m.Snapshots = kept

	for _, id := range ids {
		dir, err := d.snapshotDir(id)
		if err != nil {
			return 0, err
		}
		if err := os.RemoveAll(dir); err != nil {
			return 0, fmt.Errorf("local repository: delete snapshot %s: %w", id.Name, err)
		}
	}

	m.Generation++
	if err := d.writeMeta(m); err != nil {
		return 0, err
	}
	return m.Generation, nil
}

// CloneShardSnapshot implements repository.Driver, bounded by the
// driver's worker pool (section 5's "snapshot executor"). The actual
// generation-directory layout and copy strategy (plain copy, reflink,
// or juicefs clone) live in internal/engine; the driver only mints the
// destination generation and validates it stays under d.root.
func (d *Driver) CloneShardSnapshot(ctx context.Context, req repository.CloneShardRequest) (string, error) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-d.sem }()

	newGen := uuidutil.NewV4()
	if err := pathutil.ValidatePathSafety(d.root, engine.GenerationDir(d.root, req.Shard, req.Generation)); err != nil {
		return "", err
	}
	if err := pathutil.ValidatePathSafety(d.root, engine.GenerationDir(d.root, req.Shard, newGen)); err != nil {
		return "", err
	}

	if _, err := d.engine.CloneGeneration(d.root, req.Shard, req.Generation, newGen); err != nil {
		return "", errclass.ErrSnapshotException.WithMessagef("clone shard %s#%d: %v", req.Shard.Index.Name, req.Shard.ShardIndex, err)
	}
	return newGen, nil
}
