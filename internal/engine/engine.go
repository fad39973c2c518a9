package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jvs-project/snapmgr/pkg/model"
)

// CloneResult contains the result of a clone operation.
type CloneResult struct {
	Degraded     bool     // true if any degradation occurred
	Degradations []string // list of degradation types
}

// Engine clones one repository shard's generation directory into a
// freshly minted generation directory of the same shard. This is the
// per-shard data-plane primitive both cloneSnapshot's shard-copy step
// (section 4.1.2) and internal/repository/local's CloneShardSnapshot
// need; the engine owns the on-disk generation-directory layout so
// callers never construct those paths themselves.
type Engine interface {
	// Name returns the engine type identifier.
	Name() model.EngineType

	// CloneGeneration copies shard's fromGen directory, rooted at root,
	// into a new directory named toGen. Returns CloneResult with
	// degradation info if applicable.
	CloneGeneration(root string, shard model.RepositoryShardID, fromGen, toGen string) (*CloneResult, error)
}

// GenerationDir returns the on-disk directory holding one repository
// shard's generation, under root's "indices" tree
// ("indices/<index-uuid>/shard-<n>/<generation>").
func GenerationDir(root string, shard model.RepositoryShardID, gen string) string {
	return filepath.Join(root, "indices", shard.Index.UUID, fmt.Sprintf("shard-%d", shard.ShardIndex), gen)
}

// cloneGenerationDirs resolves fromGen/toGen's directories and handles
// the case where fromGen was never written: an empty shard has no
// generation directory on disk, so cloning it means creating an empty
// toGen directory rather than asking an engine to copy something that
// doesn't exist. done is true when the caller has nothing left to do.
func cloneGenerationDirs(root string, shard model.RepositoryShardID, fromGen, toGen string) (src, dst string, done bool, err error) {
	src = GenerationDir(root, shard, fromGen)
	dst = GenerationDir(root, shard, toGen)
	if _, statErr := os.Stat(src); os.IsNotExist(statErr) {
		if mkErr := os.MkdirAll(dst, 0o755); mkErr != nil {
			return "", "", false, fmt.Errorf("create empty generation dir: %w", mkErr)
		}
		return src, dst, true, nil
	}
	return src, dst, false, nil
}
