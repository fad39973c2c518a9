package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jvs-project/snapmgr/pkg/fsutil"
	"github.com/jvs-project/snapmgr/pkg/model"
)

// ReflinkEngine performs reflink-based copy (O(1) CoW) on supported
// filesystems, falling back to CopyEngine per-file when a file can't be
// reflinked and on platforms where the FICLONE ioctl isn't available at
// all (reflink_linux.go / reflink_other.go).
type ReflinkEngine struct {
	CopyEngine *CopyEngine // Fallback for unsupported cases
}

// NewReflinkEngine creates a new ReflinkEngine.
func NewReflinkEngine() *ReflinkEngine {
	return &ReflinkEngine{
		CopyEngine: NewCopyEngine(),
	}
}

// Name returns the engine type.
func (e *ReflinkEngine) Name() model.EngineType {
	return model.EngineReflinkCopy
}

// CloneGeneration implements Engine.
func (e *ReflinkEngine) CloneGeneration(root string, shard model.RepositoryShardID, fromGen, toGen string) (*CloneResult, error) {
	src, dst, done, err := cloneGenerationDirs(root, shard, fromGen, toGen)
	if err != nil {
		return nil, err
	}
	if done {
		return &CloneResult{}, nil
	}
	return e.cloneTree(src, dst)
}

// cloneTree walks src, reflinking each regular file into dst and
// falling back to a plain byte copy (reporting a "reflink" degradation)
// for any file the platform's reflinkFile can't clone.
func (e *ReflinkEngine) cloneTree(src, dst string) (*CloneResult, error) {
	result := &CloneResult{}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("create dst directory: %w", err)
	}

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		dstPath := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(dstPath, info.Mode())

		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink: %w", err)
			}
			return os.Symlink(target, dstPath)

		default:
			if err := reflinkFile(path, dstPath, info); err != nil {
				result.Degraded = true
				result.Degradations = append(result.Degradations, "reflink")
				return e.CopyEngine.copyFile(path, dstPath, info)
			}
			return nil
		}
	})

	if err != nil {
		return nil, fmt.Errorf("reflink clone: %w", err)
	}

	if err := fsutil.FsyncDir(dst); err != nil {
		return nil, fmt.Errorf("fsync dst: %w", err)
	}

	return result, nil
}
