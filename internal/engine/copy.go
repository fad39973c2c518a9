package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jvs-project/snapmgr/pkg/fsutil"
	"github.com/jvs-project/snapmgr/pkg/model"
)

// CopyEngine performs a full recursive copy of one shard generation
// directory into another.
type CopyEngine struct{}

// NewCopyEngine creates a new CopyEngine.
func NewCopyEngine() *CopyEngine {
	return &CopyEngine{}
}

// Name returns the engine type.
func (e *CopyEngine) Name() model.EngineType {
	return model.EngineCopy
}

// CloneGeneration implements Engine.
func (e *CopyEngine) CloneGeneration(root string, shard model.RepositoryShardID, fromGen, toGen string) (*CloneResult, error) {
	src, dst, done, err := cloneGenerationDirs(root, shard, fromGen, toGen)
	if err != nil {
		return nil, err
	}
	if done {
		return &CloneResult{}, nil
	}
	return e.copyTree(src, dst)
}

// copyTree recursively copies src to dst, reporting a "hardlink"
// degradation for any file this walk has already seen under a
// different name: a plain copy cannot preserve the hardlink, so the
// clone ends up using more disk than the source generation did.
func (e *CopyEngine) copyTree(src, dst string) (*CloneResult, error) {
	result := &CloneResult{}
	seenInodes := make(map[uint64]string)

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		dstPath := filepath.Join(dst, rel)

		if !info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			if ino, ok := fileInode(info); ok {
				if seenInodes[ino] != "" {
					result.Degraded = true
					result.Degradations = append(result.Degradations, "hardlink")
				} else {
					seenInodes[ino] = path
				}
			}
		}

		switch {
		case info.IsDir():
			return e.copyDir(dstPath, info)

		case info.Mode()&os.ModeSymlink != 0:
			return e.copySymlink(path, dstPath)

		default:
			return e.copyFile(path, dstPath, info)
		}
	})

	if err != nil {
		return nil, fmt.Errorf("copy: %w", err)
	}

	if err := fsutil.FsyncDir(dst); err != nil {
		return nil, fmt.Errorf("fsync dst: %w", err)
	}

	return result, nil
}

func (e *CopyEngine) copyDir(dst string, info os.FileInfo) error {
	if err := os.MkdirAll(dst, info.Mode()); err != nil {
		return fmt.Errorf("mkdir %s: %w", dst, err)
	}
	return nil
}

func (e *CopyEngine) copyFile(src, dst string, info os.FileInfo) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open src %s: %w", src, err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return fmt.Errorf("create dst %s: %w", dst, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	// Sync file content
	if err := dstFile.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}

	// Preserve mod time
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func (e *CopyEngine) copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("readlink %s: %w", src, err)
	}
	return os.Symlink(target, dst)
}
