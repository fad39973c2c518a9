package engine

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jvs-project/snapmgr/pkg/model"
)

// JuiceFSEngine performs clone using `juicefs clone` command.
// When juicefs is unavailable or the source is not on JuiceFS,
// it falls back to the copy engine.
type JuiceFSEngine struct {
	CopyEngine *CopyEngine // Fallback
}

// NewJuiceFSEngine creates a new JuiceFSEngine.
func NewJuiceFSEngine() *JuiceFSEngine {
	return &JuiceFSEngine{
		CopyEngine: NewCopyEngine(),
	}
}

// Name returns the engine type.
func (e *JuiceFSEngine) Name() model.EngineType {
	return model.EngineJuiceFSClone
}

// CloneGeneration implements Engine. It runs `juicefs clone` directly
// against the shard's generation directories when available, falling
// back to CopyEngine when juicefs isn't installed, the source isn't on
// a JuiceFS mount, or the clone command itself fails.
func (e *JuiceFSEngine) CloneGeneration(root string, shard model.RepositoryShardID, fromGen, toGen string) (*CloneResult, error) {
	src, dst, done, err := cloneGenerationDirs(root, shard, fromGen, toGen)
	if err != nil {
		return nil, err
	}
	if done {
		return &CloneResult{}, nil
	}

	if !e.isJuiceFSAvailable() {
		return e.fallback(root, shard, fromGen, toGen, "juicefs-not-available")
	}
	if !e.isOnJuiceFS(src) {
		return e.fallback(root, shard, fromGen, toGen, "not-on-juicefs")
	}

	cmd := exec.Command("juicefs", "clone", src, dst, "-p")
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return e.fallback(root, shard, fromGen, toGen, "juicefs-clone-failed")
	}

	return &CloneResult{Degraded: false}, nil
}

func (e *JuiceFSEngine) fallback(root string, shard model.RepositoryShardID, fromGen, toGen, reason string) (*CloneResult, error) {
	result, err := e.CopyEngine.CloneGeneration(root, shard, fromGen, toGen)
	if err != nil {
		return nil, err
	}
	result.Degraded = true
	result.Degradations = append(result.Degradations, reason)
	return result, nil
}

func (e *JuiceFSEngine) isJuiceFSAvailable() bool {
	_, err := exec.LookPath("juicefs")
	return err == nil
}

func (e *JuiceFSEngine) isOnJuiceFS(path string) bool {
	// Resolve to absolute path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	// Read /proc/mounts to find JuiceFS mount points
	file, err := os.Open("/proc/mounts")
	if err != nil {
		// Fallback for non-Linux systems: check if juicefs command exists.
		// This is a conservative fallback - it won't correctly detect
		// JuiceFS on macOS or other systems without /proc/mounts.
		return e.isJuiceFSAvailable()
	}
	defer file.Close()

	// Find the longest matching JuiceFS mount point
	var bestMount string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		// fields[0] = device, fields[1] = mount point, fields[2] = fs type
		fsType := fields[2]
		mountPoint := fields[1]

		// Check if it's a JuiceFS mount (fs type contains "juicefs")
		if strings.Contains(strings.ToLower(fsType), "juicefs") {
			// Check if our path is under this mount point
			if strings.HasPrefix(absPath, mountPoint) && len(mountPoint) > len(bestMount) {
				bestMount = mountPoint
			}
		}
	}

	return bestMount != ""
}

// DetectEngine auto-detects the best available engine for the given
// repository root. Detection order: juicefs-clone (if on JuiceFS),
// reflink-copy (if supported), copy.
func DetectEngine(repoRoot string) (Engine, error) {
	// Check environment variable first
	if engineType := os.Getenv("SNAPMGR_ENGINE"); engineType != "" {
		switch engineType {
		case "juicefs":
			return NewJuiceFSEngine(), nil
		case "reflink":
			return NewReflinkEngine(), nil
		case "copy":
			return NewCopyEngine(), nil
		}
	}

	// Auto-detect based on filesystem
	// 1. Check if on JuiceFS
	juicefsEngine := NewJuiceFSEngine()
	if juicefsEngine.isOnJuiceFS(repoRoot) && juicefsEngine.isJuiceFSAvailable() {
		return juicefsEngine, nil
	}

	// 2. Check if reflink is supported (btrfs, xfs, apfs)
	// Test on the target filesystem, not system temp dir
	reflinkEngine := NewReflinkEngine()
	testDir, err := os.MkdirTemp(repoRoot, ".snapmgr-reflink-test-")
	if err == nil {
		testFile := testDir + "/test"
		os.WriteFile(testFile, []byte("test"), 0600)
		testClone := testDir + "/clone"
		info, _ := os.Stat(testFile)
		if reflinkFile(testFile, testClone, info) == nil {
			os.RemoveAll(testDir)
			return reflinkEngine, nil
		}
		os.RemoveAll(testDir)
	}

	// 3. Fall back to copy
	return NewCopyEngine(), nil
}
