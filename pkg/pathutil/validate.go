// Package pathutil validates snapshot and repository names and guards
// the local-disk RepositoryDriver against path escapes when it resolves
// a snapshot name to an on-disk location.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jvs-project/snapmgr/pkg/errclass"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ErrPathEscape indicates a resolved path fell outside its repository
// root, most likely via a symlink. Not part of the stable wire-error
// taxonomy (errclass) since it never crosses the RepositoryDriver
// boundary as a client-visible failure.
var ErrPathEscape = errors.New("path escapes repository root")

// ValidateSnapshotName checks a snapshot or repository name against the
// spec's InvalidSnapshotName rules: non-empty, no path separators or
// "..", no control characters, restricted charset.
func ValidateSnapshotName(name string) error {
	if name == "" {
		return errclass.ErrInvalidSnapshotName.WithMessage("name must not be empty")
	}

	name = norm.NFC.String(name)

	if name == ".." || strings.Contains(name, "..") {
		return errclass.ErrInvalidSnapshotName.WithMessagef("name must not contain '..': %s", name)
	}

	if strings.ContainsAny(name, "/\\") {
		return errclass.ErrInvalidSnapshotName.WithMessagef("name must not contain separators: %s", name)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrInvalidSnapshotName.WithMessagef("name must not contain control characters: %q", name)
		}
	}

	if !nameRegex.MatchString(name) {
		return errclass.ErrInvalidSnapshotName.WithMessagef("name must match [a-zA-Z0-9._-]+: %s", name)
	}

	return nil
}

// ValidatePathSafety verifies target path does not escape repoRoot,
// resolving symlinks on both sides first.
func ValidatePathSafety(repoRoot, targetPath string) error {
	resolvedRoot, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		return fmt.Errorf("cannot resolve repo root: %w", err)
	}

	resolvedTarget, err := filepath.EvalSymlinks(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedTarget = resolveClosestAncestor(targetPath)
		} else {
			return fmt.Errorf("cannot resolve target: %w", err)
		}
	}

	if !strings.HasPrefix(resolvedTarget+"/", resolvedRoot+"/") &&
		resolvedTarget != resolvedRoot {
		return fmt.Errorf("%w: %s", ErrPathEscape, targetPath)
	}

	return nil
}

// resolveClosestAncestor walks up from path to find the closest existing
// ancestor, resolves it, then appends the remaining components.
func resolveClosestAncestor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = resolveClosestAncestor(dir)
		} else {
			return filepath.Clean(path)
		}
	}
	return filepath.Join(resolved, base)
}
