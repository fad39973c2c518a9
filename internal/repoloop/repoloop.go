// Package repoloop implements the per-repository serialization primitive
// (component C6): at most one goroutine runs finalize/delete work for a
// given repository at a time (section 4.3's `currentlyFinalizing` set).
// The loop itself knows nothing about snapshots — it only owns the
// membership set and the "keep stepping until there's nothing left"
// shape; internal/lifecycle supplies the step function that inspects
// OngoingOps and cluster state to decide what to run next.
package repoloop

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Step is called repeatedly for a repository until it reports false.
// Implementations follow section 4.3's selection order: pop the next
// pending finalization and run it; if none, run a STARTED deletion if
// one exists; if neither, return false so the loop leaves the repo.
type Step func(ctx context.Context, repo string) (more bool)

// Loop tracks which repositories currently have an active worker.
type Loop struct {
	mu     sync.Mutex
	active map[string]bool
}

// New creates an empty Loop.
func New() *Loop {
	return &Loop{active: map[string]bool{}}
}

// TryEnter marks repo active and reports true, or reports false if a
// worker for repo is already running.
func (l *Loop) TryEnter(repo string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[repo] {
		return false
	}
	l.active[repo] = true
	return true
}

// Leave marks repo inactive.
func (l *Loop) Leave(repo string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, repo)
}

// IsActive reports whether a worker for repo is currently running.
func (l *Loop) IsActive(repo string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[repo]
}

// Kick ensures a worker is running for repo, starting one via step if
// none is active. If a worker is already active, Kick is a no-op: that
// worker's own loop will observe the new work the next time it calls
// step, since step re-reads OngoingOps/cluster state rather than
// consuming a value handed to it here. Kick returns immediately; the
// worker (if started) runs on its own goroutine.
func (l *Loop) Kick(ctx context.Context, repo string, step Step) {
	if !l.TryEnter(repo) {
		return
	}
	go func() {
		defer l.Leave(repo)
		for step(ctx, repo) {
		}
	}()
}

// RunPeriodic kicks every repository returned by repos every interval,
// guarding against a stuck ClusterStateBus applier missing a Kick (the
// cluster-manager-loss / reactive-applier races noted in DESIGN.md). Each
// tick fans out across repositories with an errgroup, but TryEnter/Kick's
// per-repository active set still means at most one worker per repository
// runs at a time; this only widens how many repositories are checked
// concurrently, not how much work runs per repository. Blocks until ctx
// is cancelled.
func (l *Loop) RunPeriodic(ctx context.Context, interval time.Duration, repos func() []string, step Step) {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		g, ctx := errgroup.WithContext(ctx)
		for _, repo := range repos() {
			repo := repo
			g.Go(func() error {
				l.Kick(ctx, repo, step)
				return nil
			})
		}
		_ = g.Wait()
	}, interval)
}
