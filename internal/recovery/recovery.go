// Package recovery implements the startup crash-recovery pass: before the
// daemon accepts traffic, every project's in-flight tasks are handed back
// to the scheduler and every leftover worktree/branch from a killed worker
// is torn down. Grounded on the teacher's internal/api/server.go
// pruneStaleWorktrees, which runs the same "clean up after whatever was
// running when we died" pass on startup, generalized from a single
// worktree directory to per-project worktrees under the registry.
package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	orcgit "github.com/randalmurphal/orcd/internal/git"
	"github.com/randalmurphal/orcd/internal/metrics"
	"github.com/randalmurphal/orcd/internal/registry"
)

// Source is the event log source tag used for the recovery summary event.
const Source = "recovery"

// eventEmitter is the subset of eventlog.Log recovery depends on.
type eventEmitter interface {
	Emit(source, message string)
}

// Result summarizes one recovery pass, for logging and tests.
type Result struct {
	ProjectsScanned int
	TasksRecovered  int
	BranchesPruned  int
	Errors          []string
}

// Run performs the full startup recovery pass across every registered
// project: resetting in-flight tasks to pending, then pruning worktrees
// and claude/* branches from any project with a valid repo. It never
// returns an error itself; per-project failures are collected into the
// Result and logged individually so one broken project cannot block the
// rest from recovering.
func Run(ctx context.Context, reg *registry.Store, elog eventEmitter) Result {
	var res Result

	projects, err := reg.ListProjects()
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list projects: %v", err))
		emitSummary(elog, res)
		return res
	}

	for _, p := range projects {
		res.ProjectsScanned++

		recovered, err := reg.RecoverInFlightTasks(p.ID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("project %s: reset in-flight tasks: %v", p.ID, err))
		}
		res.TasksRecovered += recovered

		repoPath := reg.RepoPath(p.ID)
		if !isGitRepo(repoPath) {
			continue
		}

		pruned, err := pruneWorktreesAndBranches(ctx, repoPath, reg.WorktreesDir(p.ID))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("project %s: prune worktrees: %v", p.ID, err))
		}
		res.BranchesPruned += pruned
	}

	metrics.RecoveredTasksTotal.Add(float64(res.TasksRecovered))
	emitSummary(elog, res)
	return res
}

func isGitRepo(repoPath string) bool {
	info, err := os.Stat(filepath.Join(repoPath, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular())
}

// pruneWorktreesAndBranches force-removes every worktree under
// worktreesDir, runs worktree prune, then force-deletes every local
// branch matching claude/*, returning how many branches were deleted.
func pruneWorktreesAndBranches(ctx context.Context, repoPath, worktreesDir string) (int, error) {
	entries, err := os.ReadDir(worktreesDir)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("read worktrees dir: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(worktreesDir, e.Name())
		if _, err := orcgit.RunCommand(ctx, repoPath, "git", "worktree", "remove", "--force", path); err != nil {
			os.RemoveAll(path)
		}
	}

	if _, err := orcgit.RunCommand(ctx, repoPath, "git", "worktree", "prune"); err != nil {
		return 0, fmt.Errorf("worktree prune: %w", err)
	}

	branches, err := claudeBranches(ctx, repoPath)
	if err != nil {
		return 0, fmt.Errorf("list branches: %w", err)
	}
	pruned := 0
	for _, b := range branches {
		if _, err := orcgit.RunCommand(ctx, repoPath, "git", "branch", "-D", b); err == nil {
			pruned++
		}
	}
	return pruned, nil
}

// claudeBranches lists every local branch under the claude/ namespace that
// task worktrees are created on.
func claudeBranches(ctx context.Context, repoPath string) ([]string, error) {
	out, err := orcgit.RunCommand(ctx, repoPath, "git", "for-each-ref", "--format=%(refname:short)", "refs/heads/claude/")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

func emitSummary(elog eventEmitter, res Result) {
	if elog == nil {
		return
	}
	msg := fmt.Sprintf("recovery: %d project(s) scanned, %d task(s) recovered, %d branch(es) pruned",
		res.ProjectsScanned, res.TasksRecovered, res.BranchesPruned)
	if len(res.Errors) > 0 {
		msg += fmt.Sprintf(" (%d error(s): %s)", len(res.Errors), strings.Join(res.Errors, "; "))
	}
	elog.Emit(Source, msg)
}
