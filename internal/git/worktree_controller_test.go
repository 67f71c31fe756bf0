package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runTestGit(t, dir, "init", "-b", "main")
	runTestGit(t, dir, "config", "user.email", "test@example.com")
	runTestGit(t, dir, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	runTestGit(t, dir, "add", ".")
	runTestGit(t, dir, "commit", "-m", "initial commit")
	return dir
}

func runTestGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
	return string(out)
}

func TestCreateWorktreeAndVerifyCommit(t *testing.T) {
	repo := initTestRepo(t)
	worktree := filepath.Join(t.TempDir(), "worker-1")

	err := CreateWorktree(context.Background(), repo, worktree, "claude/task1", "main")
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(worktree, "CLAUDE.md"))

	// No commits beyond base yet.
	err = VerifyCommit(context.Background(), worktree, "main")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(worktree, "new.txt"), []byte("x"), 0o644))
	runTestGit(t, worktree, "add", "new.txt")
	runTestGit(t, worktree, "commit", "-m", "add new file")

	require.NoError(t, VerifyCommit(context.Background(), worktree, "main"))
}

func TestCreateWorktreeRemovesStaleWorktree(t *testing.T) {
	repo := initTestRepo(t)
	worktree := filepath.Join(t.TempDir(), "worker-1")

	require.NoError(t, CreateWorktree(context.Background(), repo, worktree, "claude/task1", "main"))
	require.NoError(t, CreateWorktree(context.Background(), repo, worktree, "claude/task1", "main"), "recreating the same worktree+branch must succeed")
}

func TestCleanupWorktreeKeepsBranchWhenRequested(t *testing.T) {
	repo := initTestRepo(t)
	worktree := filepath.Join(t.TempDir(), "worker-1")
	require.NoError(t, CreateWorktree(context.Background(), repo, worktree, "claude/task1", "main"))

	require.NoError(t, CleanupWorktree(context.Background(), repo, worktree, "claude/task1", false))

	_, err := os.Stat(worktree)
	require.True(t, os.IsNotExist(err))

	out := runTestGit(t, repo, "branch", "--list", "claude/task1")
	require.Contains(t, out, "claude/task1", "branch must survive cleanup when deleteBranch is false")
}

func TestCleanupWorktreeDeletesBranchWhenRequested(t *testing.T) {
	repo := initTestRepo(t)
	worktree := filepath.Join(t.TempDir(), "worker-1")
	require.NoError(t, CreateWorktree(context.Background(), repo, worktree, "claude/task1", "main"))

	require.NoError(t, CleanupWorktree(context.Background(), repo, worktree, "claude/task1", true))

	out := runTestGit(t, repo, "branch", "--list", "claude/task1")
	require.Empty(t, out)
}

func TestAutoMergeMergesCommitIntoBase(t *testing.T) {
	repo := initTestRepo(t)
	worktree := filepath.Join(t.TempDir(), "worker-1")
	require.NoError(t, CreateWorktree(context.Background(), repo, worktree, "claude/task1", "main"))

	require.NoError(t, os.WriteFile(filepath.Join(worktree, "feature.txt"), []byte("feature"), 0o644))
	runTestGit(t, worktree, "add", "feature.txt")
	runTestGit(t, worktree, "commit", "-m", "add feature")

	head, err := AutoMerge(context.Background(), repo, "claude/task1", "main", false)
	require.NoError(t, err)
	require.NotEmpty(t, head)
	require.FileExists(t, filepath.Join(repo, "feature.txt"))
}

func TestAutoMergeFailsWhenBranchMissing(t *testing.T) {
	repo := initTestRepo(t)
	_, err := AutoMerge(context.Background(), repo, "claude/does-not-exist", "main", false)
	require.Error(t, err)
}

func TestMergeAndTestParsesErrorMarker(t *testing.T) {
	repo := initTestRepo(t)
	script := filepath.Join(repo, "merge_test.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'MERGE_TEST_ERROR: lint failed'\nexit 1\n"), 0o755))

	res := MergeAndTest(context.Background(), script, repo, repo, "claude/task1", "main", nil)
	require.False(t, res.OK)
	require.Equal(t, "lint failed", res.Reason)
}

func TestMergeAndTestSucceeds(t *testing.T) {
	repo := initTestRepo(t)
	script := filepath.Join(repo, "merge_test.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho ok\nexit 0\n"), 0o755))

	res := MergeAndTest(context.Background(), script, repo, repo, "claude/task1", "main", nil)
	require.True(t, res.OK)
}

func TestAutoMergeResolvesAdditiveProgressMDConflict(t *testing.T) {
	repo := initTestRepo(t)
	progressContent := "# Progress\n\n" + ExperienceSectionStart + "\n\n" +
		"## Patterns Learned\n\n" +
		"| Pattern | Description | Source |\n" +
		"|---|---|---|\n" +
		"| retry-on-timeout | wrap flaky calls | TASK-1 |\n\n" +
		ExperienceSectionEnd + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(repo, "PROGRESS.md"), []byte(progressContent), 0o644))
	runTestGit(t, repo, "add", "PROGRESS.md")
	runTestGit(t, repo, "commit", "-m", "add progress log")

	worktree := filepath.Join(t.TempDir(), "worker-1")
	require.NoError(t, CreateWorktree(context.Background(), repo, worktree, "claude/task1", "main"))

	ourContent := "# Progress\n\n" + ExperienceSectionStart + "\n\n" +
		"## Patterns Learned\n\n" +
		"| Pattern | Description | Source |\n" +
		"|---|---|---|\n" +
		"| retry-on-timeout | wrap flaky calls | TASK-1 |\n" +
		"| batch-writes | coalesce writes per tick | TASK-3 |\n\n" +
		ExperienceSectionEnd + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(worktree, "PROGRESS.md"), []byte(ourContent), 0o644))
	runTestGit(t, worktree, "add", "PROGRESS.md")
	runTestGit(t, worktree, "commit", "-m", "record pattern from task 3")

	theirContent := "# Progress\n\n" + ExperienceSectionStart + "\n\n" +
		"## Patterns Learned\n\n" +
		"| Pattern | Description | Source |\n" +
		"|---|---|---|\n" +
		"| retry-on-timeout | wrap flaky calls | TASK-1 |\n" +
		"| cache-warm | prefetch on boot | TASK-2 |\n\n" +
		ExperienceSectionEnd + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(repo, "PROGRESS.md"), []byte(theirContent), 0o644))
	runTestGit(t, repo, "add", "PROGRESS.md")
	runTestGit(t, repo, "commit", "-m", "record pattern from task 2")

	head, err := AutoMerge(context.Background(), repo, "claude/task1", "main", false)
	require.NoError(t, err)
	require.NotEmpty(t, head)

	merged, err := os.ReadFile(filepath.Join(repo, "PROGRESS.md"))
	require.NoError(t, err)
	require.Contains(t, string(merged), "batch-writes")
	require.Contains(t, string(merged), "cache-warm")
	require.Contains(t, string(merged), "retry-on-timeout")
	require.NotContains(t, string(merged), "<<<<<<<")
}

func TestLockSetReturnsSameMutexPerProject(t *testing.T) {
	ls := NewLockSet()
	a := ls.Lock("proj-1")
	b := ls.Lock("proj-1")
	require.Same(t, a, b)

	c := ls.Lock("proj-2")
	require.NotSame(t, a, c)
}
