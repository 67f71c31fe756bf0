// Package scheduler drives the single long-running polling loop that
// claims tasks from the registry, dispatches them into worker slots, and
// carries each claimed task through worktree creation, container
// dispatch, merge-and-test, and cleanup. Grounded on the teacher's
// orchestrator.Orchestrator Start/Stop/mainLoop ticker shape, generalized
// from an in-memory heap queue to pulling candidates from the durable
// registry's claim_next.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/orcd/internal/eventlog"
	orcgit "github.com/randalmurphal/orcd/internal/git"
	"github.com/randalmurphal/orcd/internal/metrics"
	"github.com/randalmurphal/orcd/internal/model"
	"github.com/randalmurphal/orcd/internal/registry"
	"github.com/randalmurphal/orcd/internal/workerpool"
)

// Pacing durations from the scheduler loop pseudocode.
const (
	NoIdleSlotSleep    = 10 * time.Second
	NoClaimSleep       = 15 * time.Second
	SpawnPacingSleep   = 2 * time.Second
	ExperienceTimeout  = 10 * time.Second
	CancelPollInterval = 2 * time.Second
)

// ExperienceHook is the opaque cross-project context fetch and post-task
// outcome recorder. Both are best-effort; a nil hook is treated as a no-op.
type ExperienceHook interface {
	FetchContext(ctx context.Context, projectID string, task *model.Task) (string, error)
	RecordOutcome(ctx context.Context, projectID string, task *model.Task, outcome string)
}

// NoopExperienceHook implements ExperienceHook with no-ops, used when no
// experience log summarizer is configured.
type NoopExperienceHook struct{}

func (NoopExperienceHook) FetchContext(ctx context.Context, projectID string, task *model.Task) (string, error) {
	return "", nil
}
func (NoopExperienceHook) RecordOutcome(ctx context.Context, projectID string, task *model.Task, outcome string) {
}

// Config configures a Scheduler.
type Config struct {
	MergeTestScript string
	Experience      ExperienceHook
	Logger          *slog.Logger
}

// workerPool is the subset of *workerpool.Pool the scheduler drives,
// narrowed to an interface so tests can exercise the cancellation and
// failure paths against a fake pool instead of a real containerd runtime.
type workerPool interface {
	IdleSlot() (*model.WorkerSlot, bool)
	RunTask(ctx context.Context, slotID string, env workerpool.TaskEnv) error
	WaitContainer(ctx context.Context, slotID string) (int, error)
	MarkIdle(slotID string)
	StopWorker(ctx context.Context, slotID string) error
}

// Scheduler is the single long-running coordination loop.
type Scheduler struct {
	reg    *registry.Store
	pool   workerPool
	elog   *eventlog.Log
	locks  *orcgit.LockSet
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler over the given registry, worker pool, and
// event log.
func New(reg *registry.Store, pool workerPool, elog *eventlog.Log, cfg Config) *Scheduler {
	if cfg.Experience == nil {
		cfg.Experience = NoopExperienceHook{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		reg:    reg,
		pool:   pool,
		elog:   elog,
		locks:  orcgit.NewLockSet(),
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the polling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the loop and waits for in-flight task lifecycles to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	var eg errgroup.Group

	for {
		if s.ctx.Err() != nil {
			eg.Wait()
			return
		}

		slot, ok := s.pool.IdleSlot()
		if !ok {
			if !s.sleep(NoIdleSlotSleep) {
				eg.Wait()
				return
			}
			continue
		}

		claim, err := s.reg.ClaimNext(slot.ID)
		if err != nil {
			s.logger.Error("claim_next failed", "error", err)
			if !s.sleep(NoClaimSleep) {
				eg.Wait()
				return
			}
			continue
		}
		if claim == nil {
			if !s.sleep(NoClaimSleep) {
				eg.Wait()
				return
			}
			continue
		}

		metrics.TasksClaimedTotal.Inc()
		projectID, task, slotID := claim.ProjectID, claim.Task, slot.ID
		eg.Go(func() error {
			s.taskLifecycle(slotID, projectID, task)
			return nil
		})

		if !s.sleep(SpawnPacingSleep) {
			eg.Wait()
			return
		}
	}
}

// sleep blocks for d or until the scheduler is stopped, returning false in
// the latter case.
func (s *Scheduler) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) emit(source, format string, args ...interface{}) {
	s.elog.Emit(source, fmt.Sprintf(format, args...))
}

// containerWaitResult carries WaitContainer's return values across the
// goroutine boundary in waitForContainerOrCancel.
type containerWaitResult struct {
	exitCode int
	err      error
}

// waitForContainerOrCancel blocks on the slot's container the same way
// WaitContainer does, but polls the task's registry status every
// CancelPollInterval so a cancellation written by a separate orcctl process
// is observed while the container is still running. On the first observed
// StatusCancelled it calls StopWorker once to force the container to exit,
// then keeps waiting for WaitContainer's result so callers still get a
// real exit code/error.
func (s *Scheduler) waitForContainerOrCancel(ctx context.Context, slotID, projectID, taskID string) (int, error) {
	return s.waitForContainerOrCancelEvery(ctx, slotID, projectID, taskID, CancelPollInterval)
}

func (s *Scheduler) waitForContainerOrCancelEvery(ctx context.Context, slotID, projectID, taskID string, pollInterval time.Duration) (int, error) {
	resultCh := make(chan containerWaitResult, 1)
	go func() {
		exitCode, err := s.pool.WaitContainer(ctx, slotID)
		resultCh <- containerWaitResult{exitCode: exitCode, err: err}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	stopped := false
	for {
		select {
		case res := <-resultCh:
			return res.exitCode, res.err
		case <-ticker.C:
			if stopped {
				continue
			}
			current, err := s.reg.GetTask(projectID, taskID)
			if err != nil {
				continue
			}
			if current.Status == model.StatusCancelled {
				stopped = true
				if err := s.pool.StopWorker(ctx, slotID); err != nil {
					s.logger.Error("stop_worker failed for cancelled task", "task", taskID, "error", err)
				}
			}
		}
	}
}

// taskLifecycle carries one claimed task through worktree creation,
// container dispatch, wait, verification, and the merge/test/cleanup
// pipeline. One goroutine per active task.
func (s *Scheduler) taskLifecycle(slotID, projectID string, task *model.Task) {
	ctx := s.ctx

	var repoPath, worktreePath, branch string
	var worktreeReady bool

	fail := func(reason string) {
		if worktreeReady {
			orcgit.CleanupWorktree(ctx, repoPath, worktreePath, branch, true)
		}
		errMsg := reason
		status := model.StatusFailed
		if err := s.reg.ApplyTaskUpdate(projectID, task.ID, model.TaskUpdate{Status: &status, Error: &errMsg}); err != nil {
			s.logger.Error("failed to mark task failed", "task", task.ID, "error", err)
		}
		s.emit("scheduler", "Task failed: %s (%s)", task.Title, reason)
		s.pool.MarkIdle(slotID)
	}

	project, err := s.reg.GetProject(projectID)
	if err != nil {
		fail(fmt.Sprintf("project %s not found", projectID))
		return
	}

	repoPath = s.reg.RepoPath(projectID)
	worktreePath = s.reg.WorktreePath(projectID, slotID)
	branch = orcgit.BranchName(task.ID)

	if err := orcgit.CreateWorktree(ctx, repoPath, worktreePath, branch, project.BaseBranch); err != nil {
		fail(fmt.Sprintf("create worktree: %s", err))
		return
	}
	worktreeReady = true

	expCtx, expCancel := context.WithTimeout(ctx, ExperienceTimeout)
	crossProjectContext, err := s.cfg.Experience.FetchContext(expCtx, projectID, task)
	expCancel()
	if err != nil {
		crossProjectContext = ""
	}

	logDir := s.reg.LogDir(projectID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fail(fmt.Sprintf("create log dir: %s", err))
		return
	}

	env := workerpool.TaskEnv{
		ProjectID:    projectID,
		ProjectName:  project.Name,
		TaskID:       task.ID,
		TaskTitle:    task.Title,
		TaskDesc:     task.Description,
		TaskPlan:     task.Plan,
		WorktreePath: worktreePath,
		RepoPath:     repoPath,
		LogDir:       logDir,
		BranchName:   branch,
		ExtraEnv:     map[string]string{"CROSS_PROJECT_CONTEXT": crossProjectContext},
	}

	running := model.StatusRunning
	s.reg.ApplyTaskUpdate(projectID, task.ID, model.TaskUpdate{Status: &running})

	if err := s.pool.RunTask(ctx, slotID, env); err != nil {
		fail(fmt.Sprintf("launch container: %s", err))
		return
	}

	exitCode, waitErr := s.waitForContainerOrCancel(ctx, slotID, projectID, task.ID)

	current, err := s.reg.GetTask(projectID, task.ID)
	if err != nil {
		fail(fmt.Sprintf("reload task: %s", err))
		return
	}

	if current.Status == model.StatusFailed {
		orcgit.CleanupWorktree(ctx, repoPath, worktreePath, branch, true)
		s.pool.MarkIdle(slotID)
		return
	}
	if current.Status == model.StatusCancelled {
		orcgit.CleanupWorktree(ctx, repoPath, worktreePath, branch, true)
		s.pool.MarkIdle(slotID)
		return
	}
	if current.Status != model.StatusMerging {
		if waitErr != nil {
			fail(fmt.Sprintf("container wait error: %s", waitErr))
			return
		}
		if exitCode != 0 {
			fail(fmt.Sprintf("container exit %d", exitCode))
			return
		}
	}

	if err := orcgit.VerifyCommit(ctx, worktreePath, project.BaseBranch); err != nil {
		fail(err.Error())
		return
	}

	s.runMergePipeline(projectID, project, task, worktreePath, branch, slotID)
}

// runMergePipeline executes merge_and_test and, depending on the project's
// auto_merge policy, either completes the task or hands it off as
// merge_pending, all under the project's git lock.
func (s *Scheduler) runMergePipeline(projectID string, project *model.Project, task *model.Task, worktreePath, branch, slotID string) {
	ctx := s.ctx
	lock := s.locks.Lock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repoPath := s.reg.RepoPath(projectID)

	res := orcgit.MergeAndTest(ctx, s.cfg.MergeTestScript, repoPath, worktreePath, branch, project.BaseBranch, nil)
	if !res.OK {
		metrics.MergeTestFailuresTotal.Inc()
		errMsg := res.Reason
		status := model.StatusFailed
		s.reg.ApplyTaskUpdate(projectID, task.ID, model.TaskUpdate{Status: &status, Error: &errMsg})
		s.emit("scheduler", "merge_and_test failed for %s: %s", task.Title, res.Reason)
		s.elog.Emit("scheduler", tailOutput(res.Output, 50, 6000))
		orcgit.CleanupWorktree(ctx, repoPath, worktreePath, branch, true)
		s.pool.MarkIdle(slotID)
		return
	}

	if project.AutoMerge {
		commit, err := orcgit.AutoMerge(ctx, repoPath, branch, project.BaseBranch, project.AutoPush)
		if err == nil {
			completed := model.StatusCompleted
			s.reg.ApplyTaskUpdate(projectID, task.ID, model.TaskUpdate{Status: &completed, CommitID: &commit})
			s.cfg.Experience.RecordOutcome(ctx, projectID, task, "completed")
			orcgit.CleanupWorktree(ctx, repoPath, worktreePath, branch, true)
			if project.AutoPush {
				run(ctx, repoPath, "git", "push", "origin", "--delete", branch)
			}
			s.emit("scheduler", "Task completed: %s", task.Title)
			s.pool.MarkIdle(slotID)
			return
		}

		head, _ := run(ctx, worktreePath, "git", "rev-parse", "HEAD")
		pending := model.StatusMergePending
		s.reg.ApplyTaskUpdate(projectID, task.ID, model.TaskUpdate{Status: &pending, CommitID: &head})
		s.cfg.Experience.RecordOutcome(ctx, projectID, task, "merge_pending")
		orcgit.CleanupWorktree(ctx, repoPath, worktreePath, branch, false)
		s.emit("scheduler", "Task awaiting manual merge: %s (%s)", task.Title, err)
		s.pool.MarkIdle(slotID)
		return
	}

	head, _ := run(ctx, worktreePath, "git", "rev-parse", "HEAD")
	pending := model.StatusMergePending
	s.reg.ApplyTaskUpdate(projectID, task.ID, model.TaskUpdate{Status: &pending, CommitID: &head})
	s.cfg.Experience.RecordOutcome(ctx, projectID, task, "merge_pending")
	orcgit.CleanupWorktree(ctx, repoPath, worktreePath, branch, false)
	s.emit("scheduler", "Task awaiting manual merge: %s", task.Title)
	s.pool.MarkIdle(slotID)
}

func run(ctx context.Context, dir, name string, args ...string) (string, error) {
	return orcgit.RunCommand(ctx, dir, name, args...)
}

// tailOutput returns up to maxLines of the last lines of output, further
// capped at maxChars.
func tailOutput(output string, maxLines, maxChars int) string {
	lines := splitLines(output)
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	out := joinLines(lines)
	if len(out) > maxChars {
		out = out[len(out)-maxChars:]
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
