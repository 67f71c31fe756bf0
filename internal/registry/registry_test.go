package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orcd/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func TestCreateAndGetProject(t *testing.T) {
	s := newTestStore(t)

	p, err := s.CreateProject("demo", model.SourceRemoteGit, "git@example.com:demo.git", "main", true, false)
	require.NoError(t, err)
	require.Len(t, p.ID, 8)
	require.Equal(t, model.ProjectCloning, p.Status)

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Name, got.Name)

	require.NoError(t, s.UpdateProjectStatus(p.ID, model.ProjectReady, ""))
	got, err = s.GetProject(p.ID)
	require.NoError(t, err)
	require.True(t, got.IsReady())
}

func TestGetProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject("missing")
	require.Error(t, err)
}

func TestCreateTaskDerivesTitle(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)

	task, err := s.CreateTask(p.ID, "add hello\nmore detail on the next line", 5, "", false)
	require.NoError(t, err)
	require.Equal(t, "add hello", task.Title)
	require.Equal(t, model.StatusPending, task.Status)
	require.Len(t, task.ID, 8)
}

func TestCreateTaskPlanModeStartsPlanPending(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)

	task, err := s.CreateTask(p.ID, "plan this", 0, "", true)
	require.NoError(t, err)
	require.Equal(t, model.StatusPlanPending, task.Status)
}

func TestApplyTaskUpdateRefusesTerminalTransition(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	task, err := s.CreateTask(p.ID, "x", 0, "", false)
	require.NoError(t, err)

	completed := model.StatusCompleted
	require.NoError(t, s.ApplyTaskUpdate(p.ID, task.ID, model.TaskUpdate{Status: &completed}))

	running := model.StatusRunning
	err = s.ApplyTaskUpdate(p.ID, task.ID, model.TaskUpdate{Status: &running})
	require.Error(t, err)

	got, err := s.GetTask(p.ID, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestClaimNextPrefersPlanApprovedThenPriorityThenAge(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	require.NoError(t, s.UpdateProjectStatus(p.ID, model.ProjectReady, ""))

	low, err := s.CreateTask(p.ID, "low priority pending", 1, "", false)
	require.NoError(t, err)
	lowLater, err := s.CreateTask(p.ID, "low priority pending, created later", 1, "", false)
	require.NoError(t, err)
	high, err := s.CreateTask(p.ID, "high priority pending", 9, "", false)
	require.NoError(t, err)
	planApproved, err := s.CreateTask(p.ID, "plan mode task", 0, "", true)
	require.NoError(t, err)
	require.NoError(t, s.ApprovePlan(p.ID, planApproved.ID))

	claim, err := s.ClaimNext("worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, planApproved.ID, claim.Task.ID, "plan_approved must be claimed before pending regardless of priority")
	require.Equal(t, model.StatusClaimed, claim.Task.Status)
	require.Equal(t, "worker-1", claim.Task.WorkerID)
	require.NotNil(t, claim.Task.StartedAt)

	claim, err = s.ClaimNext("worker-2")
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, high.ID, claim.Task.ID, "higher priority pending task must be claimed before lower priority")

	claim, err = s.ClaimNext("worker-3")
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, low.ID, claim.Task.ID, "equal priority: the earlier-created task must be claimed first")

	claim, err = s.ClaimNext("worker-4")
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, lowLater.ID, claim.Task.ID)

	claim, err = s.ClaimNext("worker-5")
	require.NoError(t, err)
	require.Nil(t, claim, "no ready tasks remain")
}

func TestClaimNextSkipsUnsatisfiedDependency(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	require.NoError(t, s.UpdateProjectStatus(p.ID, model.ProjectReady, ""))

	blocker, err := s.CreateTask(p.ID, "blocker", 0, "", false)
	require.NoError(t, err)
	dependent, err := s.CreateTask(p.ID, "dependent", 0, blocker.ID, false)
	require.NoError(t, err)

	claim, err := s.ClaimNext("worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, blocker.ID, claim.Task.ID, "dependent task must not be claimable until its blocker completes")

	completed := model.StatusCompleted
	require.NoError(t, s.ApplyTaskUpdate(p.ID, blocker.ID, model.TaskUpdate{Status: &completed}))

	claim, err = s.ClaimNext("worker-2")
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, dependent.ID, claim.Task.ID)
}

func TestClaimNextIgnoresNonReadyProjects(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	// Project remains in "cloning" status, never transitioned to ready.
	_, err = s.CreateTask(p.ID, "x", 0, "", false)
	require.NoError(t, err)

	claim, err := s.ClaimNext("worker-1")
	require.NoError(t, err)
	require.Nil(t, claim)
}

func TestCancelAndRetry(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	task, err := s.CreateTask(p.ID, "x", 0, "", false)
	require.NoError(t, err)

	prev, inFlight, workerID, err := s.Cancel(p.ID, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, prev)
	require.False(t, inFlight)
	require.Empty(t, workerID)

	got, err := s.GetTask(p.ID, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)

	require.NoError(t, s.Retry(p.ID, task.ID))
	got, err = s.GetTask(p.ID, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
}

func TestCancelReturnsWorkerIDForInFlightTask(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	require.NoError(t, s.UpdateProjectStatus(p.ID, model.ProjectReady, ""))
	_, err = s.CreateTask(p.ID, "x", 0, "", false)
	require.NoError(t, err)

	claim, err := s.ClaimNext("worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)

	prev, inFlight, workerID, err := s.Cancel(p.ID, claim.Task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusClaimed, prev)
	require.True(t, inFlight)
	require.Equal(t, "worker-1", workerID)
}
