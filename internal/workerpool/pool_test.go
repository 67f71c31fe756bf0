package workerpool

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orcd/internal/model"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := New(context.Background(), 3, nil, "orcd/agent:latest", "http://127.0.0.1:9000", nil)
	require.NoError(t, err)
	return p
}

func TestNewCreatesIdleSlotsInOrder(t *testing.T) {
	p := newTestPool(t)
	slots := p.Slots()
	require.Len(t, slots, 3)
	require.Equal(t, []string{"worker-1", "worker-2", "worker-3"}, []string{slots[0].ID, slots[1].ID, slots[2].ID})
	for _, s := range slots {
		require.Equal(t, model.SlotIdle, s.Status)
	}
}

func TestIdleSlotReturnsFirstIdleInOrder(t *testing.T) {
	p := newTestPool(t)
	p.slots["worker-1"].Status = model.SlotBusy

	s, ok := p.IdleSlot()
	require.True(t, ok)
	require.Equal(t, "worker-2", s.ID)
}

func TestIdleSlotFalseWhenAllBusy(t *testing.T) {
	p := newTestPool(t)
	for _, s := range p.slots {
		s.Status = model.SlotBusy
	}
	_, ok := p.IdleSlot()
	require.False(t, ok)
}

func TestMarkIdleClearsAssignmentAndIncrementsCount(t *testing.T) {
	p := newTestPool(t)
	slot := p.slots["worker-1"]
	slot.Status = model.SlotBusy
	slot.ContainerID = "orcd-worker-worker-1"
	slot.TaskID = "task1"
	slot.ProjectID = "proj1"

	p.MarkIdle("worker-1")

	got, ok := p.Slot("worker-1")
	require.True(t, ok)
	require.Equal(t, model.SlotIdle, got.Status)
	require.Empty(t, got.ContainerID)
	require.Empty(t, got.TaskID)
	require.Empty(t, got.ProjectID)
	require.Equal(t, 1, got.CompletedCount)
}

func TestStopWorkerMarksIdleWhenNoContainer(t *testing.T) {
	p := newTestPool(t)
	p.slots["worker-1"].Status = model.SlotBusy
	p.slots["worker-1"].TaskID = "task1"

	require.NoError(t, p.StopWorker(context.Background(), "worker-1"))

	got, _ := p.Slot("worker-1")
	require.Equal(t, model.SlotIdle, got.Status)
}

func TestUpdateFromTasksReconcilesBusyAndIdle(t *testing.T) {
	p := newTestPool(t)
	p.slots["worker-1"].Status = model.SlotBusy
	p.slots["worker-1"].TaskID = "stale-task"

	running := model.StatusRunning
	tasks := []*model.Task{
		{ID: "task-2", ProjectID: "proj-1", Status: running, WorkerID: "worker-2"},
	}

	p.UpdateFromTasks(tasks)

	w1, _ := p.Slot("worker-1")
	require.Equal(t, model.SlotIdle, w1.Status, "worker-1 has no matching in-flight task and must be freed")
	require.Empty(t, w1.TaskID)

	w2, _ := p.Slot("worker-2")
	require.Equal(t, model.SlotBusy, w2.Status)
	require.Equal(t, "task-2", w2.TaskID)
	require.Equal(t, "proj-1", w2.ProjectID)
}

func TestRunTaskFailsWithoutGitMetadata(t *testing.T) {
	p := newTestPool(t)
	err := p.RunTask(context.Background(), "worker-1", TaskEnv{
		WorktreePath: t.TempDir(),
		TaskID:       "task1",
	})
	require.Error(t, err)
}

func TestBuildEnvForwardsNamedHostVariables(t *testing.T) {
	t.Setenv("ORCD_TEST_FORWARD_VAR", "secret-value")
	t.Setenv("ORCD_TEST_UNSET_VAR", "")
	os.Unsetenv("ORCD_TEST_UNSET_VAR")

	env := buildEnv("worker-1", "http://127.0.0.1:9000", TaskEnv{TaskID: "task1"},
		[]string{"ORCD_TEST_FORWARD_VAR", "ORCD_TEST_UNSET_VAR"})

	require.Contains(t, env, "ORCD_TEST_FORWARD_VAR=secret-value")
	for _, kv := range env {
		require.NotContains(t, kv, "ORCD_TEST_UNSET_VAR=")
	}
}
