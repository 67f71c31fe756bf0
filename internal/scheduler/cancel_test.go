package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orcd/internal/eventlog"
	"github.com/randalmurphal/orcd/internal/model"
	"github.com/randalmurphal/orcd/internal/registry"
	"github.com/randalmurphal/orcd/internal/workerpool"
)

// fakePool is a minimal workerPool whose WaitContainer blocks until
// StopWorker is called, standing in for a real container that only exits
// once signaled to stop.
type fakePool struct {
	mu         sync.Mutex
	stopCh     chan struct{}
	stopClosed bool
	stopCalls  int
	waitExit   int
	waitErr    error
}

func newFakePool() *fakePool {
	return &fakePool{stopCh: make(chan struct{})}
}

func (f *fakePool) IdleSlot() (*model.WorkerSlot, bool) {
	return &model.WorkerSlot{ID: "worker-1"}, true
}

func (f *fakePool) RunTask(ctx context.Context, slotID string, env workerpool.TaskEnv) error {
	return nil
}

func (f *fakePool) WaitContainer(ctx context.Context, slotID string) (int, error) {
	<-f.stopCh
	return f.waitExit, f.waitErr
}

func (f *fakePool) MarkIdle(slotID string) {}

func (f *fakePool) StopWorker(ctx context.Context, slotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if !f.stopClosed {
		f.stopClosed = true
		close(f.stopCh)
	}
	return nil
}

func (f *fakePool) stopCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func TestWaitForContainerOrCancelStopsWorkerOnCancellation(t *testing.T) {
	reg := registry.New(t.TempDir())
	p, err := reg.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateProjectStatus(p.ID, model.ProjectReady, ""))
	_, err = reg.CreateTask(p.ID, "x", 0, "", false)
	require.NoError(t, err)

	claim, err := reg.ClaimNext("worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)

	pool := newFakePool()
	s := New(reg, pool, eventlog.New(), Config{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, inFlight, workerID, cancelErr := reg.Cancel(p.ID, claim.Task.ID)
		require.NoError(t, cancelErr)
		require.True(t, inFlight)
		require.Equal(t, "worker-1", workerID)
	}()

	exitCode, waitErr := s.waitForContainerOrCancelEvery(context.Background(), "worker-1", p.ID, claim.Task.ID, 5*time.Millisecond)

	require.NoError(t, waitErr)
	require.Equal(t, 0, exitCode)
	require.Equal(t, 1, pool.stopCallCount())
}

func TestWaitForContainerOrCancelIgnoresNonCancelledStatus(t *testing.T) {
	reg := registry.New(t.TempDir())
	p, err := reg.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateProjectStatus(p.ID, model.ProjectReady, ""))
	_, err = reg.CreateTask(p.ID, "x", 0, "", false)
	require.NoError(t, err)

	claim, err := reg.ClaimNext("worker-1")
	require.NoError(t, err)
	require.NotNil(t, claim)

	pool := newFakePool()
	s := New(reg, pool, eventlog.New(), Config{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		pool.StopWorker(context.Background(), "worker-1")
	}()

	exitCode, waitErr := s.waitForContainerOrCancelEvery(context.Background(), "worker-1", p.ID, claim.Task.ID, 5*time.Millisecond)

	require.NoError(t, waitErr)
	require.Equal(t, 0, exitCode)
	require.Equal(t, 1, pool.stopCallCount(), "polling must not call StopWorker when the task was never cancelled")
}
