package registry

import (
	"fmt"

	"github.com/randalmurphal/orcd/internal/model"
)

// Cancel cancels a task if its current status accepts a cancel request.
// Returns the task's status prior to cancellation, whether the task was
// in-flight (held a worker slot), and that slot's worker id so the caller
// (orcctl) can tell the operator whether a container will be stopped. The
// stop itself happens in the scheduler, which polls the task's status while
// waiting on its container and stops the slot once it reads cancelled.
func (s *Store) Cancel(projectID, taskID string) (previous model.Status, wasInFlight bool, workerID string, err error) {
	err = s.withTasksLock(projectID, true, func(tf *tasksFile) error {
		for _, t := range tf.Tasks {
			if t.ID != taskID {
				continue
			}
			if !model.Cancellable(t.Status) {
				return fmt.Errorf("task %s in status %s cannot be cancelled", taskID, t.Status)
			}
			previous = t.Status
			wasInFlight = model.InFlight(t.Status)
			workerID = t.WorkerID
			cancelled := model.StatusCancelled
			applyTaskUpdate(t, model.TaskUpdate{Status: &cancelled})
			return nil
		}
		return fmt.Errorf("task %s not found", taskID)
	})
	return previous, wasInFlight, workerID, err
}

// Retry resets a retryable task back to its pre-execution status, clearing
// its error. Plan-mode tasks re-enter plan_pending; others re-enter
// pending.
func (s *Store) Retry(projectID, taskID string) error {
	return s.withTasksLock(projectID, true, func(tf *tasksFile) error {
		for _, t := range tf.Tasks {
			if t.ID != taskID {
				continue
			}
			if !model.Retryable(t.Status) {
				return fmt.Errorf("task %s in status %s cannot be retried", taskID, t.Status)
			}
			next := model.StatusPending
			if t.PlanMode {
				next = model.StatusPlanPending
			}
			noErr := ""
			applyTaskUpdate(t, model.TaskUpdate{Status: &next, Error: &noErr})
			t.WorkerID = ""
			t.CompletedAt = nil
			return nil
		}
		return fmt.Errorf("task %s not found", taskID)
	})
}

// ApprovePlan transitions a plan_pending task to plan_approved.
func (s *Store) ApprovePlan(projectID, taskID string) error {
	return s.withTasksLock(projectID, true, func(tf *tasksFile) error {
		for _, t := range tf.Tasks {
			if t.ID != taskID {
				continue
			}
			if t.Status != model.StatusPlanPending {
				return fmt.Errorf("task %s is not awaiting plan approval", taskID)
			}
			approved := model.StatusPlanApproved
			applyTaskUpdate(t, model.TaskUpdate{Status: &approved})
			return nil
		}
		return fmt.Errorf("task %s not found", taskID)
	})
}

// RejectPlan transitions a plan_pending task back to pending.
func (s *Store) RejectPlan(projectID, taskID string) error {
	return s.withTasksLock(projectID, true, func(tf *tasksFile) error {
		for _, t := range tf.Tasks {
			if t.ID != taskID {
				continue
			}
			if t.Status != model.StatusPlanPending {
				return fmt.Errorf("task %s is not awaiting plan approval", taskID)
			}
			pending := model.StatusPending
			applyTaskUpdate(t, model.TaskUpdate{Status: &pending})
			return nil
		}
		return fmt.Errorf("task %s not found", taskID)
	})
}
