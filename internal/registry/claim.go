package registry

import (
	"sort"

	"github.com/randalmurphal/orcd/internal/model"
)

// candidate pairs a task with the project it belongs to for cross-project
// sorting during claim_next.
type candidate struct {
	projectID string
	task      *model.Task
}

// statusTier orders plan_approved ahead of pending, per claim_next's sort
// key.
func statusTier(s model.Status) int {
	if s == model.StatusPlanApproved {
		return 0
	}
	return 1
}

// Claim is the result of a successful claim_next call.
type Claim struct {
	ProjectID string
	Task      *model.Task
}

// ClaimNext atomically claims the highest-priority ready task across all
// ready projects for workerID, implementing the two-phase snapshot-then-
// reverify protocol: candidates are gathered under each project's task
// lock without holding every lock at once, the winner is picked by sort
// order, then its project's lock is reacquired to verify the task's
// status has not changed before claiming it. A nil result with no error
// means no task was available this round, or the candidate lost a race
// and the scheduler should retry on its next tick.
//
// The single scheduler loop is the only caller; concurrent calls for
// distinct workers would each need their own winner, so no dedup key
// could collapse them without breaking the slot-task bijection.
func (s *Store) ClaimNext(workerID string) (*Claim, error) {
	ready, err := s.ReadyProjects()
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, p := range ready {
		tasks, err := s.ListTasks(p.ID)
		if err != nil {
			return nil, err
		}
		completed := make(map[string]bool)
		for _, t := range tasks {
			if t.Status == model.StatusCompleted {
				completed[t.ID] = true
			}
		}
		for _, t := range tasks {
			if t.Status != model.StatusPending && t.Status != model.StatusPlanApproved {
				continue
			}
			if t.DependsOn != "" && !completed[t.DependsOn] {
				continue
			}
			candidates = append(candidates, candidate{projectID: p.ID, task: t})
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ta, tb := statusTier(a.task.Status), statusTier(b.task.Status); ta != tb {
			return ta < tb
		}
		if a.task.Priority != b.task.Priority {
			return a.task.Priority > b.task.Priority
		}
		if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
			return a.task.CreatedAt.Before(b.task.CreatedAt)
		}
		return a.task.ID < b.task.ID
	})

	winner := candidates[0]

	var claimed *model.Task
	err = s.withTasksLock(winner.projectID, true, func(tf *tasksFile) error {
		for _, t := range tf.Tasks {
			if t.ID != winner.task.ID {
				continue
			}
			if t.Status != model.StatusPending && t.Status != model.StatusPlanApproved {
				// Lost the race: another claimer (or a cancel) changed
				// this task's status since the snapshot. Report nothing;
				// the scheduler retries next tick.
				return nil
			}
			s.assignClaimLocked(t, workerID)
			cp := *t
			claimed = &cp
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, nil
	}
	return &Claim{ProjectID: winner.projectID, Task: claimed}, nil
}
