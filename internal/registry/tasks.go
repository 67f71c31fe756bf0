package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	orcerrors "github.com/randalmurphal/orcd/internal/errors"
	"github.com/randalmurphal/orcd/internal/model"
	"github.com/randalmurphal/orcd/internal/registry/filelock"
	"github.com/randalmurphal/orcd/internal/util"
)

// tasksFile is the on-disk shape of a project's tasks.json.
type tasksFile struct {
	Tasks []*model.Task `json:"tasks"`
}

func (s *Store) readTasksLocked(projectID string) (*tasksFile, error) {
	path := s.TasksPath(projectID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &tasksFile{}, nil
		}
		return nil, fmt.Errorf("read tasks for %s: %w", projectID, err)
	}
	var tf tasksFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tasks for %s: %w", projectID, err)
	}
	return &tf, nil
}

func (s *Store) writeTasksLocked(projectID string, tf *tasksFile) error {
	sort.Slice(tf.Tasks, func(i, j int) bool { return tf.Tasks[i].ID < tf.Tasks[j].ID })
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks for %s: %w", projectID, err)
	}
	return util.AtomicWriteFile(s.TasksPath(projectID), data, 0644)
}

func (s *Store) withTasksLock(projectID string, mutate bool, fn func(tf *tasksFile) error) error {
	path := s.TasksPath(projectID)
	return filelock.WithLock(path, filelock.DefaultTimeout, func() error {
		tf, err := s.readTasksLocked(projectID)
		if err != nil {
			return err
		}
		if err := fn(tf); err != nil {
			return err
		}
		if !mutate {
			return nil
		}
		return s.writeTasksLocked(projectID, tf)
	})
}

// CreateTask adds a new pending (or plan_pending, if planMode) task to a
// project's queue.
func (s *Store) CreateTask(projectID, description string, priority int, dependsOn string, planMode bool) (*model.Task, error) {
	title := deriveTitle(description)
	status := model.StatusPending
	if planMode {
		status = model.StatusPlanPending
	}
	t := &model.Task{
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Priority:    priority,
		DependsOn:   dependsOn,
		PlanMode:    planMode,
		Status:      status,
		CreatedAt:   time.Now(),
	}
	err := s.withTasksLock(projectID, true, func(tf *tasksFile) error {
		taken := make(map[string]bool, len(tf.Tasks))
		for _, existing := range tf.Tasks {
			taken[existing.ID] = true
		}
		t.ID = util.NewUniqueID(taken)
		tf.Tasks = append(tf.Tasks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// deriveTitle takes the first 50 characters of the first line of a task
// description.
func deriveTitle(description string) string {
	line := description
	if idx := strings.IndexByte(description, '\n'); idx >= 0 {
		line = description[:idx]
	}
	line = strings.TrimSpace(line)
	if len(line) > 50 {
		line = line[:50]
	}
	return line
}

// GetTask returns a single task by id.
func (s *Store) GetTask(projectID, taskID string) (*model.Task, error) {
	var found *model.Task
	err := s.withTasksLock(projectID, false, func(tf *tasksFile) error {
		for _, t := range tf.Tasks {
			if t.ID == taskID {
				cp := *t
				found = &cp
				return nil
			}
		}
		return orcerrors.ErrTaskNotFound(taskID)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListTasks returns a snapshot of all tasks for a project.
func (s *Store) ListTasks(projectID string) ([]*model.Task, error) {
	var out []*model.Task
	err := s.withTasksLock(projectID, false, func(tf *tasksFile) error {
		out = make([]*model.Task, len(tf.Tasks))
		for i, t := range tf.Tasks {
			cp := *t
			out[i] = &cp
		}
		return nil
	})
	return out, err
}

// ApplyTaskUpdate applies a partial update to a task. It refuses to
// transition out of a terminal status.
func (s *Store) ApplyTaskUpdate(projectID, taskID string, update model.TaskUpdate) error {
	return s.withTasksLock(projectID, true, func(tf *tasksFile) error {
		var t *model.Task
		for _, cand := range tf.Tasks {
			if cand.ID == taskID {
				t = cand
				break
			}
		}
		if t == nil {
			return orcerrors.ErrTaskNotFound(taskID)
		}
		if model.IsTerminal(t.Status) && update.Status != nil && *update.Status != t.Status {
			return orcerrors.ErrInvalidTransition(taskID, string(t.Status), string(*update.Status))
		}
		applyTaskUpdate(t, update)
		return nil
	})
}

func applyTaskUpdate(t *model.Task, u model.TaskUpdate) {
	if u.Status != nil {
		t.Status = *u.Status
		if *u.Status == model.StatusCompleted {
			now := time.Now()
			t.CompletedAt = &now
		}
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
	if u.CommitID != nil {
		t.CommitID = *u.CommitID
	}
	if u.Plan != nil {
		t.Plan = *u.Plan
	}
	if u.Branch != nil {
		t.Branch = *u.Branch
	}
	if u.PlanMessages != nil {
		t.PlanMessages = u.PlanMessages
	}
	if u.PlanSessionID != nil {
		t.PlanSessionID = *u.PlanSessionID
	}
	if u.PlanAnswers != nil {
		t.PlanAnswers = u.PlanAnswers
	}
	if u.DependsOn != nil {
		t.DependsOn = *u.DependsOn
	}
}

// assignClaimLocked marks a task claimed by a worker slot, stamping
// started_at. The caller must hold the project's task lock.
func (s *Store) assignClaimLocked(t *model.Task, workerID string) {
	claimed := model.StatusClaimed
	now := time.Now()
	t.Status = claimed
	t.WorkerID = workerID
	t.StartedAt = &now
}

// ResetToPending reverts a task to pending (or plan_pending for plan-mode
// tasks), clearing its worker assignment and error. Retry and crash
// recovery do not call it: Retry applies its own status reset and
// recovery uses RecoverInFlightTasks.
func (s *Store) ResetToPending(projectID, taskID string) error {
	return s.withTasksLock(projectID, true, func(tf *tasksFile) error {
		for _, t := range tf.Tasks {
			if t.ID == taskID {
				if t.PlanMode {
					t.Status = model.StatusPlanPending
				} else {
					t.Status = model.StatusPending
				}
				t.WorkerID = ""
				t.Error = ""
				return nil
			}
		}
		return orcerrors.ErrTaskNotFound(taskID)
	})
}

// RecoverInFlightTasks resets every task in the project whose status is
// in-flight (claimed, running, merging, testing) back to pending, clearing
// worker_id and error, and returns how many it touched. Unlike
// ResetToPending, this never routes a plan-mode task back to plan_pending:
// a task that reached an in-flight status already has an approved plan, so
// recovery only needs to give it back to the scheduler, not re-open
// planning. merge_pending is untouched; InFlight excludes it already.
func (s *Store) RecoverInFlightTasks(projectID string) (int, error) {
	count := 0
	err := s.withTasksLock(projectID, true, func(tf *tasksFile) error {
		for _, t := range tf.Tasks {
			if !model.InFlight(t.Status) {
				continue
			}
			t.Status = model.StatusPending
			t.WorkerID = ""
			t.Error = ""
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// InFlightTasks returns every task across the project currently holding a
// worker slot (status in {claimed, running, merging, testing}).
func (s *Store) InFlightTasks(projectID string) ([]*model.Task, error) {
	all, err := s.ListTasks(projectID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if model.InFlight(t.Status) {
			out = append(out, t)
		}
	}
	return out, nil
}
