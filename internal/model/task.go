package model

import "time"

// Status is a task's position in the scheduling state machine.
type Status string

const (
	StatusPending      Status = "pending"
	StatusPlanPending  Status = "plan_pending"
	StatusPlanApproved Status = "plan_approved"
	StatusClaimed      Status = "claimed"
	StatusRunning      Status = "running"
	StatusMerging      Status = "merging"
	StatusTesting      Status = "testing"
	StatusMergePending Status = "merge_pending"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// ValidStatuses returns every valid status value.
func ValidStatuses() []Status {
	return []Status{
		StatusPending, StatusPlanPending, StatusPlanApproved, StatusClaimed,
		StatusRunning, StatusMerging, StatusTesting, StatusMergePending,
		StatusCompleted, StatusFailed, StatusCancelled,
	}
}

// IsValidStatus reports whether s is one of the known statuses.
func IsValidStatus(s Status) bool {
	for _, v := range ValidStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the task's lifecycle.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsDone reports whether the status satisfies another task's dependency.
func IsDone(s Status) bool {
	return s == StatusCompleted
}

// InFlight reports whether the status requires an active worker slot.
func InFlight(s Status) bool {
	switch s {
	case StatusClaimed, StatusRunning, StatusMerging, StatusTesting:
		return true
	default:
		return false
	}
}

// directCancellable is the set of statuses cancellable without touching a
// worker slot.
var directCancellable = map[Status]bool{
	StatusPending:      true,
	StatusPlanPending:  true,
	StatusPlanApproved: true,
	StatusFailed:       true,
}

// runningCancellable is the set of in-flight statuses cancellable via a
// container stop signal.
var runningCancellable = map[Status]bool{
	StatusClaimed: true,
	StatusRunning: true,
	StatusMerging: true,
	StatusTesting: true,
}

// Cancellable reports whether a task in status s accepts a cancel request.
func Cancellable(s Status) bool {
	return directCancellable[s] || runningCancellable[s]
}

// Retryable reports whether a task in status s accepts a retry request.
func Retryable(s Status) bool {
	return IsTerminal(s) || s == StatusPlanPending
}

// Task is a unit of work scoped to a project.
type Task struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Priority     int               `json:"priority"`
	DependsOn    string            `json:"depends_on,omitempty"`
	PlanMode     bool              `json:"plan_mode"`
	Plan         string            `json:"plan,omitempty"`
	PlanMessages []string          `json:"plan_messages,omitempty"`
	PlanSessionID string           `json:"plan_session_id,omitempty"`
	PlanAnswers  map[string]string `json:"plan_answers,omitempty"`
	WorkerID     string            `json:"worker_id,omitempty"`
	Branch       string            `json:"branch,omitempty"`
	CommitID     string            `json:"commit_id,omitempty"`
	Error        string            `json:"error,omitempty"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// DependencySatisfied reports whether t is claimable with respect to its
// predecessor task, given the predecessor's current status
// (predecessorExists=false if the predecessor task id couldn't be resolved).
func (t *Task) DependencySatisfied(predecessorStatus Status, predecessorExists bool) bool {
	if t.DependsOn == "" {
		return true
	}
	return predecessorExists && IsDone(predecessorStatus)
}

// TaskUpdate is a partial update applied to a task by update_task_status.
// Nil fields are left unchanged; the pointer fields let an empty value
// (e.g. clearing Error) be applied as an explicit update.
type TaskUpdate struct {
	Status       *Status
	Error        *string
	CommitID     *string
	Plan         *string
	Branch       *string
	PlanMessages []string
	PlanSessionID *string
	PlanAnswers  map[string]string
	DependsOn    *string
}
