package model

import "time"

// SlotStatus is the lifecycle state of a worker slot.
type SlotStatus string

const (
	SlotIdle    SlotStatus = "idle"
	SlotBusy    SlotStatus = "busy"
	SlotStopped SlotStatus = "stopped"
	SlotError   SlotStatus = "error"
)

// WorkerSlot is one of the fixed N container execution slots. Slots are
// created at startup and never destroyed.
type WorkerSlot struct {
	ID             string     `json:"id"`
	Status         SlotStatus `json:"status"`
	ContainerID    string     `json:"container_id,omitempty"`
	TaskID         string     `json:"task_id,omitempty"`
	ProjectID      string     `json:"project_id,omitempty"`
	CompletedCount int        `json:"completed_count"`
	LastActivity   time.Time  `json:"last_activity"`
}

// Event is an operator-visible record stored in the bounded event log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}
