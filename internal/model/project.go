// Package model holds the shared domain types persisted by the registry
// store and passed between orcd's components.
package model

import "time"

// ProjectSourceKind describes how a project's repository was obtained.
type ProjectSourceKind string

const (
	SourceRemoteGit ProjectSourceKind = "remote_git"
	SourceLocalPath ProjectSourceKind = "local_path"
	SourceNewEmpty  ProjectSourceKind = "new_empty"
)

// ProjectStatus is the lifecycle status of a project.
type ProjectStatus string

const (
	ProjectCloning ProjectStatus = "cloning"
	ProjectReady   ProjectStatus = "ready"
	ProjectError   ProjectStatus = "error"
)

// Project is a registered repository orcd schedules tasks against.
type Project struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Source     ProjectSourceKind `json:"source"`
	RemoteURL  string            `json:"remote_url,omitempty"`
	BaseBranch string            `json:"base_branch"`
	AutoMerge  bool              `json:"auto_merge"`
	AutoPush   bool              `json:"auto_push"`
	Status     ProjectStatus     `json:"status"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// IsReady reports whether the project participates in scheduling.
func (p *Project) IsReady() bool {
	return p.Status == ProjectReady
}
