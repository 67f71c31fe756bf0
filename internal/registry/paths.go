// Package registry implements the durable, lock-protected project and
// task registry described by the core's on-disk contract: one
// projects.json file plus one tasks.json file per project, each guarded
// by a sibling .lock file.
package registry

import "path/filepath"

// Store is the root handle for all registry state under a data directory.
type Store struct {
	dataDir string
}

// New returns a Store rooted at dataDir. The directory is created lazily
// on first write.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (s *Store) DataDir() string {
	return s.dataDir
}

// ProjectsPath returns the path to the global project registry file.
func (s *Store) ProjectsPath() string {
	return filepath.Join(s.dataDir, "projects.json")
}

// ProjectDir returns a project's root directory under the data dir.
func (s *Store) ProjectDir(projectID string) string {
	return filepath.Join(s.dataDir, "projects", projectID)
}

// TasksPath returns the path to a project's task queue file.
func (s *Store) TasksPath(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "tasks.json")
}

// RepoPath returns a project's main repository working directory.
func (s *Store) RepoPath(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "repo")
}

// WorktreesDir returns a project's worktree base directory.
func (s *Store) WorktreesDir(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "worktrees")
}

// WorktreePath returns the worktree path for a given slot of a project.
func (s *Store) WorktreePath(projectID, slotID string) string {
	return filepath.Join(s.WorktreesDir(projectID), slotID)
}

// LogDir returns a project's agent log directory.
func (s *Store) LogDir(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "logs")
}

// LogPath returns the jsonl log path for a given slot of a project.
func (s *Store) LogPath(projectID, slotID string) string {
	return filepath.Join(s.LogDir(projectID), slotID+".jsonl")
}
