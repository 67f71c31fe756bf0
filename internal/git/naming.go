// Package git provides git worktree and branch operations for orcd.
package git

import "fmt"

// BranchName returns the task branch name: claude/<task_id>.
func BranchName(taskID string) string {
	return fmt.Sprintf("claude/%s", taskID)
}
