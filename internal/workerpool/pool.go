// Package workerpool maintains the fixed set of worker slots and drives
// each slot's one-shot container lifecycle: run, wait, stop, and idle.
// Grounded on the teacher's orchestrator.WorkerPool/Worker status tracking
// and its setProcAttr/killProcessGroup stop pattern, generalized from
// running the agent as a host subprocess to running it inside a
// containerd container.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/orcd/internal/containerrt"
	"github.com/randalmurphal/orcd/internal/model"
)

// WaitUpperBound is the maximum time wait_container blocks on a single
// container's exit.
const WaitUpperBound = 30 * time.Minute

// StopGrace is the grace period stop_worker allows before a forced kill.
const StopGrace = 10 * time.Second

// namePrefix is the containerd container-name prefix used for every slot,
// so stale containers from a prior process can be recognized and removed
// on startup.
const namePrefix = "orcd-worker-"

// Pool owns the fixed map of slot id -> WorkerSlot and the containerd
// runtime used to run each slot's agent container.
type Pool struct {
	mu          sync.RWMutex
	slots       map[string]*model.WorkerSlot
	order       []string
	rt          *containerrt.Runtime
	image       string
	callbackURL string
	forwardEnv  []string
}

// New creates n worker slots (worker-1..worker-n) and force-removes any
// leftover containers matching the naming prefix from a prior run.
// forwardEnv names host environment variables (credentials, git askpass
// hooks, and the like) that RunTask copies from the daemon's own
// environment into every container it starts.
func New(ctx context.Context, n int, rt *containerrt.Runtime, image, callbackURL string, forwardEnv []string) (*Pool, error) {
	p := &Pool{
		slots:       make(map[string]*model.WorkerSlot, n),
		rt:          rt,
		image:       image,
		callbackURL: callbackURL,
		forwardEnv:  forwardEnv,
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("worker-%d", i)
		p.order = append(p.order, id)
		p.slots[id] = &model.WorkerSlot{ID: id, Status: model.SlotIdle}
		if rt != nil {
			if err := rt.Remove(ctx, containerName(id)); err != nil {
				return nil, fmt.Errorf("remove leftover container for %s: %w", id, err)
			}
		}
	}
	return p, nil
}

func containerName(slotID string) string {
	return namePrefix + slotID
}

// IdleSlot returns an idle slot, if any, in deterministic worker-N order.
func (p *Pool) IdleSlot() (*model.WorkerSlot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, id := range p.order {
		s := p.slots[id]
		if s.Status == model.SlotIdle {
			cp := *s
			return &cp, true
		}
	}
	return nil, false
}

// Slot returns a snapshot of a slot by id.
func (p *Pool) Slot(id string) (*model.WorkerSlot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.slots[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// Slots returns a snapshot of every slot, in worker-N order.
func (p *Pool) Slots() []*model.WorkerSlot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.WorkerSlot, 0, len(p.order))
	for _, id := range p.order {
		cp := *p.slots[id]
		out = append(out, &cp)
	}
	return out
}

// TaskEnv describes the task-specific environment and binding parameters
// for run_task, mirroring the container contract in the spec's external
// interfaces section.
type TaskEnv struct {
	ProjectID     string
	ProjectName   string
	TaskID        string
	TaskTitle     string
	TaskDesc      string
	TaskPlan      string
	WorktreePath  string
	RepoPath      string
	LogDir        string
	BranchName    string
	ExtraEnv      map[string]string
}

// RunTask verifies the worktree exists and contains git metadata, removes
// any stale container occupying the slot's container name, then starts a
// fresh detached container bound to the worktree, the log directory, and
// the repo path at an identical absolute path. On success the slot
// transitions to busy with the new container id recorded.
func (p *Pool) RunTask(ctx context.Context, slotID string, env TaskEnv) error {
	if _, err := os.Stat(filepath.Join(env.WorktreePath, ".git")); err != nil {
		return fmt.Errorf("worktree %s has no git metadata: %w", env.WorktreePath, err)
	}

	name := containerName(slotID)
	if err := p.rt.Remove(ctx, name); err != nil {
		return fmt.Errorf("remove existing container %s: %w", name, err)
	}

	spec := containerrt.Spec{
		ID:    name,
		Image: p.image,
		Env:   buildEnv(slotID, p.callbackURL, env, p.forwardEnv),
		Mounts: []containerrt.Mount{
			{Source: env.WorktreePath, Destination: "/workspace", ReadOnly: false},
			{Source: env.LogDir, Destination: "/logs", ReadOnly: false},
			{Source: env.RepoPath, Destination: env.RepoPath, ReadOnly: false},
		},
	}

	if err := p.rt.EnsureImage(ctx, p.image); err != nil {
		return fmt.Errorf("ensure image: %w", err)
	}
	containerID, err := p.rt.Create(ctx, spec)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := p.rt.Start(ctx, containerID); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.slots[slotID]
	s.Status = model.SlotBusy
	s.ContainerID = containerID
	s.TaskID = env.TaskID
	s.ProjectID = env.ProjectID
	s.LastActivity = time.Now()
	return nil
}

func buildEnv(slotID, callbackURL string, env TaskEnv, forwardEnv []string) []string {
	out := []string{
		"TASK_ID=" + env.TaskID,
		"TASK_TITLE=" + env.TaskTitle,
		"TASK_DESC=" + env.TaskDesc,
		"TASK_PLAN=" + env.TaskPlan,
		"PROJECT_ID=" + env.ProjectID,
		"PROJECT_NAME=" + env.ProjectName,
		"WORKER_ID=" + slotID,
		"MANAGER_URL=" + callbackURL,
		"BRANCH_NAME=" + env.BranchName,
	}
	keys := make([]string, 0, len(env.ExtraEnv))
	for k := range env.ExtraEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env.ExtraEnv[k])
	}
	for _, name := range forwardEnv {
		if v, ok := os.LookupEnv(name); ok {
			out = append(out, name+"="+v)
		}
	}
	return out
}

// WaitContainer blocks on the slot's container exit, bounded by
// WaitUpperBound. Must be called from a worker-pool goroutine, never from
// the scheduler loop itself, since it blocks.
func (p *Pool) WaitContainer(ctx context.Context, slotID string) (exitCode int, err error) {
	slot, ok := p.Slot(slotID)
	if !ok {
		return 0, fmt.Errorf("unknown slot %s", slotID)
	}
	if slot.ContainerID == "" {
		return 0, nil
	}
	res := p.rt.Wait(ctx, slot.ContainerID, WaitUpperBound)
	return int(res.ExitCode), res.Err
}

// MarkIdle transitions a slot back to idle, clearing its container and
// task assignment and incrementing its completed count.
func (p *Pool) MarkIdle(slotID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[slotID]
	if !ok {
		return
	}
	s.Status = model.SlotIdle
	s.ContainerID = ""
	s.TaskID = ""
	s.ProjectID = ""
	s.CompletedCount++
	s.LastActivity = time.Now()
}

// StopWorker sends a stop signal with a grace period, then marks the slot
// idle. Used for cancellation of running tasks.
func (p *Pool) StopWorker(ctx context.Context, slotID string) error {
	slot, ok := p.Slot(slotID)
	if !ok {
		return fmt.Errorf("unknown slot %s", slotID)
	}
	if slot.ContainerID != "" {
		if err := p.rt.Stop(ctx, slot.ContainerID, StopGrace); err != nil {
			p.MarkIdle(slotID)
			return fmt.Errorf("stop container %s: %w", slot.ContainerID, err)
		}
	}
	p.MarkIdle(slotID)
	return nil
}

// UpdateFromTasks reconciles slot fields against the current task list so
// a restart recovers displayed state without relying on container events:
// any slot not referenced by an in-flight task is forced idle.
func (p *Pool) UpdateFromTasks(tasks []*model.Task) {
	inFlight := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		if model.InFlight(t.Status) && t.WorkerID != "" {
			inFlight[t.WorkerID] = t
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.slots {
		t, ok := inFlight[id]
		if !ok {
			if s.Status == model.SlotBusy {
				s.Status = model.SlotIdle
				s.ContainerID = ""
				s.TaskID = ""
				s.ProjectID = ""
			}
			continue
		}
		s.Status = model.SlotBusy
		s.TaskID = t.ID
		s.ProjectID = t.ProjectID
	}
}
