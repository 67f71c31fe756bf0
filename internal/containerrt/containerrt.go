// Package containerrt wraps containerd to give the worker pool a minimal
// container lifecycle transport: pull, create-with-mounts, start, wait,
// stop, and remove. Grounded on the containerd client usage pattern for
// general-purpose workload containers, narrowed to the one-shot,
// auto-removing coding-agent containers the worker pool launches.
package containerrt

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// DefaultNamespace is the containerd namespace orcd's containers live in.
const DefaultNamespace = "orcd"

// DefaultSocketPath is the default containerd socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Runtime is a thin containerd client handle scoped to orcd's namespace.
type Runtime struct {
	client    *containerd.Client
	namespace string
}

// New connects to containerd at socketPath (DefaultSocketPath if empty).
func New(socketPath string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &Runtime{client: client, namespace: DefaultNamespace}, nil
}

// Close releases the containerd client connection.
func (r *Runtime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Runtime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// Mount is a host-path bind mount into the container.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// Spec describes the one-shot container a worker slot launches.
type Spec struct {
	ID     string
	Image  string
	Env    []string
	Mounts []Mount
}

// EnsureImage pulls imageRef if it is not already present locally.
func (r *Runtime) EnsureImage(ctx context.Context, imageRef string) error {
	ctx = r.ctx(ctx)
	if _, err := r.client.GetImage(ctx, imageRef); err == nil {
		return nil
	}
	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}
	return nil
}

// Create builds a container from spec with the given bind mounts, without
// starting it.
func (r *Runtime) Create(ctx context.Context, spec Spec) (string, error) {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", fmt.Errorf("get image %s: %w", spec.Image, err)
	}

	mounts := make([]specs.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		opts := []string{"rbind"}
		if m.ReadOnly {
			opts = append(opts, "ro")
		} else {
			opts = append(opts, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        "bind",
			Options:     opts,
		})
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	c, err := r.client.NewContainer(
		ctx,
		spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return c.ID(), nil
}

// Start creates and starts the container's task.
func (r *Runtime) Start(ctx context.Context, containerID string) error {
	ctx = r.ctx(ctx)

	c, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", containerID, err)
	}

	task, err := c.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	return nil
}

// WaitResult is the outcome of a container's task exit.
type WaitResult struct {
	ExitCode uint32
	Err      error
}

// Wait blocks until the container's task exits or timeout elapses,
// deleting the container and its snapshot on exit to emulate auto-remove.
// If the container has already been removed (by a prior auto-remove, or a
// racing caller), it reports exit 0 rather than erroring.
func (r *Runtime) Wait(ctx context.Context, containerID string, timeout time.Duration) WaitResult {
	nctx := r.ctx(ctx)

	c, err := r.client.LoadContainer(nctx, containerID)
	if err != nil {
		return WaitResult{ExitCode: 0}
	}

	task, err := c.Task(nctx, nil)
	if err != nil {
		return WaitResult{ExitCode: 0}
	}

	waitCtx, cancel := context.WithTimeout(nctx, timeout)
	defer cancel()

	statusC, err := task.Wait(waitCtx)
	if err != nil {
		return WaitResult{Err: fmt.Errorf("wait task: %w", err)}
	}

	select {
	case status := <-statusC:
		code := status.ExitCode()
		task.Delete(nctx)
		c.Delete(nctx, containerd.WithSnapshotCleanup)
		return WaitResult{ExitCode: code, Err: status.Error()}
	case <-waitCtx.Done():
		return WaitResult{Err: fmt.Errorf("container wait timed out after %s", timeout)}
	}
}

// Stop sends SIGTERM, waits up to grace for exit, then SIGKILLs and
// deletes the task. Used for stop_worker cancellation.
func (r *Runtime) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	ctx = r.ctx(ctx)

	c, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("SIGTERM task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("wait after SIGTERM: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("SIGKILL task: %w", err)
		}
	}

	task.Delete(ctx)
	return nil
}

// Remove force-removes a container (and any running task) regardless of
// state. Used before starting a new container with the same name.
func (r *Runtime) Remove(ctx context.Context, containerID string) error {
	ctx = r.ctx(ctx)

	c, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}
	if task, err := c.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx)
	}
	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container %s: %w", containerID, err)
	}
	return nil
}
