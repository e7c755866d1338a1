package launchmethod

import (
	"context"
	"fmt"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
)

const (
	containerdNamespace = "rpilot"
	containerImageKey   = "RP_CONTAINER_IMAGE" // task environment key naming the OCI image
)

// ContainerRunner is implemented by LM variants that execute a task
// inside an OCI container rather than as a bare process. pkg/executor
// type-asserts for this instead of shelling out to LaunchCmd when a
// task carries a container image — creating and waiting on a
// containerd task is real execution, not command-line synthesis, so
// it doesn't fit the shell-string LM.LaunchCmd contract.
type ContainerRunner interface {
	RunContainer(ctx context.Context, task *types.Task, sandboxPath string) (exitCode int, err error)
}

// Containerd launches single-rank tasks as containerd OCI containers
// instead of bare processes, for tasks whose environment names an
// image via RP_CONTAINER_IMAGE.
type Containerd struct {
	client *containerd.Client
}

// ContainerdFactory connects to a containerd socket.
type ContainerdFactory struct {
	SocketPath string
}

func (f ContainerdFactory) InitFromScratch() (LM, *config.LMInfo, error) {
	socket := f.SocketPath
	if socket == "" {
		socket = "/run/containerd/containerd.sock"
	}
	client, err := containerd.New(socket)
	if err != nil {
		return nil, nil, rpcerrors.Config(fmt.Errorf("connect to containerd at %s: %w", socket, err))
	}
	info := &config.LMInfo{
		Name:    "CONTAINERD",
		Details: map[string]string{"socket": socket},
	}
	return &Containerd{client: client}, info, nil
}

func (f ContainerdFactory) InitFromInfo(info *config.LMInfo) (LM, error) {
	socket := info.Details["socket"]
	if socket == "" {
		socket = "/run/containerd/containerd.sock"
	}
	client, err := containerd.New(socket)
	if err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("connect to containerd at %s: %w", socket, err))
	}
	return &Containerd{client: client}, nil
}

func (c *Containerd) Name() string { return "CONTAINERD" }

func (c *Containerd) CanLaunch(task *types.Task) (bool, string) {
	if task.Description.Executable == "" {
		return false, "no executable"
	}
	if task.Description.Environment[containerImageKey] == "" {
		return false, "no " + containerImageKey + " set in task environment"
	}
	if task.Description.Resources.Ranks > 1 {
		return false, "containerd launch method does not support multi-rank tasks"
	}
	return true, ""
}

func (c *Containerd) LauncherEnv() []string { return nil }

// LaunchCmd is unused for containerd tasks — pkg/executor type-asserts
// ContainerRunner and calls RunContainer directly instead. Returning an
// explanatory error here guards against an executor code path that
// forgets to do that check.
func (c *Containerd) LaunchCmd(task *types.Task, execPath, sandboxPath string) (string, error) {
	return "", fmt.Errorf("containerd launch method must be driven via RunContainer, not LaunchCmd")
}

func (c *Containerd) RankEnv() string {
	return "export RP_RANK=0\n"
}

func (c *Containerd) ExecCmd(task *types.Task) (string, error) {
	return execCmd(task)
}

// RunContainer implements ContainerRunner: pulls the image if needed,
// creates a container + task bound to the task's sandbox, runs it to
// completion, and returns its exit code. Grounded on the client/
// namespace/oci create-and-wait sequence of a typical containerd
// runtime wrapper.
func (c *Containerd) RunContainer(ctx context.Context, task *types.Task, sandboxPath string) (int, error) {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)

	imageRef := task.Description.Environment[containerImageKey]
	image, err := c.client.GetImage(ctx, imageRef)
	if err != nil {
		image, err = c.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
		if err != nil {
			return -1, rpcerrors.Launch(task.UID, fmt.Errorf("pull image %s: %w", imageRef, err))
		}
	}

	args := append([]string{task.Description.Executable}, task.Description.Arguments...)
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithProcessArgs(args...),
		oci.WithEnv(envSlice(task.Description.Environment)),
		oci.WithMounts([]specs.Mount{{
			Destination: "/sandbox",
			Type:        "bind",
			Source:      sandboxPath,
			Options:     []string{"rbind", "rw"},
		}}),
	}

	containerID := "rpilot-" + task.UID
	ctr, err := c.client.NewContainer(ctx, containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return -1, rpcerrors.Launch(task.UID, fmt.Errorf("create container: %w", err))
	}
	defer ctr.Delete(ctx, containerd.WithSnapshotCleanup)

	cTask, err := ctr.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return -1, rpcerrors.Launch(task.UID, fmt.Errorf("create task: %w", err))
	}
	defer cTask.Delete(ctx)

	exitCh, err := cTask.Wait(ctx)
	if err != nil {
		return -1, rpcerrors.Launch(task.UID, fmt.Errorf("wait on task: %w", err))
	}
	if err := cTask.Start(ctx); err != nil {
		return -1, rpcerrors.Launch(task.UID, fmt.Errorf("start task: %w", err))
	}

	status := <-exitCh
	code, _, err := status.Result()
	if err != nil {
		return -1, rpcerrors.Launch(task.UID, fmt.Errorf("read exit status: %w", err))
	}
	return int(code), nil
}

// Cancel sends SIGKILL to the running container task, matching the
// executor's process-group cancellation semantics for bare-process
// tasks (§4.6).
func (c *Containerd) Cancel(ctx context.Context, taskUID string) error {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)
	ctr, err := c.client.LoadContainer(ctx, "rpilot-"+taskUID)
	if err != nil {
		return nil // already gone
	}
	cTask, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil
	}
	return cTask.Kill(ctx, syscall.SIGKILL)
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
