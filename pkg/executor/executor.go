package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/launchmethod"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/metrics"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// tailSize is the number of trailing bytes of stdout/stderr kept in
// memory for the task record (§4.6 step 3).
const tailSize = 1024

// killGrace is how long a canceled task gets after SIGTERM before the
// executor escalates to SIGKILL, or the timeout given to a container
// runner's own Cancel (§4.6 step 5).
const killGrace = 3 * time.Second

// containerCanceler is implemented by launch methods (containerd) whose
// running unit is not a process group but still needs an explicit stop.
type containerCanceler interface {
	Cancel(ctx context.Context, taskUID string) error
}

// runningTask tracks the state Cancel needs for one in-flight task.
type runningTask struct {
	mu       sync.Mutex
	pgid     int
	canceled bool
}

// Executor spawns placed tasks and collects their results (§4.6). One
// Executor drives a single launch method, matching the one
// resource-manager/launch-method pair an agent or sub-agent is
// configured with.
type Executor struct {
	logger      zerolog.Logger
	bus         bridge.PubSub
	lm          launchmethod.LM
	sandboxRoot string

	mu      sync.Mutex
	running map[string]*runningTask

	stateCh  <-chan types.Message
	unsubSt  func()
	ctrlCh   <-chan types.Message
	unsubCtl func()

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates an Executor that drives lm and sandboxes tasks under
// sandboxRoot/<task-uid> unless a task names its own sandbox.
func New(bus bridge.PubSub, lm launchmethod.LM, sandboxRoot string) *Executor {
	return &Executor{
		logger:      log.WithComponent("executor"),
		bus:         bus,
		lm:          lm,
		sandboxRoot: sandboxRoot,
		running:     make(map[string]*runningTask),
		stopCh:      make(chan struct{}),
	}
}

func (e *Executor) Name() string { return "executor" }

// Start subscribes to the state bus for tasks newly placed at
// AGENT_EXECUTING_PENDING and to the control bus for cancel_tasks.
func (e *Executor) Start(ctx context.Context) error {
	e.stateCh, e.unsubSt = e.bus.Subscribe(string(types.TopicState))
	e.ctrlCh, e.unsubCtl = e.bus.Subscribe(string(types.TopicControl))

	e.wg.Add(2)
	go e.consumeState(ctx)
	go e.consumeControl(ctx)
	return nil
}

func (e *Executor) Stop() error {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	if e.unsubSt != nil {
		e.unsubSt()
	}
	if e.unsubCtl != nil {
		e.unsubCtl()
	}
	e.wg.Wait()
	return nil
}

func (e *Executor) consumeState(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case msg, ok := <-e.stateCh:
			if !ok {
				return
			}
			if msg.State == nil || msg.State.Task == nil {
				continue
			}
			task := msg.State.Task
			if task.CurrentState() != types.AgentExecutingPending {
				continue
			}
			go e.run(ctx, task)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Executor) consumeControl(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case msg, ok := <-e.ctrlCh:
			if !ok {
				return
			}
			if msg.Control == nil || msg.Control.Verb != types.CmdCancelTasks {
				continue
			}
			for _, uid := range msg.Control.TaskUIDs {
				e.Cancel(uid)
			}
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// run advances a placed task through AGENT_EXECUTING, spawns it, and
// routes the result onward. Called in its own goroutine per task so a
// slow task never blocks the dispatch loop (§5, per-component FIFO is
// only required within a component, not across its own task fan-out).
func (e *Executor) run(ctx context.Context, task *types.Task) {
	logger := e.logger.With().Str("task_id", task.UID).Logger()

	if err := statemachine.Advance(task, types.AgentExecuting); err != nil {
		logger.Error().Err(err).Msg("cannot advance task to executing")
		return
	}

	sandbox := e.taskSandbox(task)
	if err := os.MkdirAll(sandbox, 0o755); err != nil {
		e.fail(task, rpcerrors.Launch(task.UID, fmt.Errorf("create sandbox: %w", err)), logger)
		return
	}

	if runner, ok := e.lm.(launchmethod.ContainerRunner); ok {
		e.runContainer(ctx, task, runner, sandbox, logger)
		return
	}

	e.runProcess(task, sandbox, logger)
}

func (e *Executor) runProcess(task *types.Task, sandbox string, logger zerolog.Logger) {
	if ok, reason := e.lm.CanLaunch(task); !ok {
		e.fail(task, rpcerrors.Launch(task.UID, fmt.Errorf("cannot launch under %s: %s", e.lm.Name(), reason)), logger)
		return
	}

	execPath, err := e.lm.ExecCmd(task)
	if err != nil {
		e.fail(task, rpcerrors.Launch(task.UID, err), logger)
		return
	}
	launchCmd, err := e.lm.LaunchCmd(task, execPath, sandbox)
	if err != nil {
		e.fail(task, rpcerrors.Launch(task.UID, err), logger)
		return
	}

	scriptPath := filepath.Join(sandbox, task.UID+".sh")
	if err := os.WriteFile(scriptPath, []byte(e.synthesizeScript(task, launchCmd)), 0o755); err != nil {
		e.fail(task, rpcerrors.Launch(task.UID, fmt.Errorf("write launch script: %w", err)), logger)
		return
	}

	stdoutFile, err := os.Create(filepath.Join(sandbox, task.UID+".out"))
	if err != nil {
		e.fail(task, rpcerrors.Launch(task.UID, fmt.Errorf("create stdout file: %w", err)), logger)
		return
	}
	defer stdoutFile.Close()
	stderrFile, err := os.Create(filepath.Join(sandbox, task.UID+".err"))
	if err != nil {
		e.fail(task, rpcerrors.Launch(task.UID, fmt.Errorf("create stderr file: %w", err)), logger)
		return
	}
	defer stderrFile.Close()

	stdoutTail := newTailBuffer(tailSize)
	stderrTail := newTailBuffer(tailSize)

	cmd := exec.Command("/bin/sh", scriptPath)
	cmd.Dir = sandbox
	cmd.Stdout = io.MultiWriter(stdoutFile, stdoutTail)
	cmd.Stderr = io.MultiWriter(stderrFile, stderrTail)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		e.fail(task, rpcerrors.Launch(task.UID, fmt.Errorf("spawn: %w", err)), logger)
		return
	}
	metrics.TasksSpawnedTotal.Inc()

	rt := &runningTask{pgid: cmd.Process.Pid}
	e.mu.Lock()
	e.running[task.UID] = rt
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, task.UID)
		e.mu.Unlock()
	}()

	start := time.Now()
	waitErr := cmd.Wait()
	metrics.TaskRunDuration.Observe(time.Since(start).Seconds())

	rt.mu.Lock()
	canceled := rt.canceled
	rt.mu.Unlock()

	if canceled {
		e.markCanceled(task, logger)
		return
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			e.fail(task, rpcerrors.Launch(task.UID, fmt.Errorf("wait: %w", waitErr)), logger)
			return
		}
	}

	e.finish(task, exitCode, stdoutTail.String(), stderrTail.String(), logger)
}

func (e *Executor) runContainer(ctx context.Context, task *types.Task, runner launchmethod.ContainerRunner, sandbox string, logger zerolog.Logger) {
	if ok, reason := e.lm.CanLaunch(task); !ok {
		e.fail(task, rpcerrors.Launch(task.UID, fmt.Errorf("cannot launch under %s: %s", e.lm.Name(), reason)), logger)
		return
	}

	rt := &runningTask{}
	e.mu.Lock()
	e.running[task.UID] = rt
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, task.UID)
		e.mu.Unlock()
	}()

	metrics.TasksSpawnedTotal.Inc()
	start := time.Now()
	exitCode, err := runner.RunContainer(ctx, task, sandbox)
	metrics.TaskRunDuration.Observe(time.Since(start).Seconds())

	rt.mu.Lock()
	canceled := rt.canceled
	rt.mu.Unlock()

	if canceled {
		e.markCanceled(task, logger)
		return
	}

	if err != nil {
		e.fail(task, err, logger)
		return
	}
	e.finish(task, exitCode, "", "", logger)
}

// Cancel sends a termination signal to task's process group (or, for a
// container-backed task, its launch method's own Cancel) and escalates
// to SIGKILL after killGrace if it hasn't exited (§4.6 step 5).
func (e *Executor) Cancel(taskUID string) {
	e.mu.Lock()
	rt, ok := e.running[taskUID]
	e.mu.Unlock()
	if !ok {
		return
	}

	rt.mu.Lock()
	rt.canceled = true
	pgid := rt.pgid
	rt.mu.Unlock()

	if canceler, ok := e.lm.(containerCanceler); ok {
		ctx, cancel := context.WithTimeout(context.Background(), killGrace)
		defer cancel()
		if err := canceler.Cancel(ctx, taskUID); err != nil {
			e.logger.Warn().Err(err).Str("task_id", taskUID).Msg("container cancel failed")
		}
		return
	}

	if pgid == 0 {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	go func() {
		time.Sleep(killGrace)
		e.mu.Lock()
		_, stillRunning := e.running[taskUID]
		e.mu.Unlock()
		if stillRunning {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	}()
}

func (e *Executor) markCanceled(task *types.Task, logger zerolog.Logger) {
	if err := statemachine.Cancel(task); err != nil {
		logger.Error().Err(err).Msg("failed to route canceled task to output staging")
	}
	metrics.TasksExitedTotal.WithLabelValues("canceled").Inc()
	e.publishState(task)
	e.releaseSlots(task)
}

func (e *Executor) fail(task *types.Task, err error, logger zerolog.Logger) {
	metrics.TasksExitedTotal.WithLabelValues("spawn_error").Inc()
	if serr := statemachine.Fail(task, err.Error()); serr != nil {
		logger.Error().Err(serr).Msg("failed to route failed task to output staging")
	}
	e.publishState(task)
	e.releaseSlots(task)
}

func (e *Executor) finish(task *types.Task, exitCode int, stdoutTail, stderrTail string, logger zerolog.Logger) {
	task.ExitCode = &exitCode
	task.StdoutTail = stdoutTail
	task.StderrTail = stderrTail

	if exitCode == 0 {
		metrics.TasksExitedTotal.WithLabelValues("success").Inc()
		if err := statemachine.Advance(task, types.AgentStagingOutputPend); err != nil {
			logger.Error().Err(err).Msg("failed to advance completed task")
		}
	} else {
		metrics.TasksExitedTotal.WithLabelValues("nonzero_exit").Inc()
		if err := statemachine.Fail(task, fmt.Sprintf("exit code %d", exitCode)); err != nil {
			logger.Error().Err(err).Msg("failed to route failed task to output staging")
		}
	}
	e.publishState(task)
	e.releaseSlots(task)
}

func (e *Executor) publishState(task *types.Task) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(string(types.TopicState), types.Message{
		Topic: types.TopicState,
		State: &types.StateMessage{Task: task},
	})
}

// releaseSlots publishes slot_release so the scheduler can rebuild its
// free-core/gpu bitmaps (§4.6 step 4); the executor never mutates the
// scheduler's bitmaps directly.
func (e *Executor) releaseSlots(task *types.Task) {
	if e.bus == nil || task.Slots == nil {
		return
	}
	_ = e.bus.Publish(string(types.TopicControl), types.Message{
		Topic: types.TopicControl,
		Control: &types.ControlMessage{
			Verb:      types.CmdSlotRelease,
			UID:       task.UID,
			Slots:     task.Slots,
			Timestamp: time.Now(),
		},
	})
}

func (e *Executor) taskSandbox(task *types.Task) string {
	if task.Description.Sandbox != "" {
		return task.Description.Sandbox
	}
	return filepath.Join(e.sandboxRoot, task.UID)
}

// synthesizeScript builds the shell script executed for a task: rank-env
// prelude, launcher priming, environment exports, user pre_exec, the
// launch command itself, then user post_exec (§4.6 step 1).
func (e *Executor) synthesizeScript(task *types.Task, launchCmd string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\nset -e\n")
	b.WriteString(e.lm.RankEnv())
	for _, line := range e.lm.LauncherEnv() {
		b.WriteString(line)
		b.WriteString("\n")
	}

	keys := make([]string, 0, len(task.Description.Environment))
	for k := range task.Description.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("export %s=%s\n", k, shellQuote(task.Description.Environment[k])))
	}

	for _, line := range task.Description.PreExec {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(launchCmd)
	b.WriteString("\n")

	for _, line := range task.Description.PostExec {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// tailBuffer keeps the last size bytes written to it, for capturing a
// task's stdout/stderr tail without holding the full stream in memory.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.size {
		t.buf = t.buf[len(t.buf)-t.size:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
