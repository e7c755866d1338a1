package staging

import (
	"context"
	"sync"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/metrics"
	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// ContextFunc builds the sandbox context a task's staging directives
// resolve against. Agent wiring supplies this from the task's, pilot's,
// and session's known local directories.
type ContextFunc func(task *types.Task) SandboxContext

// Input is the §4.7 Staging-Input component: it watches for tasks at
// AGENT_STAGING_INPUT_PENDING, enacts their input_staging directives,
// and advances them to AGENT_SCHEDULING_PENDING.
type Input struct {
	logger  zerolog.Logger
	bus     bridge.PubSub
	ctxFor  ContextFunc
	stateCh <-chan types.Message
	unsub   func()
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewInput creates a Staging-Input component.
func NewInput(bus bridge.PubSub, ctxFor ContextFunc) *Input {
	return &Input{
		logger: log.WithComponent("staging_input"),
		bus:    bus,
		ctxFor: ctxFor,
		stopCh: make(chan struct{}),
	}
}

func (c *Input) Name() string { return "staging_input" }

func (c *Input) Start(ctx context.Context) error {
	c.stateCh, c.unsub = c.bus.Subscribe(string(types.TopicState))
	c.wg.Add(1)
	go c.consume(ctx)
	return nil
}

func (c *Input) Stop() error {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	if c.unsub != nil {
		c.unsub()
	}
	c.wg.Wait()
	return nil
}

func (c *Input) consume(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-c.stateCh:
			if !ok {
				return
			}
			if msg.State == nil || msg.State.Task == nil {
				continue
			}
			task := msg.State.Task
			if task.CurrentState() != types.AgentStagingInputPending {
				continue
			}
			c.handle(task)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handle routes a task through Staging-Input. A task with no
// actionable input_staging directives never needs its own goroutine:
// it advances inline so a slow sibling never stalls it (§4.7).
func (c *Input) handle(task *types.Task) {
	logger := c.logger.With().Str("task_id", task.UID).Logger()
	directives := filterLocal(task.Description.InputStaging)
	if len(directives) == 0 {
		if err := statemachine.Advance(task, types.AgentStagingInput); err != nil {
			logger.Error().Err(err).Msg("cannot advance task into staging_input")
			return
		}
		if err := statemachine.Advance(task, types.AgentSchedulingPending); err != nil {
			logger.Error().Err(err).Msg("cannot advance task out of staging_input")
			return
		}
		c.publish(task)
		return
	}
	go c.stage(task, directives, logger)
}

func (c *Input) stage(task *types.Task, directives []types.StagingDirective, logger zerolog.Logger) {
	if err := statemachine.Advance(task, types.AgentStagingInput); err != nil {
		logger.Error().Err(err).Msg("cannot advance task into staging_input")
		return
	}

	sandboxCtx := c.ctxFor(task)
	if err := enactAll(task.UID, sandboxCtx, directives, "input"); err != nil {
		logger.Error().Err(err).Msg("input staging failed")
		if ferr := statemachine.Fail(task, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to route failed task to output staging")
		}
		c.publish(task)
		return
	}

	if err := statemachine.Advance(task, types.AgentSchedulingPending); err != nil {
		logger.Error().Err(err).Msg("cannot advance task out of staging_input")
		return
	}
	c.publish(task)
}

func (c *Input) publish(task *types.Task) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(string(types.TopicState), types.Message{
		Topic: types.TopicState,
		State: &types.StateMessage{Task: task},
	})
}

// Output is the §4.7 Staging-Output component: it watches for tasks at
// AGENT_STAGING_OUTPUT_PENDING, enacts their output_staging directives,
// and finalizes the task to its terminal state regardless of outcome —
// output staging always runs so the client gets a final report (§4.2).
type Output struct {
	logger  zerolog.Logger
	bus     bridge.PubSub
	ctxFor  ContextFunc
	stateCh <-chan types.Message
	unsub   func()
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewOutput creates a Staging-Output component.
func NewOutput(bus bridge.PubSub, ctxFor ContextFunc) *Output {
	return &Output{
		logger: log.WithComponent("staging_output"),
		bus:    bus,
		ctxFor: ctxFor,
		stopCh: make(chan struct{}),
	}
}

func (c *Output) Name() string { return "staging_output" }

func (c *Output) Start(ctx context.Context) error {
	c.stateCh, c.unsub = c.bus.Subscribe(string(types.TopicState))
	c.wg.Add(1)
	go c.consume(ctx)
	return nil
}

func (c *Output) Stop() error {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	if c.unsub != nil {
		c.unsub()
	}
	c.wg.Wait()
	return nil
}

func (c *Output) consume(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-c.stateCh:
			if !ok {
				return
			}
			if msg.State == nil || msg.State.Task == nil {
				continue
			}
			task := msg.State.Task
			if task.CurrentState() != types.AgentStagingOutputPend {
				continue
			}
			c.handle(task)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Output) handle(task *types.Task) {
	logger := c.logger.With().Str("task_id", task.UID).Logger()
	directives := filterLocal(task.Description.OutputStaging)
	if len(directives) == 0 {
		c.finish(task, logger)
		return
	}
	go c.stage(task, directives, logger)
}

func (c *Output) stage(task *types.Task, directives []types.StagingDirective, logger zerolog.Logger) {
	if err := statemachine.Advance(task, types.AgentStagingOutput); err != nil {
		logger.Error().Err(err).Msg("cannot advance task into staging_output")
		return
	}

	sandboxCtx := c.ctxFor(task)
	if err := enactAll(task.UID, sandboxCtx, directives, "output"); err != nil {
		logger.Error().Err(err).Msg("output staging failed")
		if task.TargetState == "" {
			task.TargetState = types.Failed
			task.Exception = err.Error()
		}
	}

	c.finish(task, logger)
}

// finish advances task to TMGR_STAGING_OUTPUT_PENDING (if not already
// there) and then appends its terminal state — output staging always
// runs to completion, success or failure, so the client gets a final
// report (§4.2).
func (c *Output) finish(task *types.Task, logger zerolog.Logger) {
	if task.CurrentState() == types.AgentStagingOutputPend {
		if err := statemachine.Advance(task, types.AgentStagingOutput); err != nil {
			logger.Error().Err(err).Msg("cannot advance task into staging_output")
			return
		}
	}
	if task.CurrentState() != types.TmgrStagingOutputPending {
		if err := statemachine.Advance(task, types.TmgrStagingOutputPending); err != nil {
			logger.Error().Err(err).Msg("cannot advance task to tmgr_staging_output_pending")
			return
		}
	}
	if err := statemachine.Finalize(task); err != nil {
		logger.Error().Err(err).Msg("cannot finalize task")
		return
	}
	c.publish(task)
}

func (c *Output) publish(task *types.Task) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(string(types.TopicState), types.Message{
		Topic: types.TopicState,
		State: &types.StateMessage{Task: task},
	})
}

// enactAll runs each directive in order, recording per-directive
// staging metrics (§4.7), and stops at the first failure — matching
// the original's behavior of marking the whole task FAILED on the
// first staging exception.
func enactAll(taskUID string, ctx SandboxContext, directives []types.StagingDirective, direction string) error {
	for _, sd := range directives {
		start := time.Now()
		err := EnactDirective(taskUID, ctx, sd)
		metrics.StagingDuration.WithLabelValues(string(sd.Action)).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		metrics.StagingOpsTotal.WithLabelValues(string(sd.Action), direction).Inc()
	}
	return nil
}
