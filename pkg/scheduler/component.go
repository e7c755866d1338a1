package scheduler

import (
	"context"
	"sync"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// RaptorRouter diverts a function task tagged with a raptor_id to its
// master's request queue instead of the placement waitlist (spec.md
// §4.9). Route returns false for any task it doesn't own, in which
// case the Component falls through to its normal Submit. Declared
// locally (rather than importing pkg/raptor) so the scheduler stays a
// leaf package; agent_0 supplies the concrete implementation.
type RaptorRouter interface {
	Route(task *types.Task) (handled bool, err error)
}

// Component is the §4.5 Scheduler Component: it drives a *Scheduler off
// the state and control buses so the placement logic itself (tested
// directly in scheduler_unit_test.go) never has to know about bridges.
type Component struct {
	logger zerolog.Logger
	bus    bridge.PubSub
	sched  *Scheduler
	router RaptorRouter

	stateCh <-chan types.Message
	unsubSt func()
	ctrlCh  <-chan types.Message
	unsubCl func()

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewComponent wraps sched as a Component consuming bus.
func NewComponent(bus bridge.PubSub, sched *Scheduler) *Component {
	return &Component{
		logger: log.WithComponent("scheduler"),
		bus:    bus,
		sched:  sched,
		stopCh: make(chan struct{}),
	}
}

// SetRaptorRouter installs the raptor-routing hook. Call before Start.
func (c *Component) SetRaptorRouter(router RaptorRouter) {
	c.router = router
}

func (c *Component) Name() string { return "scheduler" }

func (c *Component) Start(ctx context.Context) error {
	c.stateCh, c.unsubSt = c.bus.Subscribe(string(types.TopicState))
	c.ctrlCh, c.unsubCl = c.bus.Subscribe(string(types.TopicControl))
	c.wg.Add(2)
	go c.consumeState(ctx)
	go c.consumeControl(ctx)
	return nil
}

func (c *Component) Stop() error {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	if c.unsubSt != nil {
		c.unsubSt()
	}
	if c.unsubCl != nil {
		c.unsubCl()
	}
	c.wg.Wait()
	return nil
}

// consumeState picks up tasks as soon as they arrive at
// AGENT_SCHEDULING_PENDING and hands them to Submit.
func (c *Component) consumeState(ctx context.Context) {
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
			if task.CurrentState() != types.AgentSchedulingPending {
				continue
			}
			if c.router != nil {
				handled, err := c.router.Route(task)
				if err != nil {
					c.logger.Error().Err(err).Str("task_id", task.UID).Msg("raptor routing failed")
					continue
				}
				if handled {
					continue
				}
			}
			if err := c.sched.Submit(task); err != nil {
				c.logger.Error().Err(err).Str("task_id", task.UID).Msg("failed to submit task to scheduler")
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// consumeControl reacts to the executor's slot_release (freeing a
// finished task's cores/gpus, §4.6 step 4) and to cancel_tasks for
// tasks still sitting on the waitlist (§4.5 cancellation-before-
// placement; cancellation after placement is the executor's job, since
// slots are only released once the process has actually exited).
func (c *Component) consumeControl(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-c.ctrlCh:
			if !ok {
				return
			}
			if msg.Control == nil {
				continue
			}
			switch msg.Control.Verb {
			case types.CmdSlotRelease:
				if msg.Control.Slots != nil {
					c.sched.Release(msg.Control.Slots)
				}
			case types.CmdCancelTasks:
				for _, uid := range msg.Control.TaskUIDs {
					c.sched.CancelWaiting(uid)
				}
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
