package agent0

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/component"
	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/executor"
	"github.com/rpilot/pilot/pkg/launchmethod"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/mailbox"
	"github.com/rpilot/pilot/pkg/metrics"
	"github.com/rpilot/pilot/pkg/raptor"
	"github.com/rpilot/pilot/pkg/registry"
	"github.com/rpilot/pilot/pkg/resourcemanager"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/scheduler"
	"github.com/rpilot/pilot/pkg/staging"
	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// Exit codes Run returns, matching the process exit status the main
// binary reports to whatever launched the pilot (spec.md §6).
const (
	ExitOK            = 0 // clean completion or client-requested cancel
	ExitError         = 1 // an unrecoverable ConfigError/StagingError/etc.
	ExitTimeout       = 2 // the pilot's own runtime deadline elapsed
	ExitHeartbeatLoss = 3 // a supervised component stopped heartbeating
)

// pollInterval is how often Run claims newly-owned tasks and drains
// pending commands from the mailbox (§4.8 T_poll).
const pollInterval = 500 * time.Millisecond

// Agent is the §4.8 Agent-0 supervisor: poll/claim, command
// translation, runtime deadline enforcement, and the terminate
// sequence, wired over the scheduler/executor/staging pipeline.
type Agent struct {
	cfg    *config.AgentConfig
	logger zerolog.Logger

	bus   bridge.PubSub
	queue bridge.Queue
	mbox  mailbox.Mailbox
	reg   *registry.Registry

	rm        resourcemanager.RM
	lm        launchmethod.LM
	sched     *scheduler.Scheduler
	schedComp *scheduler.Component
	exec      *executor.Executor
	stageIn   *staging.Input
	stageOut  *staging.Output
	compMgr   *component.Manager
	collector *metrics.Collector

	mu            sync.Mutex
	raptorMasters map[string]*raptor.Master
	raptorTasks   map[string]*types.Task

	pilot    *types.Pilot
	deadline time.Time

	stateCh <-chan types.Message
	unsubSt func()

	exitOverride int
	cause        types.TerminationCause
	stopOnce     sync.Once
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New wires an Agent over bus/queue/mbox/reg, selecting its resource
// manager, launch method, and component pipeline from cfg. It does not
// start anything; call Run.
func New(cfg *config.AgentConfig, mbox mailbox.Mailbox, bus bridge.PubSub, queue bridge.Queue, reg *registry.Registry) (*Agent, error) {
	rm, err := SelectResourceManager(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := rm.Discover(); err != nil {
		return nil, err
	}

	lm, lmInfo, err := SelectLaunchMethod(cfg)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(cfg.Nodes, bus)
	schedComp := scheduler.NewComponent(bus, sched)
	exec := executor.New(bus, lm, cfg.SandboxURL)

	ctxFor := func(task *types.Task) staging.SandboxContext {
		return staging.SandboxContext{
			Task:     filepath.Join(cfg.SandboxURL, task.UID),
			Pilot:    cfg.SandboxURL,
			Session:  cfg.SandboxURL,
			Resource: cfg.SandboxURL,
			Endpoint: cfg.SandboxURL,
		}
	}
	stageIn := staging.NewInput(bus, ctxFor)
	stageOut := staging.NewOutput(bus, ctxFor)

	compMgr := component.New(bus, cfg.Heartbeat)
	compMgr.SetScheduler(sched)
	compMgr.SetRegistry(reg)

	a := &Agent{
		cfg:           cfg,
		logger:        log.WithComponent("agent_0").With().Str("pilot_id", cfg.PilotID).Logger(),
		bus:           bus,
		queue:         queue,
		mbox:          mbox,
		reg:           reg,
		rm:            rm,
		lm:            lm,
		sched:         sched,
		schedComp:     schedComp,
		exec:          exec,
		stageIn:       stageIn,
		stageOut:      stageOut,
		compMgr:       compMgr,
		raptorMasters: make(map[string]*raptor.Master),
		raptorTasks:   make(map[string]*types.Task),
		exitOverride:  -1,
		stopCh:        make(chan struct{}),
	}
	schedComp.SetRaptorRouter(a)
	compMgr.OnFatal = a.onFatal

	compMgr.Register(schedComp)
	compMgr.Register(exec)
	compMgr.Register(stageIn)
	compMgr.Register(stageOut)

	if cfg.RuntimeMinutes > 0 {
		a.deadline = time.Now().Add(time.Duration(cfg.RuntimeMinutes) * time.Minute)
	}

	a.pilot = &types.Pilot{
		UID:            cfg.PilotID,
		ResourceLabel:  cfg.ResourceLabel,
		AccessSchema:   cfg.AccessSchema,
		Cores:          cfg.Cores,
		Gpus:           cfg.Gpus,
		RuntimeMinutes: cfg.RuntimeMinutes,
		SandboxURL:     cfg.SandboxURL,
		State:          types.PilotLaunching,
		ResourceDetails: &types.ResourceDetails{
			LMDetail: lm.Name(),
			RMInfo:   map[string]any{"backend": cfg.ResourceManager, "nodes": len(cfg.Nodes)},
		},
	}
	if lmInfo != nil {
		details := make(map[string]any, len(lmInfo.Details)+1)
		details["name"] = lmInfo.Name
		for k, v := range lmInfo.Details {
			details[k] = v
		}
		a.pilot.ResourceDetails.LMInfo = details
	}

	return a, nil
}

// Initialize loads (or creates, for a mailbox the client hasn't seeded
// yet) the pilot document and publishes PMGR_ACTIVE with its resource
// details (spec.md §4.8 initialize, original_source agent_0.py
// `initialize`, carried forward as a supplemented feature).
func (a *Agent) Initialize() error {
	existing, err := a.mbox.GetPilot(a.cfg.PilotID)
	if err != nil && !rpcerrors.Is(err, rpcerrors.KindConfig) {
		return err
	}
	if existing != nil {
		existing.ResourceLabel = a.pilot.ResourceLabel
		existing.Cores = a.pilot.Cores
		existing.Gpus = a.pilot.Gpus
		existing.SandboxURL = a.pilot.SandboxURL
		existing.ResourceDetails = a.pilot.ResourceDetails
		a.pilot = existing
	}
	a.pilot.State = types.PilotActive
	a.pilot.StartedAt = time.Now()
	return a.mbox.UpdatePilotMeta(a.pilot)
}

// Run starts the component pipeline and the poll/claim loop, then
// blocks until a terminate condition fires (client cancel, runtime
// deadline, heartbeat loss, or ctx cancellation), runs the terminate
// sequence, and returns the exit code the caller should report.
func (a *Agent) Run(ctx context.Context) int {
	if err := a.Initialize(); err != nil {
		a.logger.Error().Err(err).Msg("agent initialize failed")
		return ExitError
	}

	if err := a.compMgr.StartComponents(ctx); err != nil {
		a.logger.Error().Err(err).Msg("failed to start components")
		return ExitError
	}

	a.stateCh, a.unsubSt = a.bus.Subscribe(string(types.TopicState))
	a.wg.Add(2)
	go a.consumeState(ctx)
	go a.pollLoop(ctx)

	a.collector = metrics.NewCollector(a.compMgr, 5*time.Second)
	a.collector.Start()

	select {
	case <-a.stopCh:
	case <-ctx.Done():
		a.beginTerminate(types.CauseSysExit)
	}

	a.wg.Wait()
	return a.terminate()
}

// beginTerminate records the first termination cause and signals
// Run's select loop to proceed to the terminate sequence. Subsequent
// calls (e.g. a second cancel command arriving mid-shutdown) are
// no-ops — the first cause wins.
func (a *Agent) beginTerminate(cause types.TerminationCause) {
	a.stopOnce.Do(func() {
		a.cause = cause
		close(a.stopCh)
	})
}

func (a *Agent) onFatal(err error) {
	if rpcerrors.Is(err, rpcerrors.KindHeartbeat) {
		a.exitOverride = ExitHeartbeatLoss
	} else {
		a.exitOverride = ExitError
	}
	a.beginTerminate(types.CauseError)
}

// terminate is the §4.8 terminate sequence: stop the component
// manager (which itself stops every supervised component and its own
// heartbeat emission), stop any raptor masters still running, write
// the pilot's final state and cause to the mailbox, and shut down the
// registry. The pilot's stdout/stderr/logfile tail fields are not
// filled in.
func (a *Agent) terminate() int {
	a.logger.Info().Str("cause", string(a.cause)).Msg("agent terminating")

	if a.unsubSt != nil {
		a.unsubSt()
	}
	if a.collector != nil {
		a.collector.Stop()
	}
	a.compMgr.Close()

	a.mu.Lock()
	masters := make([]*raptor.Master, 0, len(a.raptorMasters))
	for _, m := range a.raptorMasters {
		masters = append(masters, m)
	}
	a.raptorMasters = make(map[string]*raptor.Master)
	a.mu.Unlock()
	for _, m := range masters {
		_ = m.Stop()
	}

	a.pilot.Cause = a.cause
	a.pilot.State = a.cause.TerminalState()
	if err := a.mbox.UpdatePilotMeta(a.pilot); err != nil {
		a.logger.Error().Err(err).Msg("failed to publish final pilot state")
	}

	if a.reg != nil {
		if err := a.reg.Shutdown(); err != nil {
			a.logger.Warn().Err(err).Msg("registry shutdown failed")
		}
	}

	if a.exitOverride >= 0 {
		return a.exitOverride
	}
	switch a.cause {
	case types.CauseTimeout:
		return ExitTimeout
	case types.CauseError:
		return ExitError
	default:
		return ExitOK
	}
}

// pollLoop is Agent-0's own heartbeat with the mailbox: every tick it
// claims newly-owned tasks, drains pending commands, and checks the
// pilot's own runtime deadline (spec.md §4.8).
func (a *Agent) pollLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			a.pollOnce()
			timer.ObserveDuration(metrics.MailboxPollDuration)
			if !a.deadline.IsZero() && time.Now().After(a.deadline) {
				a.beginTerminate(types.CauseTimeout)
				return
			}
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) pollOnce() {
	claimed, err := a.mbox.ClaimPendingTasks(a.cfg.PilotID, 0)
	if err != nil {
		a.logger.Error().Err(err).Msg("claim pending tasks failed")
		return
	}
	for _, task := range claimed {
		if task.CurrentState() == "" {
			if err := statemachine.Init(task); err != nil {
				a.logger.Error().Err(err).Str("task_id", task.UID).Msg("cannot init claimed task")
				continue
			}
		}
		if err := statemachine.Advance(task, types.AgentStagingInputPending); err != nil {
			a.logger.Error().Err(err).Str("task_id", task.UID).Msg("cannot admit claimed task into pipeline")
			continue
		}
		a.publishState(task)
	}

	cmds, err := a.mbox.DrainCommands(a.cfg.PilotID)
	if err != nil {
		a.logger.Error().Err(err).Msg("drain commands failed")
		return
	}
	for _, cmd := range cmds {
		a.handleCommand(cmd)
	}
}

// handleCommand translates a client command into the corresponding
// control-bus action or agent lifecycle event (spec.md §6: cancel_pilot,
// cancel_tasks, heartbeat).
func (a *Agent) handleCommand(cmd types.ControlMessage) {
	switch cmd.Verb {
	case types.CmdHeartbeat:
		a.logger.Debug().Msg("client heartbeat received")
	case types.CmdCancelPilot:
		a.beginTerminate(types.CauseCancel)
	case types.CmdCancelTasks:
		_ = a.bus.Publish(string(types.TopicControl), types.Message{
			Topic: types.TopicControl,
			Control: &types.ControlMessage{
				Verb:      types.CmdCancelTasks,
				TaskUIDs:  cmd.TaskUIDs,
				Timestamp: time.Now(),
			},
		})
	default:
		a.logger.Warn().Str("verb", string(cmd.Verb)).Msg("unrecognized pilot command")
	}
}

// consumeState watches the state bus for two events outside any single
// component's own job: a RAPTOR_MASTER task reaching AGENT_EXECUTING
// (stand up its Master) and any task reaching a terminal state
// (publish its final record to the mailbox, spec.md §4.9, §6).
func (a *Agent) consumeState(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case msg, ok := <-a.stateCh:
			if !ok {
				return
			}
			if msg.State == nil || msg.State.Task == nil {
				continue
			}
			task := msg.State.Task
			switch {
			case task.Description.Mode == types.ModeRaptorMaster && task.CurrentState() == types.AgentExecuting:
				go a.spawnRaptorMaster(task)
			case task.IsTerminal():
				if task.Description.Mode == types.ModeRaptorMaster {
					a.stopRaptorMaster(task.UID)
				}
				if err := a.mbox.PublishFinalState(task); err != nil {
					a.logger.Error().Err(err).Str("task_id", task.UID).Msg("failed to publish final task state")
				}
			}
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) publishState(task *types.Task) {
	_ = a.bus.Publish(string(types.TopicState), types.Message{
		Topic: types.TopicState,
		State: &types.StateMessage{Task: task},
	})
}
