package subagent

import (
	"context"
	"path/filepath"

	"github.com/rpilot/pilot/pkg/agent0"
	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/component"
	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/executor"
	"github.com/rpilot/pilot/pkg/launchmethod"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/registry"
	"github.com/rpilot/pilot/pkg/resourcemanager"
	"github.com/rpilot/pilot/pkg/scheduler"
	"github.com/rpilot/pilot/pkg/staging"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// SubAgent runs the node-group-scoped half of the pipeline: scheduler,
// executor, and staging over the slots ResourceManager.SlotsForSubAgent
// carved out for it, plus a registry replica joined as a non-voting
// follower of Agent-0's cluster (spec.md §4.3). It has no mailbox
// poll/claim loop and no raptor-master routing — those stay Agent-0's
// job; a sub-agent only reacts to whatever Agent-0 already put on the
// shared state/control bus for tasks placed on its node slice.
type SubAgent struct {
	cfg    *config.AgentConfig
	logger zerolog.Logger

	bus bridge.PubSub
	reg *registry.Registry

	rm        resourcemanager.RM
	lm        launchmethod.LM
	sched     *scheduler.Scheduler
	schedComp *scheduler.Component
	exec      *executor.Executor
	stageIn   *staging.Input
	stageOut  *staging.Output
	compMgr   *component.Manager
}

// New wires a SubAgent from cfg — normally the output of
// config.AgentConfig.DeriveSubAgentConfig, materialized to disk by
// Agent-0 and loaded back via config.Load on the sub-agent's own host.
func New(cfg *config.AgentConfig, bus bridge.PubSub) (*SubAgent, error) {
	rm, err := agent0.SelectResourceManager(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := rm.Discover(); err != nil {
		return nil, err
	}

	lm, _, err := agent0.SelectLaunchMethod(cfg)
	if err != nil {
		return nil, err
	}

	var reg *registry.Registry
	if cfg.RegistryNodeID != "" {
		reg, err = registry.New(registry.Config{
			NodeID:   cfg.RegistryNodeID,
			BindAddr: cfg.RegistryBindAddr,
			DataDir:  cfg.RegistryDataDir,
		})
		if err != nil {
			return nil, err
		}
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
	if reg != nil {
		compMgr.SetRegistry(reg)
	}
	compMgr.Register(schedComp)
	compMgr.Register(exec)
	compMgr.Register(stageIn)
	compMgr.Register(stageOut)

	return &SubAgent{
		cfg:       cfg,
		logger:    log.WithComponent("subagent").With().Str("agent_id", cfg.AgentID).Logger(),
		bus:       bus,
		reg:       reg,
		rm:        rm,
		lm:        lm,
		sched:     sched,
		schedComp: schedComp,
		exec:      exec,
		stageIn:   stageIn,
		stageOut:  stageOut,
		compMgr:   compMgr,
	}, nil
}

// Registry exposes the sub-agent's registry replica, so the process
// that spawned it (or a test harness wiring both ends of a join) can
// call the leader's AddNonvoter with this replica's (nodeID, bindAddr).
func (sa *SubAgent) Registry() *registry.Registry { return sa.reg }

// Run starts the sub-agent's registry replica (if configured) and its
// component subset, then blocks until ctx is canceled, at which point
// it runs the same clean-shutdown order Agent-0 uses: stop components,
// then the registry.
func (sa *SubAgent) Run(ctx context.Context) error {
	if sa.reg != nil {
		if err := sa.reg.Start(); err != nil {
			return err
		}
	}
	if err := sa.compMgr.StartComponents(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	sa.compMgr.Close()
	if sa.reg != nil {
		return sa.reg.Shutdown()
	}
	return nil
}
