package component

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/config"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/registry"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rs/zerolog"
)

// scheduler is the subset of *scheduler.Scheduler the Manager samples
// for metrics.Snapshot. Declared locally (rather than imported) so
// pkg/component doesn't need to depend on pkg/scheduler just to be a
// metrics source — the concrete scheduler satisfies it structurally.
type scheduler interface {
	WaitlistLength() int
	TasksByState() map[string]int
}

// registryStats is the subset of *registry.Registry the Manager
// samples for metrics.Snapshot.RegistryStatus.
type registryStats interface {
	Stats() (isLeader bool, peers int, lastIndex, appliedIndex uint64)
}

// Manager brings up a bridge, then a fixed set of components over it,
// and watches their heartbeats. A missed heartbeat (§4.1, T_fail) logs
// a HeartbeatLoss error, stops every other component, and calls the
// configured OnFatal hook — which agent_0 wires to its own shutdown.
type Manager struct {
	logger zerolog.Logger
	bus    bridge.PubSub
	hb     *registry.HeartbeatTable
	cfg    config.HeartbeatConfig

	mu         sync.Mutex
	components map[string]Component
	stopOnce   sync.Once
	stopCh     chan struct{}
	wg         sync.WaitGroup

	scheduler scheduler
	registry  registryStats

	OnFatal func(err error)
}

// SetScheduler wires the scheduler sampled by TasksByState/WaitlistLength.
func (m *Manager) SetScheduler(s scheduler) {
	m.scheduler = s
}

// SetRegistry wires the registry sampled by RegistryStatus.
func (m *Manager) SetRegistry(r registryStats) {
	m.registry = r
}

// TasksByState implements metrics.Snapshot.
func (m *Manager) TasksByState() map[string]int {
	if m.scheduler == nil {
		return map[string]int{}
	}
	return m.scheduler.TasksByState()
}

// WaitlistLength implements metrics.Snapshot.
func (m *Manager) WaitlistLength() int {
	if m.scheduler == nil {
		return 0
	}
	return m.scheduler.WaitlistLength()
}

// RegistryStatus implements metrics.Snapshot.
func (m *Manager) RegistryStatus() (isLeader bool, peers int, lastIndex, appliedIndex uint64) {
	if m.registry == nil {
		return false, 0, 0, 0
	}
	return m.registry.Stats()
}

// New creates a Manager over bus, deriving its heartbeat TTL table
// from cfg's interval/timeout.
func New(bus bridge.PubSub, cfg config.HeartbeatConfig) *Manager {
	m := &Manager{
		logger:     log.WithComponent("component_manager"),
		bus:        bus,
		cfg:        cfg,
		components: make(map[string]Component),
		stopCh:     make(chan struct{}),
	}
	m.hb = registry.NewHeartbeatTable(cfg.Timeout, m.onMiss)
	return m
}

// Register adds a component to be started by StartComponents. Call
// before StartComponents; adding after start is not supported.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[c.Name()] = c
}

// StartBridges is a no-op placeholder mirroring agent_0's two-phase
// boot: the bridge itself (Local or NATS) is constructed by the
// caller before New, so by the time Manager exists the bridge is
// already routable. Kept as an explicit call so the staged-startup
// shape stays visible at the call site.
func (m *Manager) StartBridges() error {
	return nil
}

// StartComponents starts every registered component and, for each one
// that starts cleanly, spawns a beatLoop that renews its heartbeat
// every cfg.Interval until Close or ctx is done (§4.1). A single Beat
// at start only buys the component cfg.Timeout before the heartbeat
// table's janitor evicts it and onMiss fires — beatLoop is what keeps a
// long-running pilot's components from spuriously tripping that miss.
func (m *Manager) StartComponents(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, c := range m.components {
		if err := c.Start(ctx); err != nil {
			return rpcerrors.Config(fmt.Errorf("start component %s: %w", name, err))
		}
		m.hb.Beat(name)
		m.logger.Info().Str("component", name).Msg("component started")
		m.wg.Add(1)
		go m.beatLoop(ctx, name)
	}

	go func() {
		<-ctx.Done()
		m.Close()
	}()
	return nil
}

// beatLoop renews name's heartbeat every cfg.Interval until the Manager
// stops or ctx is canceled.
func (m *Manager) beatLoop(ctx context.Context, name string) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.hb.Beat(name)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Beat renews the heartbeat for a named component — called by the
// component itself on every work cycle, or by a supervising poll loop
// on its behalf. The TTL table's own eviction timer is what actually
// detects a miss (see NewHeartbeatTable); Beat just keeps the entry
// alive.
func (m *Manager) Beat(name string) {
	m.hb.Beat(name)
}

func (m *Manager) onMiss(name string) {
	err := rpcerrors.Heartbeat(name, fmt.Errorf("no heartbeat within %s", m.cfg.Timeout))
	m.logger.Error().Err(err).Str("component", name).Msg("heartbeat loss, terminating agent")
	m.Close()
	if m.OnFatal != nil {
		m.OnFatal(err)
	}
}

// Close stops every registered component and every beatLoop. Safe to
// call multiple times.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		for name, c := range m.components {
			if err := c.Stop(); err != nil {
				m.logger.Warn().Err(err).Str("component", name).Msg("component stop failed")
			}
		}
		m.mu.Unlock()
		m.wg.Wait()
	})
}
