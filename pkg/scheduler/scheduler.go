package scheduler

import (
	"fmt"
	"sync"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/metrics"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/statemachine"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// nodeSlots tracks the free-core and free-gpu bitmap for one node.
type nodeSlots struct {
	index    int
	uid      string
	coreFree []bool
	gpuFree  []bool
}

// firstFreeRun returns the lowest starting index of a contiguous free
// window of the given width, or false if none exists.
func firstFreeRun(bitmap []bool, width int) (int, bool) {
	if width == 0 {
		return 0, true
	}
	run := 0
	for i, free := range bitmap {
		if free {
			run++
			if run == width {
				return i - width + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// Scheduler assigns tasks to per-node core/gpu slots (§4.5).
type Scheduler struct {
	logger zerolog.Logger
	bus    bridge.PubSub

	mu       sync.Mutex
	nodes    []*nodeSlots
	waitlist []*types.Task
}

// New creates a Scheduler over the given node inventory, publishing
// AGENT_EXECUTING_PENDING transitions on bus as tasks are placed.
func New(nodes []types.Node, bus bridge.PubSub) *Scheduler {
	slots := make([]*nodeSlots, len(nodes))
	for i, n := range nodes {
		s := &nodeSlots{index: i, uid: n.UID, coreFree: make([]bool, n.Cores), gpuFree: make([]bool, n.Gpus)}
		for c := range s.coreFree {
			s.coreFree[c] = true
		}
		for g := range s.gpuFree {
			s.gpuFree[g] = true
		}
		slots[i] = s
	}
	return &Scheduler{logger: log.WithComponent("scheduler"), bus: bus, nodes: slots}
}

// Submit tries to place task immediately; if it doesn't fit it joins
// the FIFO waitlist. Returns ResourceError if the request could never
// be satisfied: either no single node is large enough to host one rank
// (each rank must fit wholly on one node), or the cluster's total
// inventory could never host every rank at once even spread across all
// nodes — e.g. three full-node ranks on a two-node cluster, where
// completing other tasks can never free a third node (§4.5).
func (s *Scheduler) Submit(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := task.Description.Resources
	ranks := req.Ranks
	if ranks <= 0 {
		ranks = 1
	}
	if !s.fitsAnyNode(req) {
		metrics.TasksExitedTotal.WithLabelValues("resource_error").Inc()
		resErr := rpcerrors.Resource(task.UID, fmt.Errorf(
			"request (cores_per_rank=%d gpus_per_rank=%d) exceeds any single node's capacity",
			req.CoresPerRank, req.GpusPerRank))
		_ = statemachine.Fail(task, resErr.Error())
		s.publishPlacement(task)
		return resErr
	}
	if !s.fitsTotalInventory(req, ranks) {
		metrics.TasksExitedTotal.WithLabelValues("resource_error").Inc()
		resErr := rpcerrors.Resource(task.UID, fmt.Errorf(
			"request (ranks=%d cores_per_rank=%d gpus_per_rank=%d) exceeds total cluster inventory",
			ranks, req.CoresPerRank, req.GpusPerRank))
		_ = statemachine.Fail(task, resErr.Error())
		s.publishPlacement(task)
		return resErr
	}

	if task.CurrentState() == types.AgentSchedulingPending {
		if err := statemachine.Advance(task, types.AgentScheduling); err != nil {
			return err
		}
	}

	timer := metrics.NewTimer()
	if placed := s.tryPlace(task); placed != nil {
		task.Slots = placed
		if err := statemachine.Advance(task, types.AgentExecutingPending); err != nil {
			return err
		}
		timer.ObserveDuration(metrics.SchedulingLatency)
		metrics.TasksScheduledTotal.Inc()
		s.publishPlacement(task)
		return nil
	}

	s.waitlist = append(s.waitlist, task)
	metrics.WaitlistLength.Set(float64(len(s.waitlist)))
	s.logger.Debug().Str("task_id", task.UID).Msg("task does not fit, queued on waitlist")
	return nil
}

// CancelWaiting removes a task from the waitlist and forwards it to
// output staging with target_state=CANCELED (cancellation before
// placement, §4.5); returns whether it was found there.
func (s *Scheduler) CancelWaiting(taskUID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.waitlist {
		if t.UID == taskUID {
			s.waitlist = append(s.waitlist[:i], s.waitlist[i+1:]...)
			metrics.WaitlistLength.Set(float64(len(s.waitlist)))
			if err := statemachine.Cancel(t); err != nil {
				s.logger.Error().Err(err).Str("task_id", taskUID).Msg("failed to cancel waiting task")
			}
			s.publishPlacement(t)
			return true
		}
	}
	return false
}

// Release frees the slots held by a finished task and re-evaluates
// the waitlist. Called only after the executor confirms process exit
// (§4.5, §4.6) — never on a bare cancellation request, to avoid
// double-use of slots still in flight.
func (s *Scheduler) Release(slots *types.SlotAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rank := range slots.Ranks {
		if rank.NodeIndex < 0 || rank.NodeIndex >= len(s.nodes) {
			continue
		}
		node := s.nodes[rank.NodeIndex]
		for _, c := range rank.CoreMap {
			if c >= 0 && c < len(node.coreFree) {
				node.coreFree[c] = true
			}
		}
		for _, g := range rank.GpuMap {
			if g >= 0 && g < len(node.gpuFree) {
				node.gpuFree[g] = true
			}
		}
	}

	s.drainWaitlist()
}

func (s *Scheduler) drainWaitlist() {
	remaining := s.waitlist[:0]
	for _, task := range s.waitlist {
		if placed := s.tryPlace(task); placed != nil {
			task.Slots = placed
			if err := statemachine.Advance(task, types.AgentExecutingPending); err != nil {
				s.logger.Error().Err(err).Str("task_id", task.UID).Msg("failed to advance placed task")
				remaining = append(remaining, task)
				continue
			}
			metrics.TasksScheduledTotal.Inc()
			s.publishPlacement(task)
			continue
		}
		remaining = append(remaining, task)
	}
	s.waitlist = remaining
	metrics.WaitlistLength.Set(float64(len(s.waitlist)))
}

func (s *Scheduler) publishPlacement(task *types.Task) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(string(types.TopicState), types.Message{
		Topic: types.TopicState,
		State: &types.StateMessage{Task: task},
	})
}

// tryPlace attempts first-fit rank-compact placement: for the smallest
// node count that can host all ranks, walk nodes in ascending index
// order and greedily fill each with as many ranks as it can take
// before moving to the next. Ties among equally-compact placements
// are broken by ascending node index by construction of the walk.
func (s *Scheduler) tryPlace(task *types.Task) *types.SlotAssignment {
	req := task.Description.Resources
	ranks := req.Ranks
	if ranks <= 0 {
		ranks = 1
	}

	for nodeCount := 1; nodeCount <= len(s.nodes); nodeCount++ {
		if assignment := s.attemptPlacement(nodeCount, ranks, req); assignment != nil {
			return assignment
		}
	}
	return nil
}

func (s *Scheduler) attemptPlacement(nodeCount, ranks int, req types.ResourceRequest) *types.SlotAssignment {
	workingCore := make([][]bool, len(s.nodes))
	workingGpu := make([][]bool, len(s.nodes))
	for i, n := range s.nodes {
		workingCore[i] = append([]bool(nil), n.coreFree...)
		workingGpu[i] = append([]bool(nil), n.gpuFree...)
	}

	type claim struct {
		nodeIdx           int
		coreStart, gpuStart int
	}
	var claims []claim
	nodesUsed := map[int]bool{}
	placed := 0

	for _, node := range s.nodes {
		for placed < ranks {
			if !nodesUsed[node.index] && len(nodesUsed) == nodeCount {
				break
			}
			coreStart, ok := firstFreeRun(workingCore[node.index], req.CoresPerRank)
			if !ok {
				break
			}
			gpuStart, ok := firstFreeRun(workingGpu[node.index], req.GpusPerRank)
			if !ok {
				break
			}
			for i := 0; i < req.CoresPerRank; i++ {
				workingCore[node.index][coreStart+i] = false
			}
			for i := 0; i < req.GpusPerRank; i++ {
				workingGpu[node.index][gpuStart+i] = false
			}
			claims = append(claims, claim{nodeIdx: node.index, coreStart: coreStart, gpuStart: gpuStart})
			nodesUsed[node.index] = true
			placed++
		}
		if placed == ranks {
			break
		}
	}

	if placed != ranks {
		return nil
	}

	assignment := &types.SlotAssignment{Ranks: make([]types.RankPlacement, 0, ranks)}
	for _, c := range claims {
		node := s.nodes[c.nodeIdx]
		cores := make([]int, req.CoresPerRank)
		for i := range cores {
			cores[i] = c.coreStart + i
			node.coreFree[cores[i]] = false
		}
		var gpus []int
		if req.GpusPerRank > 0 {
			gpus = make([]int, req.GpusPerRank)
			for i := range gpus {
				gpus[i] = c.gpuStart + i
				node.gpuFree[gpus[i]] = false
			}
		}
		assignment.Ranks = append(assignment.Ranks, types.RankPlacement{
			NodeIndex: node.index,
			NodeUID:   node.uid,
			CoreMap:   cores,
			GpuMap:    gpus,
		})
	}
	return assignment
}

// WaitlistLength reports how many tasks are queued awaiting placement,
// for metrics.Collector's Snapshot.
func (s *Scheduler) WaitlistLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waitlist)
}

// TasksByState reports the waiting tasks bucketed by their current
// state — Submit advances a task to AgentScheduling before it joins the
// waitlist, so this is always a single-entry map, but the shape matches
// what the rest of the pipeline (executor, staging) would report for
// their own in-flight tasks under the same Snapshot interface.
func (s *Scheduler) TasksByState() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waitlist) == 0 {
		return map[string]int{}
	}
	return map[string]int{string(types.AgentScheduling): len(s.waitlist)}
}

// fitsAnyNode reports whether some node in the inventory has enough
// total cores/gpus to ever host one rank of this shape.
func (s *Scheduler) fitsAnyNode(req types.ResourceRequest) bool {
	if len(s.nodes) == 0 {
		return req.CoresPerRank == 0 && req.GpusPerRank == 0
	}
	for _, node := range s.nodes {
		if len(node.coreFree) >= req.CoresPerRank && len(node.gpuFree) >= req.GpusPerRank {
			return true
		}
	}
	return false
}

// fitsTotalInventory reports whether the cluster as a whole has enough
// total cores/gpus to host every rank of req at once. This is a
// necessary, not sufficient, condition for placement (true bin-packing
// feasibility can still fail), but it is exactly the check §4.5 asks
// for: a request no amount of waiting ever satisfies should fail fast
// rather than sit on the waitlist forever.
func (s *Scheduler) fitsTotalInventory(req types.ResourceRequest, ranks int) bool {
	var totalCores, totalGpus int
	for _, node := range s.nodes {
		totalCores += len(node.coreFree)
		totalGpus += len(node.gpuFree)
	}
	return totalCores >= ranks*req.CoresPerRank && totalGpus >= ranks*req.GpusPerRank
}
