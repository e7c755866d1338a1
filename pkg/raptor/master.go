package raptor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/metrics"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// pollInterval is how often Master's result listener and Worker's
// request listener poll their queue, matching the Queue interface's
// non-blocking Get (§4.9, §5 "suspension points").
const pollInterval = 20 * time.Millisecond

// QueueNames derives a master's request/response queue names from its
// own task uid, so agent_0's router and a worker process started from
// a bare config both agree on where to find them without extra
// coordination (spec.md §4.9).
func QueueNames(masterUID string) (request, response string) {
	return "raptor." + masterUID + ".req", "raptor." + masterUID + ".resp"
}

// Master owns the request/response queues for one raptor sub-scheduler
// and the registered size of its worker pool. It does not itself
// execute function payloads — workers pull from the request queue
// independently (load-balanced by the Queue's single-delivery
// semantics) — Master's own job is request admission and result
// fan-in to OnResult (spec.md §4.9).
type Master struct {
	logger        zerolog.Logger
	queue         bridge.Queue
	uid           string
	requestQueue  string
	responseQueue string
	workers       int

	onResult func(*types.RaptorResult)

	submitted sync.Map // task uid -> time.Time the request was queued

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewMaster creates a Master for the task identified by masterUID,
// with workers the configured pool size (spec.md §4.9, SPEC_FULL.md
// "worker pool size ... is config, not hard-coded"). onResult is
// invoked once per delivered RaptorResult; agent_0 wires it to advance
// the corresponding task to AGENT_STAGING_OUTPUT_PENDING.
func NewMaster(queue bridge.Queue, masterUID string, workers int, onResult func(*types.RaptorResult)) *Master {
	req, resp := QueueNames(masterUID)
	return &Master{
		logger:        log.WithComponent("raptor_master").With().Str("master_id", masterUID).Logger(),
		queue:         queue,
		uid:           masterUID,
		requestQueue:  req,
		responseQueue: resp,
		workers:       workers,
		onResult:      onResult,
		stopCh:        make(chan struct{}),
	}
}

// RequestQueue is the name function tasks tagged with this master's
// uid are routed to instead of the main scheduler (spec.md §4.9).
func (m *Master) RequestQueue() string { return m.requestQueue }

// Workers reports the configured worker pool size.
func (m *Master) Workers() int { return m.workers }

// Submit enqueues a task as a raptor request. Returns an error if the
// task's mode is not one of the function-task family (spec.md §4.9).
func (m *Master) Submit(task *types.Task) error {
	if !task.Description.Mode.IsRaptorFunction() {
		return rpcerrors.Config(fmt.Errorf("task %s has mode %s, not a raptor function task", task.UID, task.Description.Mode))
	}
	req := &types.RaptorRequest{
		TaskUID:  task.UID,
		RaptorID: m.uid,
		Mode:     task.Description.Mode,
	}
	m.submitted.Store(task.UID, time.Now())
	if err := m.queue.Put(m.requestQueue, types.Message{Request: req}); err != nil {
		m.submitted.Delete(task.UID)
		return rpcerrors.Transport("raptor", fmt.Errorf("submit request for task %s: %w", task.UID, err))
	}
	metrics.RaptorRequestsTotal.WithLabelValues(m.uid).Inc()
	return nil
}

// Start begins the master's result-fan-in loop: every RaptorResult a
// worker delivers on the response queue is handed to onResult.
func (m *Master) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.listen(ctx)
	return nil
}

func (m *Master) listen(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for {
				msg, ok := m.queue.Get(m.responseQueue)
				if !ok {
					break
				}
				if msg.Result == nil {
					continue
				}
				if queued, ok := m.submitted.LoadAndDelete(msg.Result.TaskUID); ok {
					metrics.RaptorResultDuration.Observe(time.Since(queued.(time.Time)).Seconds())
				}
				if m.onResult != nil {
					m.onResult(msg.Result)
				}
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the result-fan-in loop.
func (m *Master) Stop() error {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
	return nil
}
