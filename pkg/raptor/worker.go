package raptor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpilot/pilot/pkg/bridge"
	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

// Exec runs one raptor request and returns its result. The function
// payload format itself (portable object encoding, `{func,args,kwargs}`
// envelope) is out of the core's scope (spec.md §1, §9) — Exec is
// supplied by whatever embeds this package and actually knows how to
// invoke the payload.
type Exec func(req *types.RaptorRequest) (*types.RaptorResult, error)

// Worker pulls RaptorRequests off a master's request queue and reports
// results back on its response queue (spec.md §4.9). One Worker
// corresponds to one RAPTOR_WORKER task spawned by the agent's normal
// executor; WorkerUID is that task's own uid, used only for logging.
type Worker struct {
	logger        zerolog.Logger
	queue         bridge.Queue
	requestQueue  string
	responseQueue string
	workerUID     string
	exec          Exec

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewWorker creates a Worker draining masterUID's request queue.
func NewWorker(queue bridge.Queue, masterUID, workerUID string, exec Exec) *Worker {
	req, resp := QueueNames(masterUID)
	return &Worker{
		logger:        log.WithComponent("raptor_worker").With().Str("worker_id", workerUID).Logger(),
		queue:         queue,
		requestQueue:  req,
		responseQueue: resp,
		workerUID:     workerUID,
		exec:          exec,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the worker's request-drain loop.
func (w *Worker) Start(ctx context.Context) error {
	w.wg.Add(1)
	go w.drain(ctx)
	return nil
}

func (w *Worker) drain(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			msg, ok := w.queue.Get(w.requestQueue)
			if !ok {
				continue
			}
			if msg.Request == nil {
				continue
			}
			w.handle(msg.Request)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) handle(req *types.RaptorRequest) {
	logger := w.logger.With().Str("task_id", req.TaskUID).Logger()

	result, err := w.exec(req)
	if err != nil {
		logger.Error().Err(err).Msg("raptor request execution failed")
		result = &types.RaptorResult{TaskUID: req.TaskUID, ExitCode: 1, Exception: err.Error()}
	}
	if result == nil {
		result = &types.RaptorResult{TaskUID: req.TaskUID, ExitCode: 0}
	}

	if err := w.queue.Put(w.responseQueue, types.Message{Result: result}); err != nil {
		logger.Error().Err(err).Msg("failed to deliver raptor result")
	}
}

// Stop halts the worker's drain loop.
func (w *Worker) Stop() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
	return nil
}

// NoopExec is the trivial Exec used when no real function-payload
// interpreter is wired: it reports success with an empty payload,
// matching the core's "transports but never interprets" stance
// (spec.md §1) for tests and example wiring.
func NoopExec(req *types.RaptorRequest) (*types.RaptorResult, error) {
	if req.TaskUID == "" {
		return nil, fmt.Errorf("raptor request missing task_uid")
	}
	return &types.RaptorResult{TaskUID: req.TaskUID, ExitCode: 0}, nil
}
