package mailbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rpilot/pilot/pkg/log"
	"github.com/rpilot/pilot/pkg/metrics"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
	"github.com/rs/zerolog"
)

var (
	bucketPilots = []byte("pilots")
	bucketTasks  = []byte("tasks")
)

// Bolt is the reference Mailbox implementation backed by a local bolt
// file, for single-node deployments and for tests. A real multi-host
// deployment would satisfy the same interface against whatever document
// store the site actually runs (spec.md §9).
type Bolt struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// OpenBolt opens (creating if needed) a bolt-backed mailbox at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("create mailbox dir: %w", err))
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("open mailbox db: %w", err))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPilots); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTasks)
		return err
	})
	if err != nil {
		return nil, rpcerrors.Config(fmt.Errorf("create mailbox buckets: %w", err))
	}
	return &Bolt{db: db, logger: log.WithComponent("mailbox")}, nil
}

// ClaimPendingTasks implements Mailbox. The scan-modify-write happens
// inside one bolt.Update transaction, so two pollers racing against the
// same db never both flip the same task to "agent" (spec.md §4.8).
func (b *Bolt) ClaimPendingTasks(pilotUID string, limit int) ([]*types.Task, error) {
	var claimed []*types.Task
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketTasks)
		return bkt.ForEach(func(k, v []byte) error {
			if limit > 0 && len(claimed) >= limit {
				return nil
			}
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("decode task %s: %w", k, err)
			}
			if task.PilotID != pilotUID || task.Control != types.ControlAgentPending {
				return nil
			}
			task.Control = types.ControlAgent
			data, err := json.Marshal(task)
			if err != nil {
				return fmt.Errorf("encode task %s: %w", task.UID, err)
			}
			if err := bkt.Put([]byte(task.UID), data); err != nil {
				return err
			}
			claimed = append(claimed, &task)
			return nil
		})
	})
	if err != nil {
		return nil, rpcerrors.Transport("mailbox", fmt.Errorf("claim pending tasks: %w", err))
	}
	metrics.MailboxTasksClaimedTotal.Add(float64(len(claimed)))
	return claimed, nil
}

// DrainCommands implements Mailbox: find-and-set-empty inside one
// transaction (spec.md §6).
func (b *Bolt) DrainCommands(pilotUID string) ([]types.ControlMessage, error) {
	var cmds []types.ControlMessage
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketPilots)
		v := bkt.Get([]byte(pilotUID))
		if v == nil {
			return fmt.Errorf("pilot %s not found", pilotUID)
		}
		var pilot types.Pilot
		if err := json.Unmarshal(v, &pilot); err != nil {
			return fmt.Errorf("decode pilot: %w", err)
		}
		cmds = pilot.Commands
		pilot.Commands = nil
		data, err := json.Marshal(pilot)
		if err != nil {
			return fmt.Errorf("encode pilot: %w", err)
		}
		return bkt.Put([]byte(pilotUID), data)
	})
	if err != nil {
		return nil, rpcerrors.Transport("mailbox", fmt.Errorf("drain commands: %w", err))
	}
	return cmds, nil
}

// AppendCommand implements Mailbox, for tests simulating the client
// side of the command channel.
func (b *Bolt) AppendCommand(pilotUID string, cmd types.ControlMessage) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketPilots)
		v := bkt.Get([]byte(pilotUID))
		if v == nil {
			return fmt.Errorf("pilot %s not found", pilotUID)
		}
		var pilot types.Pilot
		if err := json.Unmarshal(v, &pilot); err != nil {
			return fmt.Errorf("decode pilot: %w", err)
		}
		pilot.Commands = append(pilot.Commands, cmd)
		data, err := json.Marshal(pilot)
		if err != nil {
			return fmt.Errorf("encode pilot: %w", err)
		}
		return bkt.Put([]byte(pilotUID), data)
	})
	if err != nil {
		return rpcerrors.Transport("mailbox", fmt.Errorf("append command: %w", err))
	}
	return nil
}

// UpdatePilotMeta implements Mailbox.
func (b *Bolt) UpdatePilotMeta(pilot *types.Pilot) error {
	return b.PutPilot(pilot)
}

// PublishFinalState implements Mailbox.
func (b *Bolt) PublishFinalState(task *types.Task) error {
	return b.PutTask(task)
}

// GetPilot implements Mailbox.
func (b *Bolt) GetPilot(pilotUID string) (*types.Pilot, error) {
	var pilot types.Pilot
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPilots).Get([]byte(pilotUID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &pilot)
	})
	if err != nil {
		return nil, rpcerrors.Transport("mailbox", fmt.Errorf("get pilot: %w", err))
	}
	if !found {
		return nil, rpcerrors.Config(fmt.Errorf("pilot %s not found", pilotUID))
	}
	return &pilot, nil
}

// PutPilot implements Mailbox.
func (b *Bolt) PutPilot(pilot *types.Pilot) error {
	data, err := json.Marshal(pilot)
	if err != nil {
		return rpcerrors.Config(fmt.Errorf("encode pilot: %w", err))
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPilots).Put([]byte(pilot.UID), data)
	})
	if err != nil {
		return rpcerrors.Transport("mailbox", fmt.Errorf("put pilot: %w", err))
	}
	return nil
}

// GetTask implements Mailbox.
func (b *Bolt) GetTask(taskUID string) (*types.Task, error) {
	var task types.Task
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTasks).Get([]byte(taskUID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &task)
	})
	if err != nil {
		return nil, rpcerrors.Transport("mailbox", fmt.Errorf("get task: %w", err))
	}
	if !found {
		return nil, rpcerrors.Config(fmt.Errorf("task %s not found", taskUID))
	}
	return &task, nil
}

// PutTask implements Mailbox.
func (b *Bolt) PutTask(task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return rpcerrors.Config(fmt.Errorf("encode task: %w", err))
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte(task.UID), data)
	})
	if err != nil {
		return rpcerrors.Transport("mailbox", fmt.Errorf("put task: %w", err))
	}
	return nil
}

// Close implements Mailbox.
func (b *Bolt) Close() error {
	return b.db.Close()
}
