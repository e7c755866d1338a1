package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// Command is one Raft log entry: an operation name plus its JSON
// payload, applied in order by every replica's fsm.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type putPayload struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type deletePayload struct {
	Key string `json:"key"`
}

// fsm implements raft.FSM over a flat string->[]byte map.
type fsm struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newFSM() *fsm {
	return &fsm{data: make(map[string][]byte)}
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "put":
		var p putPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		f.data[p.Key] = p.Value
		return nil

	case "delete":
		var p deletePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		delete(f.data, p.Key)
		return nil

	default:
		return fmt.Errorf("registry: unknown command %q", cmd.Op)
	}
}

func (f *fsm) get(key string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *fsm) listPrefix(prefix string) map[string][]byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range f.data {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			out[k] = v
		}
	}
	return out
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	copied := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		copied[k] = v
	}
	return &fsmSnapshot{data: copied}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var data map[string][]byte
	if err := json.NewDecoder(rc).Decode(&data); err != nil {
		return fmt.Errorf("decode registry snapshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = data
	return nil
}

type fsmSnapshot struct {
	data map[string][]byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.data); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
