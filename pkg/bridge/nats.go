package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rpilot/pilot/pkg/rpcerrors"
	"github.com/rpilot/pilot/pkg/types"
	"golang.org/x/time/rate"
)

// NATS is a cross-process/cross-node PubSub and Queue backed by a
// NATS connection. Queue semantics (single delivery per Get caller)
// are implemented with NATS queue groups, all sharing the group name
// "rpilot" so multiple Get callers on the same queue name load-balance
// the way sub-agent executors or raptor workers would.
type NATS struct {
	conn    *nats.Conn
	limiter *rate.Limiter

	mu      sync.Mutex
	subs    map[string]*nats.Subscription
	pending map[string]chan types.Message
}

// maxPublishRetries bounds how many times Publish retries a failed send.
const maxPublishRetries = 3

// DialNATS connects to url, rate-limiting publish retries to at most
// one attempt per 250ms so a flapping transport doesn't spin.
func DialNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		return nil, rpcerrors.Transport(url, fmt.Errorf("connect: %w", err))
	}
	return &NATS{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Every(250_000_000), 1), // 1 per 250ms, burst 1
		subs:    make(map[string]*nats.Subscription),
	}, nil
}

func (n *NATS) Publish(topic string, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return rpcerrors.Transport(topic, fmt.Errorf("encode message: %w", err))
	}
	err = n.conn.Publish(topic, data)
	for attempt := 0; err != nil && attempt < maxPublishRetries; attempt++ {
		_ = n.limiter.Wait(context.Background())
		err = n.conn.Publish(topic, data)
	}
	if err != nil {
		return rpcerrors.Transport(topic, fmt.Errorf("publish: %w", err))
	}
	return nil
}

func (n *NATS) Subscribe(topic string) (<-chan types.Message, func()) {
	out := make(chan types.Message, subscriberBuffer)
	sub, err := n.conn.Subscribe(topic, func(m *nats.Msg) {
		var msg types.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		select {
		case out <- msg:
		default:
		}
	})
	unsubscribe := func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		close(out)
	}
	if err != nil {
		close(out)
		return out, func() {}
	}
	return out, unsubscribe
}

// Put publishes msg to name's queue group so exactly one Get-side
// subscriber (across possibly many processes) receives it.
func (n *NATS) Put(name string, msg types.Message) error {
	return n.Publish(name, msg)
}

// Get registers (once per name) a queue-group subscription and
// returns the next buffered message, non-blocking, mirroring the
// Local backend's polling Get semantics.
func (n *NATS) Get(name string) (types.Message, bool) {
	n.mu.Lock()
	_, exists := n.subs[name]
	n.mu.Unlock()

	if !exists {
		n.ensureQueueSub(name)
	}

	n.mu.Lock()
	ch, ok := n.pending[name]
	n.mu.Unlock()
	if !ok {
		return types.Message{}, false
	}

	select {
	case msg := <-ch:
		return msg, true
	default:
		return types.Message{}, false
	}
}

func (n *NATS) ensureQueueSub(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[name]; ok {
		return
	}
	if n.pending == nil {
		n.pending = make(map[string]chan types.Message)
	}
	ch := make(chan types.Message, subscriberBuffer)
	n.pending[name] = ch

	sub, err := n.conn.QueueSubscribe(name, "rpilot", func(m *nats.Msg) {
		var msg types.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		select {
		case ch <- msg:
		default:
		}
	})
	if err == nil {
		n.subs[name] = sub
	}
}

func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		_ = sub.Unsubscribe()
	}
	n.conn.Close()
	return nil
}
