package bridge

import (
	"fmt"
	"sync"

	"github.com/rpilot/pilot/pkg/types"
)

// subscriberBuffer bounds how many undelivered messages a slow
// subscriber can pile up before Publish starts dropping for it —
// mirrors the teacher's per-subscriber channel buffer.
const subscriberBuffer = 64

// Local is an in-process PubSub and Queue backed by buffered Go
// channels, one set of subscriber channels per topic.
type Local struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan types.Message]bool
	queues      map[string][]types.Message
	closed      bool
}

// NewLocal creates an in-process bridge for same-process components.
func NewLocal() *Local {
	return &Local{
		subscribers: make(map[string]map[chan types.Message]bool),
		queues:      make(map[string][]types.Message),
	}
}

// Publish broadcasts msg to every current subscriber of topic. A full
// subscriber buffer means that subscriber misses the message rather
// than blocking the publisher.
func (l *Local) Publish(topic string, msg types.Message) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return fmt.Errorf("bridge: publish on closed local bridge")
	}
	for ch := range l.subscribers[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving every message published to
// topic from now on, and an unsubscribe func.
func (l *Local) Subscribe(topic string) (<-chan types.Message, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan types.Message, subscriberBuffer)
	if l.subscribers[topic] == nil {
		l.subscribers[topic] = make(map[chan types.Message]bool)
	}
	l.subscribers[topic][ch] = true

	unsubscribe := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if subs, ok := l.subscribers[topic]; ok {
			delete(subs, ch)
		}
		close(ch)
	}
	return ch, unsubscribe
}

// Put appends msg to the named queue (FIFO).
func (l *Local) Put(name string, msg types.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("bridge: put on closed local bridge")
	}
	l.queues[name] = append(l.queues[name], msg)
	return nil
}

// Get pops the oldest message from the named queue, if any.
func (l *Local) Get(name string) (types.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queues[name]
	if len(q) == 0 {
		return types.Message{}, false
	}
	msg := q[0]
	l.queues[name] = q[1:]
	return msg, true
}

// Close shuts down the bridge and all subscriber channels.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, subs := range l.subscribers {
		for ch := range subs {
			close(ch)
		}
	}
	l.subscribers = nil
	return nil
}
