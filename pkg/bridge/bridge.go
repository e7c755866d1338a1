package bridge

import "github.com/rpilot/pilot/pkg/types"

// PubSub is the control/state bus: components publish Messages on a
// named topic and every subscriber gets a copy (broadcast).
type PubSub interface {
	Publish(topic string, msg types.Message) error
	// Subscribe returns a channel of messages for topic and an
	// unsubscribe func the caller must invoke when done.
	Subscribe(topic string) (<-chan types.Message, func())
	Close() error
}

// Queue is a point-to-point handoff: each message delivered to Get is
// consumed by exactly one caller, even with multiple Get callers
// (used for the raptor request/response queues; pipeline stages hand
// tasks to each other over the STATE pub/sub instead).
type Queue interface {
	Put(name string, msg types.Message) error
	Get(name string) (types.Message, bool)
	Close() error
}
