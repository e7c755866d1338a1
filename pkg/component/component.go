package component

import "context"

// Component is anything the Manager supervises: a scheduler, an
// executor, a staging pipeline half, a raptor master. Start must not
// block — long-running work belongs in a goroutine Start launches.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
