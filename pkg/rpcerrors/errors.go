// Package rpcerrors defines the fixed error-kind vocabulary of spec.md §7,
// so callers can switch on Kind instead of matching error strings.
package rpcerrors

import "fmt"

// Kind is one of the seven error categories named in spec.md §7.
type Kind string

const (
	KindConfig    Kind = "ConfigError"
	KindStaging   Kind = "StagingError"
	KindResource  Kind = "ResourceError"
	KindLaunch    Kind = "LaunchError"
	KindTimeout   Kind = "TimeoutError"
	KindHeartbeat Kind = "HeartbeatLoss"
	KindTransport Kind = "TransportError"
)

// Error wraps an underlying cause with its spec.md §7 kind and the scope
// the error belongs to (a task uid, a component name, or "" for pilot-scope).
type Error struct {
	Kind  Kind
	Scope string
	Err   error
}

func (e *Error) Error() string {
	if e.Scope == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Scope, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, scope string, err error) *Error {
	return &Error{Kind: kind, Scope: scope, Err: err}
}

// Config wraps err as a ConfigError — fatal at startup (§7).
func Config(err error) *Error { return newErr(KindConfig, "", err) }

// Staging wraps err as a per-task StagingError (§7).
func Staging(taskUID string, err error) *Error { return newErr(KindStaging, taskUID, err) }

// Resource wraps err as a per-task ResourceError (§7).
func Resource(taskUID string, err error) *Error { return newErr(KindResource, taskUID, err) }

// Launch wraps err as a per-task LaunchError (§7).
func Launch(taskUID string, err error) *Error { return newErr(KindLaunch, taskUID, err) }

// Timeout wraps err as a pilot-scope TimeoutError (§7).
func Timeout(err error) *Error { return newErr(KindTimeout, "", err) }

// Heartbeat wraps err as a component-scope HeartbeatLoss (§7).
func Heartbeat(componentUID string, err error) *Error {
	return newErr(KindHeartbeat, componentUID, err)
}

// Transport wraps err as a TransportError on a named bridge (§7).
func Transport(bridge string, err error) *Error { return newErr(KindTransport, bridge, err) }

// Is reports whether err (or something it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
