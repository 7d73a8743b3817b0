// Package engine implements the per-collection synchronizers: the protocol
// for reconciling one collection against the remote store.
//
// Every synchronizer follows the same state machine per sync attempt:
//
//  1. Decide whether to fetch: compare the collection's server-side
//     last-modified time against the local watermark
//  2. Fetch records modified since the watermark
//  3. Wipe local state first when this is a fresh start (watermark zero)
//  4. Apply fetched records; the first failure aborts the phase and the
//     watermark is NOT advanced, so the next sync retries from the same
//     point (application is idempotent, so at-least-once is safe)
//  5. Advance the watermark to the batch's server-reported modified time
//  6. Upload local state unconditionally, whether or not a fetch happened
//
// The tabs synchronizer is the fully specified instance; clients adds
// command delivery, and history/logins run the same template over the
// generic record cache.
package engine

import (
	"context"
	"fmt"

	"github.com/yonngwoo/weave/internal/auth"
)

// State is the terminal state of one sync attempt.
type State int

const (
	// StateNotStarted means the attempt was rejected before any side
	// effects were performed.
	StateNotStarted State = iota
	// StateCompleted is terminal success.
	StateCompleted
	// StateFailed means the attempt started but did not complete; the
	// watermark was not advanced and the next attempt retries.
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason explains why an attempt was not started.
type Reason int

const (
	// ReasonNone is the zero reason carried by started attempts.
	ReasonNone Reason = iota
	// ReasonNoAccount means no account is configured.
	ReasonNoAccount
	// ReasonAlreadySyncing means another sync holds the global lock.
	ReasonAlreadySyncing
	// ReasonRemoteNotReady means the remote end could not be driven to
	// a ready state.
	ReasonRemoteNotReady
)

// String returns a human-readable representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoAccount:
		return "no account"
	case ReasonAlreadySyncing:
		return "already syncing"
	case ReasonRemoteNotReady:
		return "remote not ready"
	default:
		return "unknown"
	}
}

// Status is the outcome of one collection's sync attempt.
type Status struct {
	State  State
	Reason Reason
	Err    error
}

// NotStarted builds a rejected status. No side effects were performed.
func NotStarted(r Reason) Status {
	return Status{State: StateNotStarted, Reason: r}
}

// Completed builds a successful status.
func Completed() Status {
	return Status{State: StateCompleted}
}

// Failed builds a failed status carrying the first failure encountered.
func Failed(err error) Status {
	return Status{State: StateFailed, Err: err}
}

// Ok reports whether the attempt completed successfully.
func (s Status) Ok() bool {
	return s.State == StateCompleted
}

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s.State {
	case StateNotStarted:
		return fmt.Sprintf("not started (%s)", s.Reason)
	case StateFailed:
		return fmt.Sprintf("failed: %v", s.Err)
	default:
		return s.State.String()
	}
}

// Synchronizer reconciles one collection against the remote store using a
// shared ready session.
type Synchronizer interface {
	// Collection returns the collection name this synchronizer owns.
	Collection() string

	// Sync runs one attempt against the given session.
	Sync(ctx context.Context, sess *auth.Session) Status
}
