// Package cloudlock runs a single long-lived child process on exactly one node of a fleet.
// Nodes coordinate through one lease [Record] held in a shared [Store]
// that supports conditional writes.
// A [Renewer] acquires, renews, or takes over the lease
// and publishes an immutable [Snapshot] of what it holds;
// a [Supervisor] starts and stops the child process according to that snapshot.
// [Node] runs the two together.
package cloudlock

import (
	"context"
	"errors"
	"time"
)

// Record is the lease record persisted in a [Store], one per label.
type Record struct {
	Label  string    // partition key naming the guarded resource
	Holder string    // identity of the node believed to own the lease
	Start  time.Time // when Holder first acquired the lease; preserved across its renewals
	Expire time.Time // advanced on every successful write

	// Version is an opaque token regenerated on every successful write.
	// It is the fencing value for conditional writes.
	Version string
}

// Expired tells whether the record's expiry is strictly before now.
func (r *Record) Expired(now time.Time) bool {
	return r.Expire.Before(now)
}

// MustNotExist is the expected version passed to [Store.Put]
// when the write must only succeed if no record exists yet.
const MustNotExist = ""

// Store is the type of a lease record store.
// All operations must be linearizable from the store's perspective.
type Store interface {
	// Get returns the current record for the label.
	// If there is none, it returns an error wrapping [ErrNotFound].
	Get(ctx context.Context, label string) (*Record, error)

	// Put writes rec under rec.Label,
	// but only if the stored record's version equals expected,
	// or expected is [MustNotExist] and there is no stored record.
	// Otherwise it returns an error wrapping [ErrConflict] and writes nothing.
	Put(ctx context.Context, rec Record, expected string) error
}

var (
	// ErrNotFound is the error returned by [Store.Get] when no record exists for a label.
	ErrNotFound = errors.New("lease record not found")

	// ErrConflict is the error returned by [Store.Put] when the expected version does not match.
	ErrConflict = errors.New("lease record version conflict")
)
