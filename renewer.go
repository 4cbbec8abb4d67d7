package cloudlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bobg/errors"
	"github.com/google/uuid"
)

// Renewer periodically acquires, renews, or takes over the lease for Label
// and publishes the result as a [Snapshot].
// It is the only writer of its snapshot.
type Renewer struct {
	Store  Store
	Label  string        // lease record to contend for
	Holder string        // this node's identity
	Dur    time.Duration // how long each write extends the lease
	Period time.Duration // how often to run a pass

	// Guard, if set, vetoes a pass when the local clock cannot be trusted.
	Guard *SkewGuard

	Clock   Clock
	Logger  *slog.Logger
	Metrics *Metrics

	snap atomic.Pointer[Snapshot]
}

// Snapshot returns the lease as of the most recent pass,
// or nil if this node does not hold it.
func (r *Renewer) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Run runs a pass immediately and then every r.Period until the context is canceled.
// Failed passes are logged and leave the snapshot cleared; they do not stop the loop.
func (r *Renewer) Run(ctx context.Context) error {
	var (
		clock  = clockOrDefault(r.Clock)
		logger = r.logger()
	)

	defer r.snap.Store(nil)

	for {
		if err := r.Pass(ctx); err != nil {
			var heldErr *HeldError
			switch {
			case errors.As(err, &heldErr):
				logger.Info("lease held by another node", "holder", heldErr.Holder, "expires", heldErr.Expire)
			case errors.Is(err, ErrConflict):
				logger.Info("lost lease write race", "error", err)
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				logger.Warn("lease pass failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-clock.After(r.Period):
		}
	}
}

// Pass runs the lease protocol once.
// On success the new snapshot is published and Pass returns nil.
// Otherwise the snapshot is cleared and the error says why:
// a [*SkewError] or oracle failure, a store failure,
// a [*HeldError] if another node holds an unexpired lease,
// or an error wrapping [ErrConflict] if a concurrent writer won.
// Pass never retries; the next pass re-reads the record.
func (r *Renewer) Pass(ctx context.Context) error {
	result, err := r.pass(ctx)
	if err != nil {
		r.snap.Store(nil)
	}
	r.Metrics.pass(result, err == nil)
	return err
}

func (r *Renewer) pass(ctx context.Context) (string, error) {
	if r.Guard != nil {
		if _, err := r.Guard.Check(ctx); err != nil {
			return resultSkew, errors.Wrap(err, "checking clock skew")
		}
	}

	cur, err := r.Store.Get(ctx, r.Label)
	if errors.Is(err, ErrNotFound) {
		cur = nil
	} else if err != nil {
		return resultError, errors.Wrapf(err, "reading lease %s", r.Label)
	}

	now := nowMillis(clockOrDefault(r.Clock))
	logger := r.logger()

	next := Record{
		Label:   r.Label,
		Holder:  r.Holder,
		Start:   now,
		Expire:  now.Add(r.Dur),
		Version: uuid.NewString(),
	}

	var (
		expected = MustNotExist
		result   = resultAcquired
	)

	if cur != nil {
		logger.Debug("existing lease", "holder", cur.Holder, "lease", (&Snapshot{Start: cur.Start, Expire: cur.Expire}).Describe(now))

		expected = cur.Version

		switch {
		case cur.Holder == r.Holder:
			next.Start = cur.Start
			result = resultRenewed

		case cur.Expired(now):
			logger.Info("attempting lease takeover", "from", cur.Holder, "expired", cur.Expire)
			result = resultTakeover

		default:
			return resultHeld, &HeldError{Holder: cur.Holder, Expire: cur.Expire}
		}
	}

	if err := r.Store.Put(ctx, next, expected); err != nil {
		if errors.Is(err, ErrConflict) {
			return resultConflict, errors.Wrapf(err, "writing lease %s", r.Label)
		}
		return resultError, errors.Wrapf(err, "writing lease %s", r.Label)
	}

	snap := &Snapshot{Start: next.Start, Expire: next.Expire}
	r.snap.Store(snap)

	logger.Info("lease written", "result", result, "lease", snap.Describe(now))

	return result, nil
}

func (r *Renewer) logger() *slog.Logger {
	return loggerOrDefault(r.Logger).With("label", r.Label, "holder", r.Holder)
}

// ErrHeld is wrapped by [HeldError].
var ErrHeld = errors.New("lease held by another node")

// HeldError is the error returned by [Renewer.Pass]
// when another node holds an unexpired lease.
type HeldError struct {
	Holder string
	Expire time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s: %s until %s", ErrHeld, e.Holder, e.Expire.Format(time.RFC3339))
}

func (e *HeldError) Unwrap() error { return ErrHeld }
