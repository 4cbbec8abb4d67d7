package cloudlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bobg/errors"
)

// Oracle is an independent source of wall-clock time.
type Oracle interface {
	Now(context.Context) (time.Time, error)
}

// SkewGuard compares the local clock against an [Oracle]
// before any lease expiry judgment is trusted.
type SkewGuard struct {
	Oracle Oracle
	Warn   time.Duration // skew beyond this is logged
	Fail   time.Duration // skew beyond this makes the local clock untrusted; must exceed Warn

	Clock   Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// Check queries the oracle and returns the measured skew.
// The oracle's reading is compared with the midpoint of the local send and receive times,
// which cancels symmetric network latency.
//
// If the skew exceeds g.Fail, Check returns a [*SkewError].
// If the oracle cannot be reached, Check returns that error.
// In either case the caller must not acquire or renew the lease.
func (g *SkewGuard) Check(ctx context.Context) (time.Duration, error) {
	clock := clockOrDefault(g.Clock)

	send := clock.Now()
	ref, err := g.Oracle.Now(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "querying time oracle")
	}
	recv := clock.Now()

	mid := send.Add(recv.Sub(send) / 2)
	skew := ref.Sub(mid)
	if skew < 0 {
		skew = -skew
	}

	g.Metrics.skew(skew)

	switch {
	case skew > g.Fail:
		return skew, &SkewError{Skew: skew, Limit: g.Fail}

	case skew > g.Warn:
		loggerOrDefault(g.Logger).Warn("clock skew", "skew", skew, "warn", g.Warn, "fail", g.Fail)
	}

	return skew, nil
}

// ErrClockSkew is wrapped by [SkewError].
var ErrClockSkew = errors.New("clock skew too large")

// SkewError is the error returned by [SkewGuard.Check]
// when the local clock disagrees with the oracle by more than the failure threshold.
type SkewError struct {
	Skew, Limit time.Duration
}

func (e *SkewError) Error() string {
	return fmt.Sprintf("%s: %s exceeds %s", ErrClockSkew, e.Skew, e.Limit)
}

func (e *SkewError) Unwrap() error { return ErrClockSkew }

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
