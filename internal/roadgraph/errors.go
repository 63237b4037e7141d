package roadgraph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// QueryError reports a remote store failure (bad SQL, connection refused,
// scan failure). Recoverable per trajectory: the current analysis aborts,
// other trajectories in a batch are unaffected.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("road graph query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// QueryTimeoutError reports a remote call that exceeded its wall-clock
// budget. Recoverable per trajectory; for chain traversal the caller treats
// it as a degraded partial result rather than a failure.
type QueryTimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *QueryTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("road graph query %s exceeded %s budget", e.Op, e.Timeout)
	}
	return fmt.Sprintf("road graph query %s timed out", e.Op)
}

func (e *QueryTimeoutError) Unwrap() error { return e.Err }

// classifyErr maps a raw store error to the taxonomy. Caller cancellation is
// passed through untouched so the pipeline can distinguish an aborted
// analysis from a slow store.
func classifyErr(ctx context.Context, op string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &QueryTimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	return &QueryError{Op: op, Err: err}
}
