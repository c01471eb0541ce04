// Package poll waits for a condition by checking it at a fixed interval.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeadline is returned when the condition did not hold within maxWait
var ErrDeadline = errors.New("condition not met before deadline")

// Condition reports whether the wait is over. A non-nil error aborts the wait.
type Condition func(ctx context.Context) (bool, error)

// Until checks cond immediately and then every interval until it holds,
// cond fails, ctx is cancelled or maxWait elapses. A non-positive maxWait
// waits for as long as ctx allows.
func Until(ctx context.Context, interval, maxWait time.Duration, cond Condition) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}

	var deadline <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w after %s", ErrDeadline, maxWait)
		case <-ticker.C:
		}
	}
}

// Future is the pending outcome of a wait started with Start
type Future struct {
	done chan struct{}
	err  error
}

// Start runs Until in a goroutine. Cancel ctx to abandon the wait.
func Start(ctx context.Context, interval, maxWait time.Duration, cond Condition) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.err = Until(ctx, interval, maxWait, cond)
	}()
	return f
}

// Done is closed once the wait has finished
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the wait finishes and returns its outcome
func (f *Future) Wait() error {
	<-f.done
	return f.err
}
