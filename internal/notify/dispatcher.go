package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultTaskTimeout = 30 * time.Second

// Dispatcher runs side effects in the background. A task's failure is
// logged and reported to the observer but never reaches the caller, whose
// primary operation has already succeeded.
type Dispatcher struct {
	wg      sync.WaitGroup
	timeout time.Duration
	observe func(task string, err error)
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Dispatcher{timeout: timeout}
}

// Observe registers a hook called with every task outcome.
func (d *Dispatcher) Observe(fn func(task string, err error)) {
	d.observe = fn
}

// Go starts fn with its own timeout, detached from any request context.
func (d *Dispatcher) Go(task, agentID string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := fn(ctx)
		if err != nil {
			log.Warn().Err(err).Str("task", task).Str("agent_id", agentID).Msg("side effect failed")
		} else {
			log.Debug().Str("task", task).Str("agent_id", agentID).Msg("side effect done")
		}
		if d.observe != nil {
			d.observe(task, err)
		}
	}()
}

// Wait blocks until every started task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
