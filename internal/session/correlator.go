package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

type commandOutcome struct {
	result models.CommandResult
	err    error
}

type pendingCommand struct {
	targetID string
	cmd      models.Command
	ch       chan commandOutcome
	timer    *time.Timer
	done     bool
}

// Correlator matches dispatched commands to a result stream that
// carries no command identifier. Correctness rests on a structural
// invariant: at most one command is outstanding per session, so the
// next result on the stream always belongs to it. Further commands
// queue and dispatch only once the current slot resolves, by result or
// timeout; the queue always advances.
type Correlator struct {
	dispatch func(targetID string, cmd models.Command) error
	timeout  time.Duration

	mu      sync.Mutex
	current *pendingCommand
	queue   []*pendingCommand
	closed  bool
}

// NewCorrelator creates a correlator dispatching through the given
// function, bounding each command's wait by timeout.
func NewCorrelator(dispatch func(targetID string, cmd models.Command) error, timeout time.Duration) *Correlator {
	return &Correlator{
		dispatch: dispatch,
		timeout:  timeout,
	}
}

// Do queues the command, dispatches it once it reaches the head of the
// queue, and waits for its outcome. A caller abandoning the wait via
// ctx does not release the slot early: the dispatched command still
// owns the next stream result until it resolves or times out.
func (c *Correlator) Do(ctx context.Context, targetID string, cmd models.Command) (models.CommandResult, error) {
	p := &pendingCommand{
		targetID: targetID,
		cmd:      cmd,
		ch:       make(chan commandOutcome, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.CommandResult{}, ErrCancelled
	}
	idle := c.current == nil
	if idle {
		c.current = p
	} else {
		c.queue = append(c.queue, p)
	}
	c.mu.Unlock()

	if idle {
		c.start(p)
	}

	select {
	case out := <-p.ch:
		return out.result, out.err
	case <-ctx.Done():
		return models.CommandResult{}, ctx.Err()
	}
}

// start dispatches the head command. Called without the lock held.
func (c *Correlator) start(p *pendingCommand) {
	c.mu.Lock()
	if p.done {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.dispatch(p.targetID, p.cmd); err != nil {
		c.finish(p, commandOutcome{
			result: models.CommandResult{Success: false, Error: err.Error()},
			err:    fmt.Errorf("dispatch command: %w", err),
		})
		return
	}

	c.mu.Lock()
	if !p.done {
		p.timer = time.AfterFunc(c.timeout, func() {
			c.expire(p)
		})
	}
	c.mu.Unlock()
}

// HandleResult consumes the next result from the shared stream and
// resolves the outstanding command.
func (c *Correlator) HandleResult(res models.CommandResult) {
	c.mu.Lock()
	p := c.current
	if p == nil || p.done {
		c.mu.Unlock()
		log.Debug().Msg("Dropping command result with no outstanding command")
		return
	}
	c.mu.Unlock()

	out := commandOutcome{result: res}
	if !res.Success {
		out.err = &CommandRejectedError{Code: res.Code}
	}
	c.finish(p, out)
}

func (c *Correlator) expire(p *pendingCommand) {
	c.finish(p, commandOutcome{
		result: models.CommandResult{Success: false, Error: ErrCommandTimeout.Error()},
		err:    ErrCommandTimeout,
	})
}

// finish resolves p exactly once and advances the queue
func (c *Correlator) finish(p *pendingCommand, out commandOutcome) {
	c.mu.Lock()
	if p.done {
		c.mu.Unlock()
		return
	}
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
	}

	var next *pendingCommand
	if c.current == p {
		c.current = nil
		if !c.closed && len(c.queue) > 0 {
			next = c.queue[0]
			c.queue = c.queue[1:]
			c.current = next
		}
	}
	c.mu.Unlock()

	p.ch <- out

	if next != nil {
		c.start(next)
	}
}

// Close fails the outstanding command and everything queued behind it
// with ErrCancelled.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := make([]*pendingCommand, 0, len(c.queue)+1)
	if c.current != nil && !c.current.done {
		pending = append(pending, c.current)
	}
	for _, p := range c.queue {
		pending = append(pending, p)
	}
	c.current = nil
	c.queue = nil
	for _, p := range pending {
		p.done = true
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.mu.Unlock()

	for _, p := range pending {
		p.ch <- commandOutcome{result: models.CommandResult{Success: false, Error: ErrCancelled.Error()}, err: ErrCancelled}
	}
}
