package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by Checkpoint once a run is cancelled.
var ErrCancelled = errors.New("sync cancelled")

// Control carries pause, resume and cancel requests into a running sync.
// The run polls it at page and candidate boundaries; in-flight requests are
// never interrupted. A nil *Control never pauses or cancels.
type Control struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	wake      chan struct{}
}

func NewControl() *Control {
	return &Control{}
}

// Pause asks the run to stop at its next checkpoint until Resume. It
// returns false when the run is already cancelled.
func (c *Control) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return false
	}
	if !c.paused {
		c.paused = true
		c.wake = make(chan struct{})
	}
	return true
}

func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release()
}

// Cancel stops the run at its next checkpoint. A paused run wakes up and
// stops.
func (c *Control) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	c.release()
}

func (c *Control) release() {
	if c.paused {
		c.paused = false
		close(c.wake)
	}
}

func (c *Control) Paused() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Control) Cancelled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Checkpoint blocks while the run is paused. It returns ErrCancelled once
// the run is cancelled, or the context error if ctx ends while waiting.
func (c *Control) Checkpoint(ctx context.Context) error {
	if c == nil {
		return nil
	}
	for {
		c.mu.Lock()
		if c.cancelled {
			c.mu.Unlock()
			return ErrCancelled
		}
		if !c.paused {
			c.mu.Unlock()
			return nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}
