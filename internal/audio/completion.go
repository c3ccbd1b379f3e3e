package audio

import (
	"context"
	"sync"
)

// Completion is the single-fire end signal for one clip. Exactly one of Done
// or Abandoned closes.
type Completion struct {
	once      sync.Once
	done      chan struct{}
	abandoned chan struct{}
}

func newCompletion() *Completion {
	return &Completion{
		done:      make(chan struct{}),
		abandoned: make(chan struct{}),
	}
}

// Done closes when the clip played to its natural end.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Abandoned closes when a newer clip or a stop superseded this one.
func (c *Completion) Abandoned() <-chan struct{} {
	return c.abandoned
}

// Wait blocks until the clip ends, is abandoned, or ctx is cancelled.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-c.abandoned:
		return ErrPlaybackAbandoned
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Completion) resolve() {
	c.once.Do(func() { close(c.done) })
}

func (c *Completion) abandon() {
	c.once.Do(func() { close(c.abandoned) })
}
