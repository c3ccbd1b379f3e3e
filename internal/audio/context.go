package audio

import (
	"sync"
	"time"
)

// DefaultFrameRate is the spectrum publish cadence.
const DefaultFrameRate = 60

// Context is the long-lived audio-processing graph: one analyser whose
// upstream source (microphone or clip) is swapped, never rebuilt.
type Context struct {
	analyser *Analyser
	interval time.Duration

	mu       sync.Mutex
	upstream uint64
}

// NewContext builds a context that publishes frameRate spectra per second.
func NewContext(frameRate int) *Context {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &Context{
		analyser: NewAnalyser(),
		interval: time.Second / time.Duration(frameRate),
	}
}

// FrameInterval is the time between spectrum samples.
func (c *Context) FrameInterval() time.Duration {
	return c.interval
}

// Connect makes a new source the analyser's upstream and returns its token.
// Samples fed with an older token are dropped.
func (c *Context) Connect() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstream++
	c.analyser.Reset()
	return c.upstream
}

// Feed writes mono samples when token is still the connected upstream.
func (c *Context) Feed(token uint64, samples []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.upstream {
		return false
	}
	c.analyser.Write(samples)
	return true
}

// Frame samples the spectrum for token; ok is false once token was replaced.
func (c *Context) Frame(token uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.upstream {
		return nil, false
	}
	return c.analyser.Frame(), true
}
