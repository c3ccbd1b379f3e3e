package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/rebuttal/internal/audio"
	"github.com/rbright/rebuttal/internal/fsm"
	"github.com/rbright/rebuttal/internal/state"
)

const unsupportedMessage = "Speech recognition is not available. Configure asr.provider to enable recording."

// Microphone is the audio pipeline surface recognition needs.
type Microphone interface {
	StartMicrophoneAnalysis(ctx context.Context) (*audio.MicrophoneHandle, error)
	FrameInterval() time.Duration
}

// Store is the session state surface recognition writes.
type Store interface {
	SetRecording(bool)
	SetAudioFrame([]byte)
	AppendMessage(state.Role, string) state.Message
}

// Sink receives non-empty final transcripts.
type Sink interface {
	SendTranscript(text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(string)

func (f SinkFunc) SendTranscript(text string) {
	f(text)
}

type run struct {
	id       uint64
	ctx      context.Context
	cancel   context.CancelFunc
	handle   *audio.MicrophoneHandle
	session  Session
	noSpeech *time.Timer
	cleanup  sync.Once
}

// Controller drives one recognition session at a time through the fsm.
type Controller struct {
	logger     *slog.Logger
	recognizer Recognizer
	mic        Microphone
	store      Store
	sink       Sink
	cfg        Config

	mu                 sync.Mutex
	state              fsm.State
	runs               uint64
	active             *run
	unsupportedNoticed bool
}

// NewController wires a controller. A nil recognizer means the platform has
// no speech recognition and Start always fails.
func NewController(logger *slog.Logger, recognizer Recognizer, mic Microphone, store Store, sink Sink, cfg Config) *Controller {
	if sink == nil {
		sink = SinkFunc(func(string) {})
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.CaptureSampleRate
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	return &Controller{
		logger:     logger,
		recognizer: recognizer,
		mic:        mic,
		store:      store,
		sink:       sink,
		cfg:        cfg,
		state:      fsm.StateIdle,
	}
}

// State returns the current fsm state.
func (c *Controller) State() fsm.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Supported reports whether a recogniser is configured.
func (c *Controller) Supported() bool {
	return c.recognizer != nil
}

// Start opens the microphone and a recognition session. Only valid from Idle.
func (c *Controller) Start(ctx context.Context) error {
	if c.recognizer == nil {
		c.mu.Lock()
		first := !c.unsupportedNoticed
		c.unsupportedNoticed = true
		c.mu.Unlock()
		if first {
			c.store.AppendMessage(state.RoleSystem, unsupportedMessage)
		}
		return ErrUnsupportedPlatform
	}

	c.mu.Lock()
	next, err := fsm.Transition(c.state, fsm.EventStart)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start recognition: %w", err)
	}
	c.state = next
	c.runs++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{id: c.runs, ctx: runCtx, cancel: cancel}
	c.active = r
	c.mu.Unlock()

	handle, err := c.mic.StartMicrophoneAnalysis(runCtx)
	if err != nil {
		c.fail(r, CodeFor(err))
		c.finish(r)
		return err
	}
	if !c.attach(r, func() { r.handle = handle }) {
		_ = handle.Stop()
		return ErrUserAborted
	}

	session, err := c.recognizer.Start(runCtx, c.cfg, handle.PCM())
	if err != nil {
		c.fail(r, CodeFor(err))
		c.finish(r)
		return err
	}
	if !c.attach(r, func() { r.session = session }) {
		_ = session.Stop()
		return ErrUserAborted
	}

	c.logDebug("recognition session opened", "run", r.id)
	go c.watch(r)
	return nil
}

// Stop asks the listening session to end. Cleanup still happens on its end event.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != fsm.StateListening || c.active == nil || c.active.session == nil {
		c.mu.Unlock()
		return ErrNotListening
	}
	session := c.active.session
	c.mu.Unlock()
	return session.Stop()
}

// Cancel ends any session synchronously. Later events from it are ignored.
func (c *Controller) Cancel() {
	c.mu.Lock()
	r := c.active
	var session Session
	if r != nil {
		session = r.session
	}
	c.mu.Unlock()

	if r == nil {
		return
	}
	if session != nil {
		_ = session.Stop()
	}
	c.finish(r)
}

// attach records a resource on r unless r was already cleaned up.
func (c *Controller) attach(r *run, set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r {
		return false
	}
	set()
	return true
}

func (c *Controller) watch(r *run) {
	ticker := time.NewTicker(c.mic.FrameInterval())
	defer ticker.Stop()

	events := r.session.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.finish(r)
				return
			}
			switch ev.Kind {
			case EventStart:
				c.onStart(r)
			case EventResult:
				c.onResult(r, ev.Transcript)
			case EventError:
				c.fail(r, ev.Code)
			case EventEnd:
				c.finish(r)
				return
			}
		case <-ticker.C:
			c.publishFrame(r)
		}
	}
}

func (c *Controller) onStart(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r {
		return
	}
	next, err := fsm.Transition(c.state, fsm.EventStarted)
	if err != nil {
		c.logDebug("ignored start event", "error", err)
		return
	}
	c.state = next
	c.store.SetRecording(true)

	if c.cfg.NoSpeechTimeout > 0 {
		r.noSpeech = time.AfterFunc(c.cfg.NoSpeechTimeout, func() {
			if c.fail(r, CodeNoSpeech) {
				c.Cancel()
			}
		})
	}
}

func (c *Controller) onResult(r *run, transcript string) {
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return
	}
	next, err := fsm.Transition(c.state, fsm.EventResult)
	if err != nil {
		c.mu.Unlock()
		c.logDebug("ignored result event", "error", err)
		return
	}
	c.state = next
	if r.noSpeech != nil {
		r.noSpeech.Stop()
	}
	c.mu.Unlock()

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		c.logDebug("empty transcript dropped", "run", r.id)
		return
	}
	c.sink.SendTranscript(transcript)
}

// fail moves r to Failed and surfaces the user message once.
func (c *Controller) fail(r *run, code Code) bool {
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return false
	}
	next, err := fsm.Transition(c.state, fsm.EventError)
	if err != nil {
		c.mu.Unlock()
		c.logDebug("ignored error event", "code", string(code), "error", err)
		return false
	}
	c.state = next
	if r.noSpeech != nil {
		r.noSpeech.Stop()
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Warn("speech recognition failed", "run", r.id, "code", string(code))
	}
	if msg, ok := UserMessage(code); ok {
		c.store.AppendMessage(state.RoleSystem, msg)
	}
	return true
}

// finish tears r down exactly once and returns the controller to Idle.
func (c *Controller) finish(r *run) {
	r.cleanup.Do(func() {
		c.mu.Lock()
		handle := r.handle
		if r.noSpeech != nil {
			r.noSpeech.Stop()
		}
		if c.active == r {
			c.active = nil
			next, err := fsm.Transition(c.state, fsm.EventEnd)
			if err == nil {
				next, err = fsm.Transition(next, fsm.EventReset)
			}
			if err != nil {
				c.logDebug("forcing idle after cleanup", "state", string(c.state), "error", err)
			}
			c.state = fsm.StateIdle
			c.store.SetAudioFrame(nil)
			c.store.SetRecording(false)
		}
		c.mu.Unlock()

		if handle != nil {
			_ = handle.Stop()
		}
		r.cancel()
		c.logDebug("recognition session closed", "run", r.id)
	})
}

func (c *Controller) publishFrame(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r || c.state != fsm.StateListening || r.handle == nil {
		return
	}
	frame, ok := r.handle.Poll()
	if !ok {
		return
	}
	c.store.SetAudioFrame(frame)
}

func (c *Controller) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
