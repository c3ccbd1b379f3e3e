package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/rebuttal/internal/logging"
)

// FrameSink receives spectrum samples; nil clears the current one.
type FrameSink interface {
	SetAudioFrame([]byte)
}

// Options wires a Pipeline to its devices.
type Options struct {
	Microphone Microphone
	Speaker    Speaker
	Frames     FrameSink
	Logger     *slog.Logger
	FrameRate  int
	DumpAudio  bool
}

// Pipeline routes microphone capture and clip playback through one lazily
// created Context, publishing spectra for whichever source is current.
type Pipeline struct {
	mic       Microphone
	speaker   Speaker
	frames    FrameSink
	logger    *slog.Logger
	frameRate int
	dumpAudio bool
	decode    func(string) (*Clip, error)

	ctxOnce sync.Once
	actx    *Context

	mu     sync.Mutex
	active *activeClip
}

type activeClip struct {
	clip       *Clip
	playback   Playback
	token      uint64
	completion *Completion
	stop       chan struct{}
}

func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		mic:       opts.Microphone,
		speaker:   opts.Speaker,
		frames:    opts.Frames,
		logger:    opts.Logger,
		frameRate: opts.FrameRate,
		dumpAudio: opts.DumpAudio,
		decode:    DecodeClip,
	}
}

func (p *Pipeline) context() *Context {
	p.ctxOnce.Do(func() {
		p.actx = NewContext(p.frameRate)
	})
	return p.actx
}

// FrameInterval is the cadence callers should Poll microphone spectra at.
func (p *Pipeline) FrameInterval() time.Duration {
	return p.context().FrameInterval()
}

// StartMicrophoneAnalysis opens the microphone and makes it the analyser's
// upstream source.
func (p *Pipeline) StartMicrophoneAnalysis(ctx context.Context) (*MicrophoneHandle, error) {
	if p.mic == nil {
		return nil, fmt.Errorf("%w: no microphone configured", ErrDeviceUnavailable)
	}
	stream, err := p.mic.Open(ctx)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	actx := p.context()
	h := &MicrophoneHandle{
		stream: stream,
		actx:   actx,
		token:  actx.Connect(),
		pcm:    make(chan []byte, 64),
		done:   make(chan struct{}),
		logger: p.logger,
		dump:   p.dumpAudio,
	}
	go h.pump()
	return h, nil
}

// PlayClip stops any current clip, decodes payload, and starts playing it.
func (p *Pipeline) PlayClip(ctx context.Context, payload string) (*Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	clip, err := p.decode(payload)
	if err != nil {
		return nil, err
	}
	if p.speaker == nil {
		clip.Release()
		return nil, fmt.Errorf("start playback: no speaker configured")
	}

	actx := p.context()
	token := actx.Connect()
	playback, err := p.speaker.Play(clip, func(mono []float32) {
		actx.Feed(token, mono)
	})
	if err != nil {
		clip.Release()
		return nil, fmt.Errorf("start playback: %w", err)
	}

	a := &activeClip{
		clip:       clip,
		playback:   playback,
		token:      token,
		completion: newCompletion(),
		stop:       make(chan struct{}),
	}
	p.active = a
	if p.logger != nil {
		p.logger.Debug("clip playback started", "frames", clip.Frames(), "sample_rate", clip.SampleRate)
	}

	go p.render(ctx, a)
	return a.completion, nil
}

// StopClip halts the current clip, if any, and abandons its completion.
func (p *Pipeline) StopClip() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pipeline) stopLocked() {
	a := p.active
	if a == nil {
		return
	}
	p.active = nil
	close(a.stop)
	a.playback.Stop()
	a.clip.Release()
	a.completion.abandon()
}

func (p *Pipeline) render(ctx context.Context, a *activeClip) {
	ticker := time.NewTicker(p.context().FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			p.mu.Lock()
			if p.active == a {
				p.stopLocked()
			}
			p.mu.Unlock()
			return
		case <-a.playback.Done():
			p.finish(a)
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.active == a && p.frames != nil {
				if frame, ok := p.actx.Frame(a.token); ok {
					p.frames.SetAudioFrame(frame)
				}
			}
			p.mu.Unlock()
		}
	}
}

func (p *Pipeline) finish(a *activeClip) {
	p.mu.Lock()
	if p.active != a {
		p.mu.Unlock()
		return
	}
	p.active = nil
	if p.frames != nil {
		p.frames.SetAudioFrame(nil)
	}
	a.clip.Release()
	p.mu.Unlock()

	a.completion.resolve()
}

// MicrophoneHandle is one live microphone analysis session.
type MicrophoneHandle struct {
	stream InputStream
	actx   *Context
	token  uint64
	pcm    chan []byte
	logger *slog.Logger

	dump bool
	raw  []byte

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// PCM yields 16kHz mono s16le chunks until the handle stops.
func (h *MicrophoneHandle) PCM() <-chan []byte {
	return h.pcm
}

// Poll returns the current spectrum. ok is false once another source took
// over the analyser; the frame is then nil and must not be published.
func (h *MicrophoneHandle) Poll() (frame []byte, ok bool) {
	return h.actx.Frame(h.token)
}

// Stop stops all capture tracks. Safe to call more than once.
func (h *MicrophoneHandle) Stop() error {
	h.stopOnce.Do(func() {
		close(h.done)
		h.stopErr = h.stream.Stop()
	})
	return h.stopErr
}

func (h *MicrophoneHandle) pump() {
	defer close(h.pcm)
	for chunk := range h.stream.Chunks() {
		h.actx.Feed(h.token, pcm16ToFloat(chunk))
		if h.dump {
			h.raw = append(h.raw, chunk...)
		}
		select {
		case h.pcm <- chunk:
		case <-h.done:
		}
	}
	if h.dump {
		h.writeDump()
	}
}

func (h *MicrophoneHandle) writeDump() {
	if len(h.raw) == 0 {
		return
	}
	file, err := logging.CreateDebugFile("audio", "wav")
	if err != nil {
		h.logWarn("unable to create debug audio dump", err)
		return
	}
	defer file.Close()
	if err := EncodeWAV(file, h.raw, CaptureSampleRate); err != nil {
		h.logWarn("unable to write debug audio dump", err)
	}
}

func (h *MicrophoneHandle) logWarn(msg string, err error) {
	if h.logger != nil {
		h.logger.Warn(msg, "error", err)
	}
}
