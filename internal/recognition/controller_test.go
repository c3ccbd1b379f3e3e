package recognition

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/rebuttal/internal/audio"
	"github.com/rbright/rebuttal/internal/fsm"
	"github.com/rbright/rebuttal/internal/state"
	"github.com/stretchr/testify/require"
)

type fakeInput struct {
	chunks   chan []byte
	stopOnce sync.Once
}

func (f *fakeInput) Chunks() <-chan []byte { return f.chunks }

func (f *fakeInput) Stop() error {
	f.stopOnce.Do(func() { close(f.chunks) })
	return nil
}

type fakeMicrophone struct {
	mu     sync.Mutex
	err    error
	inputs []*fakeInput
}

func (m *fakeMicrophone) Open(context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	in := &fakeInput{chunks: make(chan []byte, 4)}
	m.inputs = append(m.inputs, in)
	return in, nil
}

type fakeRecognizer struct {
	mu      sync.Mutex
	err     error
	streams []*Stream
	cfgs    []Config
}

func (r *fakeRecognizer) Start(_ context.Context, cfg Config, _ <-chan []byte) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	s := NewStream()
	r.streams = append(r.streams, s)
	r.cfgs = append(r.cfgs, cfg)
	return s, nil
}

func (r *fakeRecognizer) stream(i int) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[i]
}

type transcriptSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *transcriptSink) SendTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *transcriptSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type harness struct {
	store      *state.Store
	mic        *fakeMicrophone
	recognizer *fakeRecognizer
	sink       *transcriptSink
	controller *Controller
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:      state.NewStore(),
		mic:        &fakeMicrophone{},
		recognizer: &fakeRecognizer{},
		sink:       &transcriptSink{},
	}
	pipeline := audio.NewPipeline(audio.Options{Microphone: h.mic, Frames: h.store, FrameRate: 200})
	h.controller = NewController(nil, h.recognizer, pipeline, h.store, h.sink, cfg)
	return h
}

func (h *harness) systemMessages() []string {
	var out []string
	for _, msg := range h.store.Messages() {
		if msg.Role == state.RoleSystem {
			out = append(out, msg.Text)
		}
	}
	return out
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == fsm.StateIdle }, time.Second, 5*time.Millisecond)
}

func TestSuccessfulUtteranceIsSentAndCleanedUp(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.controller.Start(ctx))
	require.Equal(t, fsm.StateStarting, h.controller.State())
	require.Equal(t, "en-US", h.recognizer.cfgs[0].LanguageCode)
	require.Equal(t, audio.CaptureSampleRate, h.recognizer.cfgs[0].SampleRate)

	stream := h.recognizer.stream(0)
	stream.Emit(ctx, Event{Kind: EventStart})
	require.Eventually(t, h.store.Recording, time.Second, 5*time.Millisecond)
	require.Equal(t, fsm.StateListening, h.controller.State())
	require.Eventually(t, func() bool { return h.store.AudioFrame() != nil }, time.Second, 5*time.Millisecond)

	stream.Emit(ctx, Event{Kind: EventResult, Transcript: " I disagree "})
	stream.Close()

	waitIdle(t, h.controller)
	require.Equal(t, []string{"I disagree"}, h.sink.all())
	require.False(t, h.store.Recording())
	require.Nil(t, h.store.AudioFrame())
	require.Empty(t, h.systemMessages())

	_, open := <-h.mic.inputs[0].chunks
	require.False(t, open)
}

func TestEmptyTranscriptIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.controller.Start(ctx))
	stream := h.recognizer.stream(0)
	stream.Emit(ctx, Event{Kind: EventStart})
	stream.Emit(ctx, Event{Kind: EventResult, Transcript: "   "})
	stream.Close()

	waitIdle(t, h.controller)
	require.Empty(t, h.sink.all())
}

func TestErrorCodesSurfaceOneMessageExceptAborted(t *testing.T) {
	tests := []struct {
		code Code
		want []string
	}{
		{code: CodeNotAllowed, want: []string{"Microphone access denied. Please grant microphone permission and try again."}},
		{code: CodeAudioCapture, want: []string{"No microphone detected. Please check your audio input device."}},
		{code: CodeNoSpeech, want: []string{"No speech detected. Please try again and speak clearly."}},
		{code: CodeNetwork, want: []string{"Network error occurred. Please check your connection."}},
		{code: Code("service-not-allowed"), want: []string{"Speech recognition error: service-not-allowed"}},
		{code: CodeAborted, want: nil},
	}

	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			h := newHarness(t, Config{})
			ctx := context.Background()

			require.NoError(t, h.controller.Start(ctx))
			stream := h.recognizer.stream(0)
			stream.Emit(ctx, Event{Kind: EventStart})
			stream.Emit(ctx, Event{Kind: EventError, Code: tc.code})
			stream.Emit(ctx, Event{Kind: EventResult, Transcript: "too late"})
			stream.Close()

			waitIdle(t, h.controller)
			require.Equal(t, tc.want, h.systemMessages())
			require.Empty(t, h.sink.all())
			require.False(t, h.store.Recording())
		})
	}
}

func TestStartWithoutRecognizerNotifiesOnce(t *testing.T) {
	store := state.NewStore()
	c := NewController(nil, nil, audio.NewPipeline(audio.Options{}), store, nil, Config{})

	require.False(t, c.Supported())
	require.ErrorIs(t, c.Start(context.Background()), ErrUnsupportedPlatform)
	require.ErrorIs(t, c.Start(context.Background()), ErrUnsupportedPlatform)

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, unsupportedMessage, msgs[0].Text)
	require.False(t, store.Recording())
}

func TestMicrophonePermissionFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.mic.err = errors.New("access denied")

	err := h.controller.Start(context.Background())
	require.ErrorIs(t, err, audio.ErrPermissionDenied)
	require.Equal(t, fsm.StateIdle, h.controller.State())
	require.False(t, h.store.Recording())
	require.Equal(t, []string{"Microphone access denied. Please grant microphone permission and try again."}, h.systemMessages())
}

func TestRecognizerStartFailureReleasesMicrophone(t *testing.T) {
	h := newHarness(t, Config{})
	h.recognizer.err = ErrNetwork

	err := h.controller.Start(context.Background())
	require.ErrorIs(t, err, ErrNetwork)
	require.Equal(t, fsm.StateIdle, h.controller.State())
	require.Equal(t, []string{"Network error occurred. Please check your connection."}, h.systemMessages())

	_, open := <-h.mic.inputs[0].chunks
	require.False(t, open)
}

func TestStartIsOnlyValidFromIdle(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.controller.Start(context.Background()))

	err := h.controller.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid transition")
}

func TestStopOnlyFromListening(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.ErrorIs(t, h.controller.Stop(), ErrNotListening)

	require.NoError(t, h.controller.Start(ctx))
	require.ErrorIs(t, h.controller.Stop(), ErrNotListening)

	stream := h.recognizer.stream(0)
	stream.Emit(ctx, Event{Kind: EventStart})
	require.Eventually(t, h.store.Recording, time.Second, 5*time.Millisecond)

	require.NoError(t, h.controller.Stop())
	select {
	case <-stream.StopRequested():
	default:
		t.Fatal("stop was not forwarded to the session")
	}

	// cleanup waits for the end event
	require.True(t, h.store.Recording())
	stream.Close()
	waitIdle(t, h.controller)
	require.False(t, h.store.Recording())
}

func TestCancelIsSynchronousAndIgnoresLateEvents(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.controller.Start(ctx))
	stream := h.recognizer.stream(0)
	stream.Emit(ctx, Event{Kind: EventStart})
	require.Eventually(t, h.store.Recording, time.Second, 5*time.Millisecond)

	h.controller.Cancel()
	require.False(t, h.store.Recording())
	require.Nil(t, h.store.AudioFrame())
	require.Equal(t, fsm.StateIdle, h.controller.State())

	stream.Emit(ctx, Event{Kind: EventResult, Transcript: "stale"})
	stream.Emit(ctx, Event{Kind: EventError, Code: CodeNetwork})
	stream.Close()
	time.Sleep(20 * time.Millisecond)

	require.Empty(t, h.sink.all())
	require.Empty(t, h.systemMessages())

	h.controller.Cancel()
	require.NoError(t, h.controller.Start(ctx))
}

func TestNoSpeechTimeout(t *testing.T) {
	h := newHarness(t, Config{NoSpeechTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, h.controller.Start(ctx))
	h.recognizer.stream(0).Emit(ctx, Event{Kind: EventStart})

	waitIdle(t, h.controller)
	require.Equal(t, []string{"No speech detected. Please try again and speak clearly."}, h.systemMessages())
	require.False(t, h.store.Recording())
}

func TestCodeMapping(t *testing.T) {
	for _, code := range []Code{CodeNotAllowed, CodeAudioCapture, CodeNoSpeech, CodeNetwork, CodeAborted} {
		require.Equal(t, code, CodeFor(ErrorForCode(code)))
	}
	require.Equal(t, Code(""), CodeFor(nil))
	require.Contains(t, ErrorForCode("bad-grammar").Error(), "bad-grammar")
}

type heldPlayback struct{ done chan struct{} }

func (p *heldPlayback) Done() <-chan struct{} { return p.done }
func (p *heldPlayback) Stop()                 {}

type tappingSpeaker struct{}

func (tappingSpeaker) Play(_ *audio.Clip, tap func([]float32)) (audio.Playback, error) {
	tone := make([]float32, audio.FFTSize)
	for i := range tone {
		tone[i] = float32(math.Sin(float64(i) / 3))
	}
	tap(tone)
	return &heldPlayback{done: make(chan struct{})}, nil
}

func wavPayload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(file, make([]byte, 3200), audio.CaptureSampleRate))
	require.NoError(t, file.Close())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestListeningDoesNotBlankClipSpectrum(t *testing.T) {
	store := state.NewStore()
	mic := &fakeMicrophone{}
	recognizer := &fakeRecognizer{}
	pipeline := audio.NewPipeline(audio.Options{Microphone: mic, Speaker: tappingSpeaker{}, Frames: store, FrameRate: 200})
	controller := NewController(nil, recognizer, pipeline, store, &transcriptSink{}, Config{})
	ctx := context.Background()

	require.NoError(t, controller.Start(ctx))
	recognizer.stream(0).Emit(ctx, Event{Kind: EventStart})
	require.Eventually(t, store.Recording, time.Second, 5*time.Millisecond)

	_, err := pipeline.PlayClip(ctx, wavPayload(t))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.AudioFrame() != nil }, time.Second, 5*time.Millisecond)

	var blanks atomic.Int32
	unsubscribe := store.Subscribe(state.ObserverFunc(func(c state.Change) {
		if c.Field == state.FieldAudioFrame && c.Frame == nil {
			blanks.Add(1)
		}
	}))
	defer unsubscribe()

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, blanks.Load())
	require.NotNil(t, store.AudioFrame())

	pipeline.StopClip()
	controller.Cancel()
}
