package debate

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rbright/rebuttal/internal/audio"
	"github.com/rbright/rebuttal/internal/ipc"
	"github.com/rbright/rebuttal/internal/protocol"
	"github.com/rbright/rebuttal/internal/state"
)

const waitFor = 2 * time.Second

type peer struct {
	srv    *httptest.Server
	frames chan string
	conns  chan *websocket.Conn
}

func newPeer(t *testing.T) *peer {
	t.Helper()

	p := &peer{
		frames: make(chan string, 32),
		conns:  make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			p.frames <- string(data)
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *peer) next(t *testing.T) string {
	t.Helper()
	select {
	case frame := <-p.frames:
		return frame
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for client frame")
		return ""
	}
}

func (p *peer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		return conn
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (p *peer) requireQuiet(t *testing.T) {
	t.Helper()
	select {
	case frame := <-p.frames:
		t.Fatalf("unexpected client frame %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

type fakePlayback struct {
	done    chan struct{}
	once    sync.Once
	stopped atomic.Int32
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Stop()                 { p.stopped.Add(1) }
func (p *fakePlayback) finish()               { p.once.Do(func() { close(p.done) }) }

type fakeSpeaker struct {
	mu    sync.Mutex
	plays []*fakePlayback
}

func (s *fakeSpeaker) Play(_ *audio.Clip, _ func([]float32)) (audio.Playback, error) {
	pb := &fakePlayback{done: make(chan struct{})}
	s.mu.Lock()
	s.plays = append(s.plays, pb)
	s.mu.Unlock()
	return pb, nil
}

func (s *fakeSpeaker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plays)
}

func (s *fakeSpeaker) play(i int) *fakePlayback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays[i]
}

type fakeRecorder struct {
	store   *state.Store
	starts  atomic.Int32
	stops   atomic.Int32
	cancels atomic.Int32
}

func (r *fakeRecorder) Start(context.Context) error {
	r.starts.Add(1)
	r.store.SetRecording(true)
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.stops.Add(1)
	return nil
}

func (r *fakeRecorder) Cancel() {
	r.cancels.Add(1)
	r.store.SetRecording(false)
}

type harness struct {
	store    *state.Store
	speaker  *fakeSpeaker
	recorder *fakeRecorder
	peer     *peer
	ctrl     *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := state.NewStore()
	speaker := &fakeSpeaker{}
	pipeline := audio.NewPipeline(audio.Options{Speaker: speaker, Frames: store, FrameRate: 200})
	p := newPeer(t)

	ctrl := NewController(Options{URL: p.url(), Store: store, Player: pipeline})
	recorder := &fakeRecorder{store: store}
	ctrl.AttachRecorder(recorder)
	t.Cleanup(ctrl.Close)

	return &harness{store: store, speaker: speaker, recorder: recorder, peer: p, ctrl: ctrl}
}

// connect dials the peer and returns the server side of the connection.
func (h *harness) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	require.NoError(t, h.ctrl.Connect(context.Background(), protocol.NewSetup("Remote work", "Pro", 3)))
	conn := h.peer.conn(t)
	h.peer.next(t)
	return conn
}

func (h *harness) texts() []string {
	msgs := h.store.Messages()
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, string(msg.Role)+":"+msg.Text)
	}
	return out
}

func clipPayload(t *testing.T) string {
	t.Helper()

	pcm := make([]byte, 1600)
	for i := 0; i < len(pcm)/2; i++ {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16((i%50)*400)))
	}
	path := filepath.Join(t.TempDir(), "reply.wav")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(file, pcm, 16000))
	require.NoError(t, file.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func sendJSON(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestConnectSendsSetupFirst(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ctrl.Connect(context.Background(), protocol.NewSetup(" Cats ", "con", 9)))
	h.peer.conn(t)

	require.Equal(t, `{"type":"setup","topic":" Cats ","position":"Con","difficulty":1}`, h.peer.next(t))
	require.True(t, h.store.Connected())
	require.Equal(t, " Cats ", h.store.Topic())
	require.Equal(t, state.PositionCon, h.store.Position())
	require.Equal(t, 1, h.store.Difficulty())
}

func TestConnectFailureLeavesSessionDisconnected(t *testing.T) {
	store := state.NewStore()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ctrl := NewController(Options{URL: url, Store: store})
	err := ctrl.Connect(context.Background(), protocol.NewSetup("Cats", "Pro", 2))
	require.Error(t, err)
	require.False(t, store.Connected())
	require.Empty(t, store.Messages())
}

func TestSendTranscriptAppendsAndForwards(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.ctrl.SendTranscript("  cities should ban cars  ")

	require.Equal(t, `{"type":"user_text","text":"cities should ban cars"}`, h.peer.next(t))
	require.Equal(t, []string{"user:cities should ban cars"}, h.texts())

	h.ctrl.SendTranscript("   ")
	h.peer.requireQuiet(t)
	require.Len(t, h.store.Messages(), 1)
}

func TestSendTranscriptWithoutConnectionIsNoop(t *testing.T) {
	h := newHarness(t)

	h.ctrl.SendTranscript("hello")

	require.Empty(t, h.store.Messages())
}

func TestInboundFramesDispatchInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	sendJSON(t, conn, `{"type":"info","message":"Debate started"}`)
	sendJSON(t, conn, `not json`)
	sendJSON(t, conn, `{"message":"no type"}`)
	sendJSON(t, conn, `{"type":"score","value":3}`)
	sendJSON(t, conn, `{"type":"ai_response","text":"Cars built cities.","fallacies":[{"name":"strawman"}],"difficulty":3}`)

	require.Eventually(t, func() bool { return len(h.store.Messages()) == 2 }, waitFor, 5*time.Millisecond)
	require.Equal(t, []string{"system:Debate started", "ai:Cars built cities."}, h.texts())
	require.False(t, h.store.AISpeaking())
	require.Zero(t, h.speaker.count())
}

func TestAIResponseAudioClearsSpeakingOnCompletion(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	sendJSON(t, conn, `{"type":"ai_response","text":"Rebuttal.","audio":"`+clipPayload(t)+`"}`)

	require.Eventually(t, func() bool { return h.speaker.count() == 1 }, waitFor, 5*time.Millisecond)
	require.True(t, h.store.AISpeaking())
	require.ErrorIs(t, h.ctrl.ToggleRecording(context.Background()), ErrRecordingBlocked)
	require.ErrorIs(t, h.ctrl.RequestAITurn(), ErrTurnUnavailable)

	h.speaker.play(0).finish()

	require.Eventually(t, func() bool { return !h.store.AISpeaking() }, waitFor, 5*time.Millisecond)
	require.Nil(t, h.store.AudioFrame())
}

func TestNewerClipOwnsSpeakingFlag(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)
	payload := clipPayload(t)

	sendJSON(t, conn, `{"type":"ai_response","text":"One.","audio":"`+payload+`"}`)
	sendJSON(t, conn, `{"type":"ai_response","text":"Two.","audio":"`+payload+`"}`)
	require.Eventually(t, func() bool { return h.speaker.count() == 2 }, waitFor, 5*time.Millisecond)

	first := h.speaker.play(0)
	require.Equal(t, int32(1), first.stopped.Load())
	first.finish()
	require.Never(t, func() bool { return !h.store.AISpeaking() }, 100*time.Millisecond, 5*time.Millisecond)

	h.speaker.play(1).finish()
	require.Eventually(t, func() bool { return !h.store.AISpeaking() }, waitFor, 5*time.Millisecond)
}

func TestAIClipReleasesMicrophoneBeforeSpeaking(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	require.NoError(t, h.ctrl.ToggleRecording(context.Background()))
	require.True(t, h.store.Recording())

	sendJSON(t, conn, `{"type":"ai_response","text":"Interrupting.","audio":"`+clipPayload(t)+`"}`)
	require.Eventually(t, func() bool { return h.speaker.count() == 1 }, waitFor, 5*time.Millisecond)

	snap := h.store.Snapshot()
	require.True(t, snap.AISpeaking)
	require.False(t, snap.Recording)
	require.Equal(t, int32(1), h.recorder.cancels.Load())
	require.Equal(t, []string{"ai:Interrupting.", "system:Recording stopped"}, h.texts())
}

func TestPauseStopsRecording(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	require.NoError(t, h.ctrl.ToggleRecording(context.Background()))
	require.True(t, h.store.Recording())

	h.ctrl.Pause()

	snap := h.store.Snapshot()
	require.True(t, snap.Paused)
	require.False(t, snap.Recording)
	require.True(t, snap.Connected)
	require.Equal(t, int32(1), h.recorder.cancels.Load())
	require.Equal(t, []string{"system:Recording stopped", "system:AI opponent stopped"}, h.texts())
}

func TestPauseStopsPlayback(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	sendJSON(t, conn, `{"type":"ai_response","text":"Listen.","audio":"`+clipPayload(t)+`"}`)
	require.Eventually(t, func() bool { return h.speaker.count() == 1 }, waitFor, 5*time.Millisecond)
	require.True(t, h.store.AISpeaking())

	h.ctrl.Pause()

	snap := h.store.Snapshot()
	require.True(t, snap.Paused)
	require.False(t, snap.AISpeaking)
	require.Nil(t, snap.AudioFrame)
	require.True(t, snap.Connected)
	require.Equal(t, int32(1), h.speaker.play(0).stopped.Load())
	require.Equal(t, []string{"ai:Listen.", "system:AI opponent stopped"}, h.texts())

	h.speaker.play(0).finish()
	require.Never(t, func() bool { return h.store.AISpeaking() }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestPauseWithoutRecordingOnlyStopsOpponent(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.ctrl.Pause()

	require.Equal(t, []string{"system:AI opponent stopped"}, h.texts())
	require.ErrorIs(t, h.ctrl.ToggleRecording(context.Background()), ErrRecordingBlocked)
	require.ErrorIs(t, h.ctrl.RequestAITurn(), ErrTurnUnavailable)
	h.peer.requireQuiet(t)
}

func TestResumeSendsExactlyOneTurnRequest(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.ctrl.Pause()
	h.ctrl.Resume()

	require.Equal(t, `{"type":"user_text","text":"[AI_TURN]"}`, h.peer.next(t))
	h.peer.requireQuiet(t)
	require.False(t, h.store.Paused())

	texts := h.texts()
	require.Equal(t, []string{"system:AI opponent resumed", "system:Requesting AI response..."}, texts[len(texts)-2:])
}

func TestResumeWithoutConnectionSkipsTurnRequest(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Pause()
	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandResume})

	require.True(t, resp.OK)
	require.Equal(t, "resumed", resp.Message)
	require.False(t, h.store.Paused())
	require.Equal(t, []string{"system:AI opponent stopped", "system:AI opponent resumed"}, h.texts())
}

func TestResumeWhileSpeakingSkipsTurnRequest(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	sendJSON(t, conn, `{"type":"ai_response","text":"Still talking.","audio":"`+clipPayload(t)+`"}`)
	require.Eventually(t, func() bool { return h.speaker.count() == 1 }, waitFor, 5*time.Millisecond)

	h.ctrl.Resume()

	h.peer.requireQuiet(t)
	require.True(t, h.store.AISpeaking())
	require.Equal(t, "system:AI opponent resumed", h.texts()[len(h.texts())-1])
}

func TestRequestAITurnRequiresConnection(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.ctrl.RequestAITurn(), ErrNotConnected)
	require.Empty(t, h.store.Messages())
}

func TestToggleRecordingStartsThenStops(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	require.NoError(t, h.ctrl.ToggleRecording(context.Background()))
	require.NoError(t, h.ctrl.ToggleRecording(context.Background()))

	require.Equal(t, int32(1), h.recorder.starts.Load())
	require.Equal(t, int32(1), h.recorder.stops.Load())
}

func TestPeerCloseConvergesToDisconnected(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool { return !h.store.Connected() }, waitFor, 5*time.Millisecond)

	h.ctrl.SendTranscript("anyone there?")
	require.Empty(t, h.store.Messages())
	require.ErrorIs(t, h.ctrl.RequestAITurn(), ErrNotConnected)
}

func TestPeerErrorConvergesToDisconnected(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	require.NoError(t, conn.UnderlyingConn().Close())
	require.Eventually(t, func() bool { return !h.store.Connected() }, waitFor, 5*time.Millisecond)
}

func TestReconnectIgnoresStaleConnection(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t)
	h.connect(t)

	_ = first.WriteMessage(websocket.TextMessage, []byte(`{"type":"info","message":"stale"}`))
	_ = first.Close()

	require.Never(t, func() bool { return !h.store.Connected() }, 100*time.Millisecond, 5*time.Millisecond)
	require.Empty(t, h.store.Messages())
}

func TestCloseAbandonsPlayback(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t)

	sendJSON(t, conn, `{"type":"ai_response","text":"Long reply.","audio":"`+clipPayload(t)+`"}`)
	require.Eventually(t, func() bool { return h.speaker.count() == 1 }, waitFor, 5*time.Millisecond)

	h.ctrl.Close()

	require.False(t, h.store.Connected())
	require.False(t, h.store.AISpeaking())
	require.Equal(t, int32(1), h.speaker.play(0).stopped.Load())
}

func TestHandleCommands(t *testing.T) {
	h := newHarness(t)

	resp := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "disconnected", resp.State)

	resp = h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandSend, Text: "hello"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "not connected")

	h.connect(t)

	resp = h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandSend, Text: "hello"})
	require.True(t, resp.OK)
	require.Equal(t, `{"type":"user_text","text":"hello"}`, h.peer.next(t))

	resp = h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandPause})
	require.True(t, resp.OK)
	require.Equal(t, "paused", resp.State)

	resp = h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandTurn})
	require.False(t, resp.OK)

	resp = h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandResume})
	require.True(t, resp.OK)
	require.Equal(t, "connected", resp.State)
	require.Equal(t, `{"type":"user_text","text":"[AI_TURN]"}`, h.peer.next(t))

	resp = h.ctrl.Handle(context.Background(), ipc.Request{Command: "dance"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}
