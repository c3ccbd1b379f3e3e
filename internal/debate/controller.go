// Package debate owns the live connection to the debate peer and the session
// actions layered on it: setup, transcripts, turn requests, pause and resume.
package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rbright/rebuttal/internal/audio"
	"github.com/rbright/rebuttal/internal/ipc"
	"github.com/rbright/rebuttal/internal/protocol"
	"github.com/rbright/rebuttal/internal/state"
)

const (
	msgRequestingTurn   = "Requesting AI response..."
	msgOpponentStopped  = "AI opponent stopped"
	msgOpponentResumed  = "AI opponent resumed"
	msgRecordingStopped = "Recording stopped"
)

var (
	ErrNotConnected     = errors.New("not connected to debate server")
	ErrTurnUnavailable  = errors.New("AI turn unavailable while paused or speaking")
	ErrRecordingBlocked = errors.New("recording unavailable while paused or the AI is speaking")
)

// Player renders AI speech clips.
type Player interface {
	PlayClip(ctx context.Context, payload string) (*audio.Completion, error)
	StopClip()
}

// Recorder drives the recognition controller.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	Cancel()
}

// Options wires a Controller.
type Options struct {
	URL    string
	Dialer Dialer
	Store  *state.Store
	Player Player
	Logger *slog.Logger
}

// Controller serializes every session action and inbound frame under one lock,
// so handlers observe the store in arrival order.
type Controller struct {
	logger *slog.Logger
	url    string
	dialer Dialer
	store  *state.Store
	player Player

	mu       sync.Mutex
	recorder Recorder
	conn     Conn
	connGen  uint64
	playGen  uint64
}

func NewController(opts Options) *Controller {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Controller{
		logger: opts.Logger,
		url:    opts.URL,
		dialer: dialer,
		store:  opts.Store,
		player: opts.Player,
	}
}

// AttachRecorder sets the recognition driver. The recorder usually needs the
// controller as its transcript sink, so it is attached after construction.
func (c *Controller) AttachRecorder(r Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = r
}

// Connect replaces any current connection with a fresh one and sends setup.
func (c *Controller) Connect(ctx context.Context, setup protocol.Setup) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()

	setup.Type = protocol.TypeSetup
	setup.Position = string(state.NormalizePosition(setup.Position))
	setup.Difficulty = state.ClampDifficulty(setup.Difficulty)

	c.store.SetTopic(setup.Topic)
	c.store.SetPosition(state.Position(setup.Position))
	c.store.SetDifficulty(setup.Difficulty)

	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.logWarn("debate connect failed", "url", c.url, "error", err)
		return fmt.Errorf("connect: %w", err)
	}

	payload, err := protocol.Encode(setup)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.connGen++
	gen := c.connGen
	c.conn = conn
	c.store.SetConnected(true)

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logWarn("send setup failed", "error", err)
		c.teardownLocked()
		return fmt.Errorf("send setup: %w", err)
	}

	c.logInfo("debate connected", "url", c.url, "topic", setup.Topic, "position", setup.Position, "difficulty", setup.Difficulty)
	go c.readPump(gen, conn)
	return nil
}

// SendTranscript records a user utterance and forwards it to the peer.
// Without a connection it does nothing.
func (c *Controller) SendTranscript(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logDebug("dropping transcript without connection")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.store.AppendMessage(state.RoleUser, text)
	_ = c.sendLocked(protocol.NewUserText(text))
}

// RequestAITurn asks the peer to speak next.
func (c *Controller) RequestAITurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestAITurnLocked()
}

func (c *Controller) requestAITurnLocked() error {
	if c.conn == nil || !c.store.Connected() {
		return ErrNotConnected
	}
	if c.store.Paused() || c.store.AISpeaking() {
		return ErrTurnUnavailable
	}
	if err := c.sendLocked(protocol.TurnRequest()); err != nil {
		return err
	}
	c.store.AppendMessage(state.RoleSystem, msgRequestingTurn)
	return nil
}

// Pause silences the opponent and any live recording. The connection stays up.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.SetPaused(true)
	c.cancelRecordingLocked()
	c.stopPlaybackLocked()
	c.store.AppendMessage(state.RoleSystem, msgOpponentStopped)
}

// Resume lifts the pause and hands the floor back to the opponent. The turn
// request is skipped while disconnected or while the opponent is speaking.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.SetPaused(false)
	c.store.AppendMessage(state.RoleSystem, msgOpponentResumed)
	if err := c.requestAITurnLocked(); err != nil {
		c.logInfo("resume skipped turn request", "reason", err)
	}
}

// ToggleRecording starts recognition, or stops the one in progress.
func (c *Controller) ToggleRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.store.AISpeaking() || c.store.Paused() {
		c.mu.Unlock()
		return ErrRecordingBlocked
	}
	recorder := c.recorder
	recording := c.store.Recording()
	c.mu.Unlock()

	if recorder == nil {
		return ErrRecordingBlocked
	}
	if recording {
		return recorder.Stop()
	}
	return recorder.Start(ctx)
}

// Close drops the connection and abandons any clip in flight.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.Cancel()
	}
	c.teardownLocked()
	c.stopPlaybackLocked()
}

// Handle serves remote session commands.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	if err := req.Validate(); err != nil {
		return c.failure(err)
	}
	switch req.Command {
	case ipc.CommandStatus:
		return c.status("status")
	case ipc.CommandToggle:
		if err := c.ToggleRecording(ctx); err != nil {
			return c.failure(err)
		}
		return c.status("recording toggled")
	case ipc.CommandPause:
		c.Pause()
		return c.status("paused")
	case ipc.CommandResume:
		c.Resume()
		return c.status("resumed")
	case ipc.CommandTurn:
		if err := c.RequestAITurn(); err != nil {
			return c.failure(err)
		}
		return c.status("turn requested")
	case ipc.CommandSend:
		if !c.store.Connected() {
			return c.failure(ErrNotConnected)
		}
		c.SendTranscript(req.Text)
		return c.status("sent")
	default:
		return c.failure(fmt.Errorf("%w: %s", ipc.ErrUnknownCommand, req.Command))
	}
}

// Status summarizes the store for IPC callers and the console.
func (c *Controller) Status() string {
	snap := c.store.Snapshot()
	switch {
	case !snap.Connected:
		return "disconnected"
	case snap.Paused:
		return "paused"
	case snap.AISpeaking:
		return "ai_speaking"
	case snap.Recording:
		return "recording"
	default:
		return "connected"
	}
}

func (c *Controller) status(message string) ipc.Response {
	return ipc.Response{OK: true, State: c.Status(), Message: message}
}

func (c *Controller) failure(err error) ipc.Response {
	return ipc.Response{OK: false, State: c.Status(), Error: err.Error()}
}

func (c *Controller) readPump(gen uint64, conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.onClosed(gen, err)
			return
		}
		c.dispatch(gen, payload)
	}
}

func (c *Controller) dispatch(gen uint64, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.connGen || c.conn == nil {
		return
	}

	in, err := protocol.Decode(payload)
	if err != nil {
		c.logWarn("dropping inbound frame", "error", err, "bytes", len(payload))
		return
	}

	switch in.Type {
	case protocol.TypeInfo:
		c.store.AppendMessage(state.RoleSystem, in.Message)
	case protocol.TypeAIResponse:
		c.store.AppendMessage(state.RoleAI, in.Text)
		if n := in.FallacyCount(); n > 0 || in.Difficulty != nil {
			attrs := []any{"fallacies", n}
			if in.Difficulty != nil {
				attrs = append(attrs, "difficulty", *in.Difficulty)
			}
			c.logInfo("ai response annotations", attrs...)
		}
		if in.Audio != "" {
			c.playLocked(in.Audio)
		}
	default:
		c.logDebug("ignoring inbound frame", "type", in.Type)
	}
}

func (c *Controller) playLocked(payload string) {
	if c.player == nil {
		return
	}
	c.cancelRecordingLocked()

	c.playGen++
	gen := c.playGen
	c.store.SetAISpeaking(true)

	completion, err := c.player.PlayClip(context.Background(), payload)
	if err != nil {
		c.logWarn("play ai clip failed", "error", err)
		c.store.SetAISpeaking(false)
		return
	}

	go func() {
		select {
		case <-completion.Done():
			c.onPlaybackDone(gen)
		case <-completion.Abandoned():
			c.logDebug("ai clip abandoned", "playback", gen)
		}
	}()
}

// cancelRecordingLocked releases the microphone before anything else takes
// the floor. A live recording is reported once.
func (c *Controller) cancelRecordingLocked() {
	if c.recorder == nil {
		return
	}
	recording := c.store.Recording()
	c.recorder.Cancel()
	if recording {
		c.store.AppendMessage(state.RoleSystem, msgRecordingStopped)
	}
}

func (c *Controller) onPlaybackDone(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.playGen {
		return
	}
	c.store.SetAISpeaking(false)
}

func (c *Controller) stopPlaybackLocked() {
	c.playGen++
	if c.player != nil {
		c.player.StopClip()
	}
	c.store.SetAISpeaking(false)
	c.store.SetAudioFrame(nil)
}

func (c *Controller) onClosed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.connGen || c.conn == nil {
		return
	}
	if closedCleanly(err) {
		c.logInfo("debate connection closed")
	} else {
		c.logWarn("debate connection lost", "error", err)
	}
	c.teardownLocked()
}

func (c *Controller) teardownLocked() {
	c.connGen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.store.Connected() {
		c.store.SetConnected(false)
	}
}

func (c *Controller) sendLocked(frame any) error {
	payload, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logWarn("send frame failed", "error", err)
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (c *Controller) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Controller) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Controller) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
