// Package indicator renders session state to the terminal and emits audio and
// desktop cues as the session changes.
package indicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/rebuttal/internal/config"
	"github.com/rbright/rebuttal/internal/state"
)

const clearLine = "\r\033[K"

// Snapshotter reads the current session state.
type Snapshotter interface {
	Snapshot() state.Snapshot
}

// Terminal is a state observer that prints transcript lines and keeps one live
// status line with the spectrum meter and avatar.
type Terminal struct {
	out      io.Writer
	store    Snapshotter
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages
	notifier Notifier
	cue      func(context.Context, cueKind) error

	mu         sync.Mutex
	statusLive bool
	wasSpeak   bool

	soundMu sync.Mutex
}

// NewTerminal builds the terminal surface. notifier may be nil.
func NewTerminal(out io.Writer, store Snapshotter, cfg config.IndicatorConfig, notifier Notifier, logger *slog.Logger) *Terminal {
	return &Terminal{
		out:      out,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		notifier: notifier,
		cue:      emitCue,
	}
}

// Observe implements state.Observer.
func (t *Terminal) Observe(c state.Change) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch c.Field {
	case state.FieldTranscript:
		t.printLine(fmt.Sprintf("[%s] %s", t.messages.label(c.Message.Role), c.Message.Text))
		if c.Message.Role == state.RoleSystem {
			t.notify(c.Message.Text)
		}
	case state.FieldConnected:
		if c.Flag {
			t.printLine("· " + t.messages.connected)
		} else {
			t.printLine("· " + t.messages.offline)
		}
	case state.FieldRecording:
		if c.Flag {
			t.playCue(cueStart)
		} else {
			t.playCue(cueStop)
		}
		t.renderStatus()
	case state.FieldAISpeaking:
		if !c.Flag && t.wasSpeak {
			t.playCue(cueComplete)
		}
		t.wasSpeak = c.Flag
		t.renderStatus()
	case state.FieldPaused:
		if c.Flag {
			t.playCue(cueCancel)
		}
		t.renderStatus()
	case state.FieldAudioFrame:
		t.renderStatus()
	}
}

// printLine writes one transcript line above the status line.
func (t *Terminal) printLine(text string) {
	if t.statusLive {
		_, _ = io.WriteString(t.out, clearLine)
		t.statusLive = false
	}
	_, _ = fmt.Fprintln(t.out, text)
	t.renderStatus()
}

// renderStatus redraws the live status line from a fresh snapshot.
func (t *Terminal) renderStatus() {
	if !t.cfg.Enable || t.store == nil {
		return
	}
	line := t.statusLine(t.store.Snapshot())
	if line == "" {
		if t.statusLive {
			_, _ = io.WriteString(t.out, clearLine)
			t.statusLive = false
		}
		return
	}
	_, _ = io.WriteString(t.out, clearLine+line)
	t.statusLive = true
}

func (t *Terminal) statusLine(snap state.Snapshot) string {
	meter := RenderMeter(snap.AudioFrame, t.cfg.MeterWidth)
	switch {
	case snap.Paused:
		return "⏸ " + t.messages.paused
	case snap.AISpeaking:
		return fmt.Sprintf("%s %s ▕%s▏", AvatarFor(snap), t.messages.speaking, meter)
	case snap.Recording:
		return fmt.Sprintf("● %s ▕%s▏", t.messages.listening, meter)
	default:
		return ""
	}
}

// notify forwards system notices to the desktop without blocking the store.
func (t *Terminal) notify(text string) {
	if !t.cfg.DesktopNotify || t.notifier == nil || strings.TrimSpace(text) == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
		defer cancel()
		if err := t.notifier.Notify(ctx, text); err != nil {
			t.log("desktop notification failed", err)
		}
	}()
}

// playCue serializes cue playback and emits audio asynchronously.
func (t *Terminal) playCue(kind cueKind) {
	if !t.cfg.SoundEnable || t.cue == nil {
		return
	}
	go func() {
		t.soundMu.Lock()
		defer t.soundMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := t.cue(ctx, kind); err != nil {
			t.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (t *Terminal) log(message string, err error) {
	if t.logger == nil || err == nil {
		return
	}
	t.logger.Debug(message, "error", err.Error())
}
