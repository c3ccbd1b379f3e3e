package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/rebuttal/internal/audio"
	"github.com/rbright/rebuttal/internal/cli"
	"github.com/rbright/rebuttal/internal/config"
	"github.com/rbright/rebuttal/internal/debate"
	"github.com/rbright/rebuttal/internal/indicator"
	"github.com/rbright/rebuttal/internal/ipc"
	"github.com/rbright/rebuttal/internal/logging"
	"github.com/rbright/rebuttal/internal/protocol"
	"github.com/rbright/rebuttal/internal/recognition"
	"github.com/rbright/rebuttal/internal/state"
	"github.com/rbright/rebuttal/internal/stt/deepgram"
	"github.com/rbright/rebuttal/internal/stt/googlespeech"
	"github.com/rbright/rebuttal/internal/version"
)

const desktopNotifyTimeoutMS = 4000

var errTopicRequired = errors.New("debate topic is required (--topic or debate.topic)")

// commandDebate owns the session: it holds the control socket, connects to the
// debate server, and drives the console until quit, EOF, or ctx cancellation.
func (r Runner) commandDebate(ctx context.Context, cfg config.Config, flags cli.DebateFlags, logger *slog.Logger) int {
	setup, err := resolveSetup(cfg.Debate, flags)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: 180 * time.Millisecond, Retries: 8})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	logger = logger.With("session", uuid.NewString())

	store := state.NewStore()

	var notifier indicator.Notifier
	if cfg.Indicator.DesktopNotify {
		desktop := indicator.NewDesktopNotifier(cfg.Indicator.DesktopAppName, desktopNotifyTimeoutMS)
		defer func() { _ = desktop.Close() }()
		notifier = desktop
	}
	terminal := indicator.NewTerminal(r.Stdout, store, cfg.Indicator, notifier, logger)
	defer store.Subscribe(terminal)()

	pipeline := audio.NewPipeline(audio.Options{
		Microphone: audio.PulseMicrophone{Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback, Logger: logger},
		Speaker:    audio.PulseSpeaker{},
		Frames:     store,
		Logger:     logger,
		FrameRate:  cfg.Audio.FrameRate,
		DumpAudio:  cfg.Debug.EnableAudioDump,
	})

	controller := debate.NewController(debate.Options{
		URL: cfg.Server.URL,
		Dialer: debate.WebsocketDialer{
			HandshakeTimeout: time.Duration(cfg.Server.DialTimeoutMS) * time.Millisecond,
			Header:           http.Header{"User-Agent": {version.UserAgent()}},
		},
		Store:  store,
		Player: pipeline,
		Logger: logger,
	})
	defer controller.Close()

	recognizer, closeRecognizer, err := buildRecognizer(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: speech recognition disabled: %v\n", err)
		logger.Warn("build recognizer failed", "provider", cfg.ASR.Provider, "error", err.Error())
	}
	defer closeRecognizer()

	recognitionCfg, err := recognitionConfig(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: %v\n", err)
	}
	recorder := recognition.NewController(logger, recognizer, pipeline, store, controller, recognitionCfg)
	controller.AttachRecorder(recorder)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	serverErrCh := make(chan error, 1)
	go func() {
		server := &ipc.Server{Handler: controller, Logger: logger}
		serverErrCh <- server.Serve(serverCtx, listener)
	}()

	if err := controller.Connect(ctx, setup); err != nil {
		serverCancel()
		<-serverErrCh
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	runConsole(ctx, r.Stdin, r.Stderr, controller)

	controller.Close()
	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}
	logger.Info("debate session ended", "messages", len(store.Messages()))
	return 0
}

// resolveSetup merges command-line overrides over the configured defaults.
func resolveSetup(defaults config.DebateConfig, flags cli.DebateFlags) (protocol.Setup, error) {
	topic := defaults.Topic
	if strings.TrimSpace(flags.Topic) != "" {
		topic = flags.Topic
	}
	if strings.TrimSpace(topic) == "" {
		return protocol.Setup{}, errTopicRequired
	}

	position := defaults.Position
	if strings.TrimSpace(flags.Position) != "" {
		position = flags.Position
	}

	difficulty := state.ClampDifficulty(defaults.Difficulty)
	if strings.TrimSpace(flags.Difficulty) != "" {
		difficulty = state.NormalizeDifficulty(flags.Difficulty)
	}

	return protocol.NewSetup(topic, string(state.NormalizePosition(position)), difficulty), nil
}

// buildRecognizer returns the configured backend, or nil when recognition is
// disabled. The returned close func is always safe to call.
func buildRecognizer(ctx context.Context, cfg config.Config, logger *slog.Logger) (recognition.Recognizer, func(), error) {
	noop := func() {}

	switch cfg.ASR.Provider {
	case config.ProviderGoogle:
		var dump *os.File
		if cfg.Debug.EnableGRPCDump {
			f, err := logging.CreateDebugFile("grpc", "jsonl")
			if err != nil {
				logger.Warn("grpc dump unavailable", "error", err.Error())
			} else {
				dump = f
			}
		}
		gcfg := googlespeech.Config{
			Endpoint:        cfg.ASR.Endpoint,
			CredentialsFile: cfg.ASR.CredentialsFile,
			Insecure:        cfg.ASR.Insecure,
			DialTimeout:     time.Duration(cfg.Server.DialTimeoutMS) * time.Millisecond,
			Logger:          logger,
		}
		if dump != nil {
			gcfg.DebugSink = dump
		}
		rec, err := googlespeech.New(ctx, gcfg)
		if err != nil {
			if dump != nil {
				_ = dump.Close()
			}
			return nil, noop, err
		}
		return rec, func() {
			_ = rec.Close()
			if dump != nil {
				_ = dump.Close()
			}
		}, nil
	case config.ProviderDeepgram:
		return deepgram.New(deepgram.Config{
			APIKey:      cfg.ASR.APIKey,
			BaseURL:     cfg.ASR.Endpoint,
			Model:       cfg.ASR.Model,
			SmartFormat: true,
			Logger:      logger,
		}), noop, nil
	default:
		return nil, noop, nil
	}
}

// recognitionConfig maps config onto session parameters, including the
// vocabulary phrase plan.
func recognitionConfig(cfg config.Config) (recognition.Config, error) {
	rc := recognition.Config{
		LanguageCode:    cfg.ASR.LanguageCode,
		SampleRate:      audio.CaptureSampleRate,
		Model:           cfg.ASR.Model,
		NoSpeechTimeout: time.Duration(cfg.ASR.NoSpeechTimeoutMS) * time.Millisecond,
	}

	phrases, _, err := config.BuildSpeechPhrases(cfg)
	if err != nil {
		return rc, fmt.Errorf("speech phrases: %w", err)
	}
	for _, p := range phrases {
		rc.Phrases = append(rc.Phrases, recognition.Phrase{Text: p.Phrase, Boost: p.Boost})
	}
	return rc, nil
}

// runConsole maps single-key lines from in onto session commands until quit,
// EOF, or ctx cancellation.
func runConsole(ctx context.Context, in io.Reader, errOut io.Writer, handler ipc.Handler) {
	if in == nil {
		<-ctx.Done()
		return
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			req, quit, known := consoleRequest(line)
			if quit {
				return
			}
			if !known {
				if strings.TrimSpace(line) != "" {
					fmt.Fprintln(errOut, "keys: r record, p pause, c resume, t turn, s TEXT send, q quit")
				}
				continue
			}
			if resp := handler.Handle(ctx, req); !resp.OK {
				fmt.Fprintf(errOut, "error: %s\n", resp.Error)
			}
		}
	}
}

// consoleRequest parses one console line.
func consoleRequest(line string) (req ipc.Request, quit bool, known bool) {
	line = strings.TrimSpace(line)
	key, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(key) {
	case "r":
		return ipc.Request{Command: ipc.CommandToggle}, false, true
	case "p":
		return ipc.Request{Command: ipc.CommandPause}, false, true
	case "c":
		return ipc.Request{Command: ipc.CommandResume}, false, true
	case "t":
		return ipc.Request{Command: ipc.CommandTurn}, false, true
	case "s":
		return ipc.Request{Command: ipc.CommandSend, Text: strings.TrimSpace(rest)}, false, true
	case "q":
		return ipc.Request{}, true, true
	default:
		return ipc.Request{}, false, false
	}
}
