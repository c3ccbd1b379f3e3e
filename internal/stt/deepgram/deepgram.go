// Package deepgram is a single-utterance recogniser over the Deepgram live
// transcription websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/rebuttal/internal/audio"
	"github.com/rbright/rebuttal/internal/recognition"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	defaultModel   = "nova-2"
)

// Config controls the Deepgram listen endpoint.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	EndpointingMS int
	SmartFormat   bool
	DialTimeout   time.Duration
	Logger        *slog.Logger
}

// Recognizer opens one websocket per recognition session.
type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func New(cfg Config) *Recognizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.EndpointingMS <= 0 {
		cfg.EndpointingMS = 300
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Recognizer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
}

func (r *Recognizer) Start(ctx context.Context, rc recognition.Config, pcm <-chan []byte) (recognition.Session, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	listenURL, err := buildListenURL(r.cfg, rc)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, resp, err := r.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: deepgram rejected credentials (%s)", audio.ErrPermissionDenied, resp.Status)
		}
		return nil, fmt.Errorf("%w: connect deepgram: %v", recognition.ErrNetwork, err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &session{
		Stream: recognition.NewStream(),
		ctx:    sessionCtx,
		cancel: cancel,
		conn:   conn,
		logger: r.cfg.Logger,
		heard:  make(chan struct{}),
	}
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()
	go s.writeLoop(pcm)
	go s.readLoop()
	return s, nil
}

type session struct {
	*recognition.Stream

	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn
	logger *slog.Logger

	heardOnce sync.Once
	heard     chan struct{}
}

// writeLoop streams audio until the utterance ends, then sends CloseStream.
func (s *session) writeLoop(pcm <-chan []byte) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.StopRequested():
			s.closeStream()
			return
		case <-s.heard:
			s.closeStream()
			return
		case chunk, ok := <-pcm:
			if !ok {
				s.closeStream()
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	}
}

func (s *session) closeStream() {
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil && s.logger != nil {
		s.logger.Debug("deepgram close stream failed", "error", err)
	}
}

// readLoop is the only goroutine that emits events.
func (s *session) readLoop() {
	defer s.cancel()
	defer s.Close()

	s.Emit(s.ctx, recognition.Event{Kind: recognition.EventStart})

	heard := false
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case s.ctx.Err() != nil:
				s.Emit(context.Background(), recognition.Event{Kind: recognition.EventError, Code: recognition.CodeAborted})
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				if !heard {
					s.Emit(s.ctx, recognition.Event{Kind: recognition.EventError, Code: recognition.CodeNoSpeech})
				}
			default:
				if !heard {
					s.Emit(s.ctx, recognition.Event{Kind: recognition.EventError, Code: recognition.CodeNetwork})
				}
			}
			return
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}
		if strings.EqualFold(response.Type, "Error") {
			if s.logger != nil {
				s.logger.Warn("deepgram error", "message", response.Message)
			}
			s.Emit(s.ctx, recognition.Event{Kind: recognition.EventError, Code: recognition.CodeNetwork})
			return
		}
		if heard || !(response.IsFinal || response.SpeechFinal) {
			continue
		}
		transcript := response.transcript()
		if transcript == "" {
			continue
		}
		heard = true
		s.heardOnce.Do(func() { close(s.heard) })
		s.Emit(s.ctx, recognition.Event{Kind: recognition.EventResult, Transcript: transcript})
	}
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

func buildListenURL(cfg Config, rc recognition.Config) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base url: %w", err)
	}
	if listenURL.Scheme != "ws" && listenURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid deepgram base url %q", cfg.BaseURL)
	}

	sampleRate := rc.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.CaptureSampleRate
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", "1")
	query.Set("interim_results", "false")
	query.Set("endpointing", strconv.Itoa(cfg.EndpointingMS))
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if rc.LanguageCode != "" {
		query.Set("language", rc.LanguageCode)
	}
	for _, phrase := range rc.Phrases {
		text := strings.TrimSpace(phrase.Text)
		if text == "" {
			continue
		}
		if phrase.Boost != 0 {
			text += ":" + strconv.FormatFloat(float64(phrase.Boost), 'f', -1, 32)
		}
		query.Add("keywords", text)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
