// Package googlespeech is a single-utterance recogniser backed by Google Cloud
// Speech-to-Text streaming recognition.
package googlespeech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/rbright/rebuttal/internal/recognition"
)

// Config selects credentials and transport for the speech client.
type Config struct {
	// Endpoint overrides speech.googleapis.com:443.
	Endpoint        string
	CredentialsFile string
	// Insecure dials Endpoint in plaintext without credentials (local emulators).
	Insecure    bool
	DialTimeout time.Duration
	// DebugSink receives every raw response as one protojson line.
	DebugSink io.Writer
	Logger    *slog.Logger
}

// Recognizer opens streaming recognition sessions over one shared client.
type Recognizer struct {
	client *speech.Client
	conn   *grpc.ClientConn
	cfg    Config
}

// New builds the speech client. With Insecure set it dials Endpoint directly
// and waits for the connection to become ready.
func New(ctx context.Context, cfg Config) (*Recognizer, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}

	var (
		opts []option.ClientOption
		conn *grpc.ClientConn
	)
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if cfg.Insecure {
		if endpoint == "" {
			return nil, errors.New("google speech endpoint is empty")
		}
		var err error
		conn, err = grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dial speech grpc %q: %w", endpoint, err)
		}
		readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		conn.Connect()
		if err := waitForReady(readyCtx, conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("wait for speech grpc readiness: %w", err)
		}
		opts = append(opts, option.WithGRPCConn(conn))
	} else {
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
			opts = append(opts, option.WithCredentialsFile(path))
		}
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Recognizer{client: client, conn: conn, cfg: cfg}, nil
}

// Close releases the client connection.
func (r *Recognizer) Close() error {
	err := r.client.Close()
	if r.conn != nil {
		_ = r.conn.Close()
	}
	return err
}

// Start opens one single-utterance, final-results-only stream.
func (r *Recognizer) Start(ctx context.Context, rc recognition.Config, pcm <-chan []byte) (recognition.Session, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := r.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, classify(err)
	}

	recCfg := &speechpb.RecognitionConfig{
		Encoding:          speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:   int32(rc.SampleRate),
		AudioChannelCount: 1,
		LanguageCode:      rc.LanguageCode,
		Model:             strings.TrimSpace(rc.Model),

		EnableAutomaticPunctuation: true,
	}
	for _, phrase := range rc.Phrases {
		text := strings.TrimSpace(phrase.Text)
		if text == "" {
			continue
		}
		recCfg.SpeechContexts = append(recCfg.SpeechContexts, &speechpb.SpeechContext{Phrases: []string{text}, Boost: phrase.Boost})
	}

	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recCfg,
				SingleUtterance: true,
				InterimResults:  false,
			},
		},
	}
	if err := stream.Send(req); err != nil {
		cancel()
		return nil, classify(err)
	}

	s := &session{
		Stream:         recognition.NewStream(),
		ctx:            streamCtx,
		cancel:         cancel,
		stream:         stream,
		debugSink:      r.cfg.DebugSink,
		logger:         r.cfg.Logger,
		endOfUtterance: make(chan struct{}),
	}
	go s.sendLoop(pcm)
	go s.recvLoop()
	return s, nil
}

type session struct {
	*recognition.Stream

	ctx    context.Context
	cancel context.CancelFunc
	stream speechpb.Speech_StreamingRecognizeClient

	debugSink io.Writer
	logger    *slog.Logger

	endOnce        sync.Once
	endOfUtterance chan struct{}
}

// sendLoop is the only goroutine that calls Send/CloseSend after setup.
func (s *session) sendLoop(pcm <-chan []byte) {
	defer func() { _ = s.stream.CloseSend() }()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.StopRequested():
			return
		case <-s.endOfUtterance:
			return
		case chunk, ok := <-pcm:
			if !ok {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
			})
			if err != nil {
				// the receive loop surfaces the stream error
				return
			}
		}
	}
}

// recvLoop is the only goroutine that emits events.
func (s *session) recvLoop() {
	defer s.cancel()
	defer s.Close()

	s.Emit(s.ctx, recognition.Event{Kind: recognition.EventStart})

	heard := false
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			if !heard && s.ctx.Err() == nil {
				s.Emit(s.ctx, recognition.Event{Kind: recognition.EventError, Code: recognition.CodeNoSpeech})
			}
			return
		}
		if err != nil {
			code := codeForStatus(status.Code(err))
			if s.ctx.Err() != nil {
				code = recognition.CodeAborted
			}
			s.Emit(context.Background(), recognition.Event{Kind: recognition.EventError, Code: code})
			return
		}

		s.dump(resp)

		if e := resp.GetError(); e != nil && codes.Code(e.GetCode()) != codes.OK {
			s.Emit(s.ctx, recognition.Event{Kind: recognition.EventError, Code: codeForStatus(codes.Code(e.GetCode()))})
			return
		}
		if resp.GetSpeechEventType() == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
			s.endOnce.Do(func() { close(s.endOfUtterance) })
		}
		if heard {
			continue
		}
		if transcript, ok := finalTranscript(resp); ok {
			heard = true
			s.Emit(s.ctx, recognition.Event{Kind: recognition.EventResult, Transcript: transcript})
		}
	}
}

func (s *session) dump(resp *speechpb.StreamingRecognizeResponse) {
	if s.debugSink == nil {
		return
	}
	b, err := protojson.Marshal(resp)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("unable to marshal speech response", "error", err)
		}
		return
	}
	_, _ = s.debugSink.Write(append(b, '\n'))
}

// finalTranscript returns the best alternative of the first final result.
func finalTranscript(resp *speechpb.StreamingRecognizeResponse) (string, bool) {
	for _, result := range resp.GetResults() {
		if !result.GetIsFinal() {
			continue
		}
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		return strings.TrimSpace(alternatives[0].GetTranscript()), true
	}
	return "", false
}

func codeForStatus(c codes.Code) recognition.Code {
	switch c {
	case codes.PermissionDenied, codes.Unauthenticated:
		return recognition.CodeNotAllowed
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return recognition.CodeNetwork
	case codes.Canceled:
		return recognition.CodeAborted
	default:
		return recognition.Code(strings.ToLower(c.String()))
	}
}

// classify wraps a setup error with its taxonomy sentinel.
func classify(err error) error {
	return fmt.Errorf("%w: %v", recognition.ErrorForCode(codeForStatus(status.Code(err))), err)
}

// waitForReady blocks until conn enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
