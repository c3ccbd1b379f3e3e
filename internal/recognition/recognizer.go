// Package recognition runs single-shot speech recognition sessions against a
// pluggable recogniser and reports results into the debate session.
package recognition

import (
	"context"
	"sync"
	"time"
)

// EventKind enumerates recogniser session events.
type EventKind string

const (
	EventStart  EventKind = "start"
	EventResult EventKind = "result"
	EventError  EventKind = "error"
	EventEnd    EventKind = "end"
)

// Event is one recogniser notification.
type Event struct {
	Kind       EventKind
	Transcript string
	Code       Code
}

// Phrase is one vocabulary hint with its boost weight.
type Phrase struct {
	Text  string
	Boost float32
}

// Config selects the locale and audio format of a session.
type Config struct {
	LanguageCode    string
	SampleRate      int
	Model           string
	NoSpeechTimeout time.Duration
	Phrases         []Phrase
}

// Session is one running recognition. Events ends with EventEnd and is then closed.
type Session interface {
	Events() <-chan Event
	// Stop asks the session to finish; a result may still arrive.
	Stop() error
}

// Recognizer opens recognition sessions over a PCM stream.
type Recognizer interface {
	Start(ctx context.Context, cfg Config, pcm <-chan []byte) (Session, error)
}

// Stream is a Session implementation shared by recogniser backends. Emit and
// Close must be called from one goroutine.
type Stream struct {
	events    chan Event
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func NewStream() *Stream {
	return &Stream{
		events: make(chan Event, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *Stream) Events() <-chan Event {
	return s.events
}

func (s *Stream) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// StopRequested closes once Stop was called.
func (s *Stream) StopRequested() <-chan struct{} {
	return s.stop
}

// Emit delivers ev unless the stream already ended or ctx is done.
func (s *Stream) Emit(ctx context.Context, ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

// Close emits the final end event and closes Events exactly once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		select {
		case s.events <- Event{Kind: EventEnd}:
		default:
		}
		close(s.done)
		close(s.events)
	})
}
