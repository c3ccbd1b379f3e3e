// Package state holds the tab-lifetime debate session state and publishes every
// mutation to subscribed observers.
package state

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role identifies who authored one transcript entry.
type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// Message is one immutable transcript entry.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp int64 // unix milliseconds
}

// Field names the part of the store a Change touched.
type Field string

const (
	FieldConnected  Field = "connected"
	FieldTranscript Field = "transcript"
	FieldRecording  Field = "recording"
	FieldAISpeaking Field = "ai_speaking"
	FieldPaused     Field = "paused"
	FieldTopic      Field = "topic"
	FieldPosition   Field = "position"
	FieldDifficulty Field = "difficulty"
	FieldAudioFrame Field = "audio_frame"
)

// Change is the diff published to observers after one mutation.
type Change struct {
	Field   Field
	Flag    bool
	Text    string
	Number  int
	Message Message
	Frame   []byte
}

// Observer receives published changes. Observers may read the store but must
// not mutate it from Observe.
type Observer interface {
	Observe(Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Change)

func (f ObserverFunc) Observe(c Change) {
	f(c)
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Connected  bool
	Transcript []Message
	Recording  bool
	AISpeaking bool
	Paused     bool
	Topic      string
	Position   Position
	Difficulty int
	AudioFrame []byte
}

// Store is the single session state container.
type Store struct {
	now func() time.Time

	// publishMu serializes mutate+notify so observers see changes in mutation order.
	publishMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	transcript []Message
	recording  bool
	aiSpeaking bool
	paused     bool
	topic      string
	position   Position
	difficulty int
	audioFrame []byte

	observersMu sync.RWMutex
	observers   map[int]Observer
	nextID      int
}

// NewStore returns a store with the default setup values.
func NewStore() *Store {
	return &Store{
		now:        time.Now,
		position:   PositionPro,
		difficulty: MinDifficulty,
		observers:  make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns its unsubscribe function.
func (s *Store) Subscribe(o Observer) func() {
	if o == nil {
		return func() {}
	}
	s.observersMu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = o
	s.observersMu.Unlock()

	return func() {
		s.observersMu.Lock()
		delete(s.observers, id)
		s.observersMu.Unlock()
	}
}

// update applies mutate under the state lock and then notifies observers.
func (s *Store) update(mutate func() Change) Change {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	change := mutate()
	s.mu.Unlock()

	s.observersMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.observersMu.RUnlock()

	for _, o := range observers {
		o.Observe(change)
	}
	return change
}

// AppendMessage creates and appends one transcript entry.
func (s *Store) AppendMessage(role Role, text string) Message {
	change := s.update(func() Change {
		msg := Message{
			ID:        ulid.Make().String(),
			Role:      role,
			Text:      text,
			Timestamp: s.now().UnixMilli(),
		}
		s.transcript = append(s.transcript, msg)
		return Change{Field: FieldTranscript, Message: msg}
	})
	return change.Message
}

func (s *Store) SetConnected(v bool) {
	s.update(func() Change {
		s.connected = v
		return Change{Field: FieldConnected, Flag: v}
	})
}

func (s *Store) SetRecording(v bool) {
	s.update(func() Change {
		s.recording = v
		return Change{Field: FieldRecording, Flag: v}
	})
}

func (s *Store) SetAISpeaking(v bool) {
	s.update(func() Change {
		s.aiSpeaking = v
		return Change{Field: FieldAISpeaking, Flag: v}
	})
}

func (s *Store) SetPaused(v bool) {
	s.update(func() Change {
		s.paused = v
		return Change{Field: FieldPaused, Flag: v}
	})
}

func (s *Store) SetTopic(topic string) {
	s.update(func() Change {
		s.topic = topic
		return Change{Field: FieldTopic, Text: topic}
	})
}

func (s *Store) SetPosition(p Position) {
	s.update(func() Change {
		s.position = p
		return Change{Field: FieldPosition, Text: string(p)}
	})
}

// SetDifficulty stores difficulty, normalizing out-of-range values to 1.
func (s *Store) SetDifficulty(d int) {
	s.update(func() Change {
		s.difficulty = ClampDifficulty(d)
		return Change{Field: FieldDifficulty, Number: s.difficulty}
	})
}

// SetAudioFrame replaces the current spectrum sample; nil clears it.
func (s *Store) SetAudioFrame(frame []byte) {
	s.update(func() Change {
		if frame == nil {
			s.audioFrame = nil
			return Change{Field: FieldAudioFrame}
		}
		s.audioFrame = append([]byte(nil), frame...)
		return Change{Field: FieldAudioFrame, Frame: append([]byte(nil), frame...)}
	})
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) Recording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording
}

func (s *Store) AISpeaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aiSpeaking
}

func (s *Store) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Store) Topic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topic
}

func (s *Store) Position() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *Store) Difficulty() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.difficulty
}

// AudioFrame returns a copy of the current spectrum sample, or nil.
func (s *Store) AudioFrame() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.audioFrame == nil {
		return nil
	}
	return append([]byte(nil), s.audioFrame...)
}

// Messages returns a copy of the transcript in insertion order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.transcript...)
}

// Snapshot copies the full store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Connected:  s.connected,
		Transcript: append([]Message(nil), s.transcript...),
		Recording:  s.recording,
		AISpeaking: s.aiSpeaking,
		Paused:     s.paused,
		Topic:      s.topic,
		Position:   s.position,
		Difficulty: s.difficulty,
	}
	if s.audioFrame != nil {
		snap.AudioFrame = append([]byte(nil), s.audioFrame...)
	}
	return snap
}

// Intensity is the mean spectrum energy scaled to [0,1]; 0 when nothing is audible.
func (s *Store) Intensity() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FrameIntensity(s.audioFrame)
}

// FrameIntensity averages a spectrum sample into [0,1].
func FrameIntensity(frame []byte) float64 {
	if len(frame) == 0 {
		return 0
	}
	sum := 0
	for _, v := range frame {
		sum += int(v)
	}
	return float64(sum) / float64(len(frame)) / 255
}
