// Package protocol defines the JSON frames exchanged with the debate peer.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Frame type discriminators.
const (
	TypeSetup      = "setup"
	TypeUserText   = "user_text"
	TypeInfo       = "info"
	TypeAIResponse = "ai_response"
)

// TurnSentinel is the user_text body that asks the peer to speak next.
const TurnSentinel = "[AI_TURN]"

// ErrMalformed marks inbound frames that cannot be decoded.
var ErrMalformed = errors.New("malformed inbound frame")

// Setup is always the first frame on a connection.
type Setup struct {
	Type       string `json:"type"`
	Topic      string `json:"topic"`
	Position   string `json:"position"`
	Difficulty int    `json:"difficulty"`
}

func NewSetup(topic string, position string, difficulty int) Setup {
	return Setup{Type: TypeSetup, Topic: topic, Position: position, Difficulty: difficulty}
}

// UserText carries one user utterance or the turn sentinel.
type UserText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewUserText(text string) UserText {
	return UserText{Type: TypeUserText, Text: text}
}

// TurnRequest is the user_text frame that yields the floor to the peer.
func TurnRequest() UserText {
	return NewUserText(TurnSentinel)
}

// Inbound is the union of peer→client frames.
type Inbound struct {
	Type       string          `json:"type"`
	Message    string          `json:"message,omitempty"`
	Text       string          `json:"text,omitempty"`
	Audio      string          `json:"audio,omitempty"`
	Fallacies  json.RawMessage `json:"fallacies,omitempty"`
	Difficulty *int            `json:"difficulty,omitempty"`
}

// FallacyCount reports how many fallacies the peer flagged, when it sent a list.
func (in Inbound) FallacyCount() int {
	if len(in.Fallacies) == 0 {
		return 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(in.Fallacies, &items); err != nil {
		return 0
	}
	return len(items)
}

// Encode marshals an outbound frame.
func Encode(frame any) ([]byte, error) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return payload, nil
}

// Decode parses one inbound frame. Frames without a type are malformed.
func Decode(payload []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(in.Type) == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return in, nil
}
