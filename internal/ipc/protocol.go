package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Commands understood by a running debate session.
const (
	CommandStatus = "status"
	CommandToggle = "toggle"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandTurn   = "turn"
	CommandSend   = "send"
)

// maxFrameBytes bounds one request or response line.
const maxFrameBytes = 64 << 10

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingText    = errors.New("send requires text")
)

// Request is one newline-delimited command sent to the session owner.
type Request struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
}

// Validate checks that r names a known command and carries its arguments.
func (r Request) Validate() error {
	switch r.Command {
	case CommandStatus, CommandToggle, CommandPause, CommandResume, CommandTurn:
		return nil
	case CommandSend:
		if strings.TrimSpace(r.Text) == "" {
			return ErrMissingText
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, r.Command)
	}
}

// Response reports the outcome of one request and the session state after it.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(payload, '\n'))
	return err
}

// readFrame decodes one line into v. what names the frame in errors.
func readFrame(r io.Reader, v any, what string) error {
	line, err := bufio.NewReader(io.LimitReader(r, maxFrameBytes)).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}
