package recognition

import (
	"errors"
	"fmt"

	"github.com/rbright/rebuttal/internal/audio"
)

// Code is a recogniser error code.
type Code string

const (
	CodeNotAllowed   Code = "not-allowed"
	CodeAudioCapture Code = "audio-capture"
	CodeNoSpeech     Code = "no-speech"
	CodeNetwork      Code = "network"
	CodeAborted      Code = "aborted"
)

var (
	// ErrUnsupportedPlatform means no recogniser is configured.
	ErrUnsupportedPlatform = errors.New("speech recognition unavailable")
	// ErrNoSpeechDetected means a session ended without hearing speech.
	ErrNoSpeechDetected = errors.New("no speech detected")
	// ErrNetwork means the recogniser transport failed.
	ErrNetwork = errors.New("speech recognition network error")
	// ErrUserAborted means the session was cancelled on purpose.
	ErrUserAborted = errors.New("speech recognition aborted")
	// ErrNotListening is returned by Stop outside the listening state.
	ErrNotListening = errors.New("speech recognition is not listening")
)

// ErrorForCode maps a recogniser code onto the error taxonomy.
func ErrorForCode(code Code) error {
	switch code {
	case CodeNotAllowed:
		return audio.ErrPermissionDenied
	case CodeAudioCapture:
		return audio.ErrDeviceUnavailable
	case CodeNoSpeech:
		return ErrNoSpeechDetected
	case CodeNetwork:
		return ErrNetwork
	case CodeAborted:
		return ErrUserAborted
	default:
		return fmt.Errorf("speech recognition error: %s", code)
	}
}

// CodeFor maps a taxonomy error back onto a recogniser code.
func CodeFor(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrPermissionDenied):
		return CodeNotAllowed
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return CodeAudioCapture
	case errors.Is(err, ErrNoSpeechDetected):
		return CodeNoSpeech
	case errors.Is(err, ErrNetwork):
		return CodeNetwork
	case errors.Is(err, ErrUserAborted):
		return CodeAborted
	default:
		return Code(err.Error())
	}
}

// UserMessage is the transcript notice for code; aborted sessions stay silent.
func UserMessage(code Code) (string, bool) {
	switch code {
	case CodeAborted:
		return "", false
	case CodeNoSpeech:
		return "No speech detected. Please try again and speak clearly.", true
	case CodeAudioCapture:
		return "No microphone detected. Please check your audio input device.", true
	case CodeNotAllowed:
		return "Microphone access denied. Please grant microphone permission and try again.", true
	case CodeNetwork:
		return "Network error occurred. Please check your connection.", true
	default:
		return fmt.Sprintf("Speech recognition error: %s", code), true
	}
}
