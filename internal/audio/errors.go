package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermissionDenied means the sound server refused microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrDeviceUnavailable means no usable input device could be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	// ErrPlaybackAbandoned is returned by Completion.Wait when a newer clip or a stop won.
	ErrPlaybackAbandoned = errors.New("playback abandoned")
)

// classifyOpenError tags an input-open failure with its taxonomy sentinel.
func classifyOpenError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
