package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// ErrEmptyClip is returned for payloads that decode to no samples.
var ErrEmptyClip = errors.New("audio clip is empty")

// Clip is one fully decoded AI reply: interleaved stereo float32 samples.
type Clip struct {
	SampleRate int
	Samples    []float32
}

// Frames is the number of stereo frames in the clip.
func (c *Clip) Frames() int {
	if c == nil {
		return 0
	}
	return len(c.Samples) / 2
}

// Release drops the decoded buffer.
func (c *Clip) Release() {
	if c != nil {
		c.Samples = nil
	}
}

// DecodeClip decodes a base64 MP3 (or RIFF/WAV) payload into PCM.
func DecodeClip(payload string) (*Clip, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode clip base64: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyClip
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		gain     = 1.0
	)
	if bytes.HasPrefix(raw, []byte("RIFF")) {
		streamer, format, err = wav.Decode(bytes.NewReader(raw))
		// beep's wav decoder scales 16 and 24 bit samples into [-0.5, 0.5].
		if err == nil && format.Precision >= 2 {
			gain = 2
		}
	} else {
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(raw)))
	}
	if err != nil {
		return nil, fmt.Errorf("decode clip: %w", err)
	}
	defer streamer.Close()

	clip := &Clip{SampleRate: int(format.SampleRate)}
	if n := streamer.Len(); n > 0 {
		clip.Samples = make([]float32, 0, n*2)
	}

	buf := make([][2]float64, 1024)
	for {
		n, ok := streamer.Stream(buf)
		for _, frame := range buf[:n] {
			clip.Samples = append(clip.Samples, scaleSample(frame[0], gain), scaleSample(frame[1], gain))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("read clip samples: %w", err)
	}
	if len(clip.Samples) == 0 {
		return nil, ErrEmptyClip
	}
	return clip, nil
}

func scaleSample(v, gain float64) float32 {
	return float32(max(-1, min(1, v*gain)))
}

// downmix averages interleaved stereo into mono.
func downmix(stereo []float32) []float32 {
	mono := make([]float32, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[2*i] + stereo[2*i+1]) / 2
	}
	return mono
}

// pcm16ToFloat converts s16le bytes into [-1,1) samples.
func pcm16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(v) / 32768
	}
	return out
}
