package audio

import (
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// EncodeWAV writes s16le mono PCM as a 16-bit WAV file.
func EncodeWAV(w io.WriteSeeker, pcm []byte, sampleRate int) error {
	samples := pcm16ToFloat(pcm)
	cursor := 0
	streamer := beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		if cursor >= len(samples) {
			return 0, false
		}
		n := 0
		for n < len(buf) && cursor < len(samples) {
			v := float64(samples[cursor])
			buf[n] = [2]float64{v, v}
			n++
			cursor++
		}
		return n, true
	})

	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 1, Precision: 2}
	if err := wav.Encode(w, streamer, format); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return nil
}
