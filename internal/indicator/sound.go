package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/faiface/beep"
	"github.com/jfreymuth/pulse"
)

type cueKind int

// Cues for recording start and stop, the opponent finishing a turn, and pause.
const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueCancel
)

const (
	cueRate = beep.SampleRate(24000)
	cueGap  = 22 * time.Millisecond
	cueRamp = 5 * time.Millisecond
)

type tone struct {
	hz   float64
	d    time.Duration
	gain float64
}

var cueTones = map[cueKind][]tone{
	cueStart:    {{hz: 880, d: 70 * time.Millisecond, gain: 0.18}, {hz: 1175, d: 70 * time.Millisecond, gain: 0.18}},
	cueStop:     {{hz: 620, d: 120 * time.Millisecond, gain: 0.18}},
	cueComplete: {{hz: 659, d: 60 * time.Millisecond, gain: 0.15}, {hz: 784, d: 60 * time.Millisecond, gain: 0.15}, {hz: 988, d: 90 * time.Millisecond, gain: 0.15}},
	cueCancel:   {{hz: 480, d: 75 * time.Millisecond, gain: 0.18}, {hz: 360, d: 90 * time.Millisecond, gain: 0.18}},
}

func emitCue(ctx context.Context, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := renderCue(kind)
	if len(samples) == 0 {
		return nil
	}
	return playCueSamples(ctx, samples)
}

func playCueSamples(ctx context.Context, samples []float32) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("rebuttal"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	rest := samples
	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		n := copy(buf, rest)
		rest = rest[n:]
		if len(rest) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(int(cueRate)),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("rebuttal cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

// cueStreamer sequences the tones of kind with short silences between them.
func cueStreamer(kind cueKind) beep.Streamer {
	tones := cueTones[kind]
	if len(tones) == 0 {
		return nil
	}
	parts := make([]beep.Streamer, 0, 2*len(tones)-1)
	for i, t := range tones {
		if i > 0 {
			parts = append(parts, beep.Silence(cueRate.N(cueGap)))
		}
		parts = append(parts, toneStreamer(t))
	}
	return beep.Seq(parts...)
}

// toneStreamer generates one sine tone with a short linear attack and release.
func toneStreamer(t tone) beep.Streamer {
	n := cueRate.N(t.d)
	ramp := min(n/10, cueRate.N(cueRamp))
	ramp = max(ramp, 1)

	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= n || t.hz <= 0 || t.gain <= 0 {
			return 0, false
		}
		i := 0
		for ; i < len(samples) && pos < n; i++ {
			env := min(1, float64(pos)/float64(ramp), float64(n-pos-1)/float64(ramp))
			v := math.Sin(2*math.Pi*t.hz*float64(pos)/float64(cueRate)) * t.gain * env
			samples[i] = [2]float64{v, v}
			pos++
		}
		return i, true
	})
}

// renderCue drains a cue into mono samples at cueRate.
func renderCue(kind cueKind) []float32 {
	s := cueStreamer(kind)
	if s == nil {
		return nil
	}
	var out []float32
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, float32(frame[0]))
		}
		if !ok {
			return out
		}
	}
}
