package audio

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// Playback is one clip being rendered by a Speaker.
type Playback interface {
	// Done closes when the clip drains naturally. It never closes after Stop.
	Done() <-chan struct{}
	Stop()
}

// Speaker renders decoded clips; tap receives the mono mix of each block as it
// is handed to the output device.
type Speaker interface {
	Play(clip *Clip, tap func(mono []float32)) (Playback, error)
}

// PulseSpeaker plays clips on the default Pulse sink.
type PulseSpeaker struct{}

func (PulseSpeaker) Play(clip *Clip, tap func([]float32)) (Playback, error) {
	if clip == nil || len(clip.Samples) == 0 {
		return nil, ErrEmptyClip
	}

	client, err := newPulseClient("audio-speakers")
	if err != nil {
		return nil, err
	}

	samples := clip.Samples
	cursor := 0
	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		if cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if tap != nil {
			tap(downmix(buf[:n]))
		}
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(clip.SampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("rebuttal opponent"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}

	p := &pulsePlayback{client: client, stream: stream, done: make(chan struct{})}
	stream.Start()
	go p.drain()
	return p, nil
}

type pulsePlayback struct {
	client *pulse.Client
	stream *pulse.PlaybackStream
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (p *pulsePlayback) Done() <-chan struct{} {
	return p.done
}

func (p *pulsePlayback) drain() {
	p.stream.Drain()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	close(p.done)
	p.releaseLocked()
}

func (p *pulsePlayback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if !p.closed {
		p.stream.Stop()
	}
	p.releaseLocked()
}

func (p *pulsePlayback) releaseLocked() {
	if p.closed {
		return
	}
	p.closed = true
	p.stream.Close()
	p.client.Close()
}
