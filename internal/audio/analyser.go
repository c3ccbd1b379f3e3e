package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// FFTSize is the analysis window length.
	FFTSize = 256
	// FrequencyBins is the number of values in one spectrum frame.
	FrequencyBins = FFTSize / 2

	smoothingTimeConstant = 0.8
	minDecibels           = -100.0
	maxDecibels           = -30.0
)

// Analyser turns the most recent FFTSize samples into a byte spectrum with
// Blackman windowing, exponential smoothing, and dB scaling into 0..255.
type Analyser struct {
	mu sync.Mutex

	fft      *fourier.FFT
	ring     []float64
	pos      int
	scratch  []float64
	coeffs   []complex128
	smoothed []float64
}

func NewAnalyser() *Analyser {
	return &Analyser{
		fft:      fourier.NewFFT(FFTSize),
		ring:     make([]float64, FFTSize),
		scratch:  make([]float64, FFTSize),
		smoothed: make([]float64, FrequencyBins),
	}
}

// Write appends mono samples to the analysis window.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % FFTSize
	}
}

// Reset clears the window and smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// Frame computes one spectrum sample from the current window.
func (a *Analyser) Frame() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	// oldest sample first
	n := copy(a.scratch, a.ring[a.pos:])
	copy(a.scratch[n:], a.ring[:a.pos])
	window.Blackman(a.scratch)

	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	out := make([]byte, FrequencyBins)
	for k := 0; k < FrequencyBins; k++ {
		re, im := real(a.coeffs[k]), imag(a.coeffs[k])
		magnitude := math.Sqrt(re*re+im*im) / FFTSize
		a.smoothed[k] = smoothingTimeConstant*a.smoothed[k] + (1-smoothingTimeConstant)*magnitude
		out[k] = decibelsToByte(a.smoothed[k])
	}
	return out
}

func decibelsToByte(magnitude float64) byte {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return byte(scaled)
	}
}
