package dsp

import (
	"fmt"
	"math"
	"time"
)

// epsilon keeps log10 finite on empty bins.
const epsilon = 1e-10

// Frame is one spectral result: dB magnitudes and the matching frequency
// axis, DC centered at index fftSize/2. Immutable once produced.
type Frame struct {
	Frequencies     []float64 `json:"frequencies"`
	MagnitudesDB    []float64 `json:"magnitudes"`
	CenterFrequency float64   `json:"centerFreq"`
	SampleRate      float64   `json:"sampleRate"`
	Timestamp       time.Time `json:"timestamp"`
}

// Analyzer turns interleaved I/Q frames into spectral frames. It is pure
// per call and safe to share across sessions.
type Analyzer struct {
	fftSize int
	window  Window
	coeffs  []float64
	hop     int
	backend backend
}

// NewAnalyzer builds an analyzer for a power-of-two fftSize. overlap is
// the batch-mode frame overlap fraction in [0, 1); the hop size is
// floor(fftSize * (1 - overlap)).
func NewAnalyzer(fftSize int, window Window, overlap float64) (*Analyzer, error) {
	if !IsPowerOfTwo(fftSize) {
		return nil, &InvalidSizeError{Size: fftSize}
	}
	if overlap < 0 || overlap >= 1 {
		return nil, fmt.Errorf("dsp: overlap %f outside [0, 1)", overlap)
	}

	hop := int(float64(fftSize) * (1 - overlap))
	if hop < 1 {
		hop = 1
	}

	return &Analyzer{
		fftSize: fftSize,
		window:  window,
		coeffs:  window.Coefficients(fftSize),
		hop:     hop,
		backend: defaultBackend(),
	}, nil
}

// FFTSize returns the configured transform size (bins per frame).
func (a *Analyzer) FFTSize() int { return a.fftSize }

// HopSize returns the batch-mode stride in samples (I/Q pairs).
func (a *Analyzer) HopSize() int { return a.hop }

// Process transforms one interleaved I/Q frame of length fftSize*2 into a
// spectral frame: window, FFT, power in dB, FFT shift, frequency axis.
func (a *Analyzer) Process(samples []float32, centerFreq, sampleRate float64, ts time.Time) (*Frame, error) {
	if len(samples) != a.fftSize*2 {
		return nil, fmt.Errorf("dsp: frame length %d, want %d interleaved values", len(samples), a.fftSize*2)
	}

	input := make([]complex128, a.fftSize)
	for i := 0; i < a.fftSize; i++ {
		w := a.coeffs[i]
		input[i] = complex(float64(samples[2*i])*w, float64(samples[2*i+1])*w)
	}

	if err := a.backend.transform(input); err != nil {
		return nil, err
	}

	n := a.fftSize
	half := n / 2
	binWidth := sampleRate / float64(n)

	frame := &Frame{
		Frequencies:     make([]float64, n),
		MagnitudesDB:    make([]float64, n),
		CenterFrequency: centerFreq,
		SampleRate:      sampleRate,
		Timestamp:       ts,
	}

	for i := 0; i < n; i++ {
		// FFT shift: output index i takes transform bin (i+half) mod n,
		// moving DC to the center of the axis.
		src := (i + half) % n
		re := real(input[src])
		im := imag(input[src])
		power := re*re + im*im
		frame.MagnitudesDB[i] = 10 * math.Log10(power+epsilon)
		frame.Frequencies[i] = centerFreq + float64(i-half)*binWidth
	}

	return frame, nil
}

// ProcessBatch extracts frames from a longer sample buffer at the
// configured hop stride until fewer than one full frame remains. A buffer
// shorter than one frame yields an empty result, not an error. Frame
// timestamps advance by the hop duration.
func (a *Analyzer) ProcessBatch(samples []float32, centerFreq, sampleRate float64, ts time.Time) ([]*Frame, error) {
	frameLen := a.fftSize * 2
	hopLen := a.hop * 2

	var frames []*Frame
	hopDuration := time.Duration(float64(a.hop) / sampleRate * float64(time.Second))

	for offset := 0; offset+frameLen <= len(samples); offset += hopLen {
		frame, err := a.Process(samples[offset:offset+frameLen], centerFreq, sampleRate, ts)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		ts = ts.Add(hopDuration)
	}
	return frames, nil
}
