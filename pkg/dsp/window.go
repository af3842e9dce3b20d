package dsp

import (
	"fmt"
	"math"
)

// Window selects the taper applied to a frame before transform.
type Window int

const (
	Rectangular Window = iota
	Hamming
	Hann
	Blackman
)

func (w Window) String() string {
	switch w {
	case Rectangular:
		return "rectangular"
	case Hamming:
		return "hamming"
	case Hann:
		return "hann"
	case Blackman:
		return "blackman"
	default:
		return "unknown"
	}
}

// ParseWindow maps a config string to a Window kind.
func ParseWindow(s string) (Window, error) {
	switch s {
	case "", "rectangular":
		return Rectangular, nil
	case "hamming":
		return Hamming, nil
	case "hann":
		return Hann, nil
	case "blackman":
		return Blackman, nil
	default:
		return Rectangular, fmt.Errorf("dsp: unknown window %q", s)
	}
}

// Coefficients returns the n per-sample window weights. Rectangular is
// unity weight.
func (w Window) Coefficients(n int) []float64 {
	coeffs := make([]float64, n)
	if n == 1 {
		coeffs[0] = 1
		return coeffs
	}
	for i := 0; i < n; i++ {
		x := 2 * math.Pi * float64(i) / float64(n-1)
		switch w {
		case Hamming:
			coeffs[i] = 0.54 - 0.46*math.Cos(x)
		case Hann:
			coeffs[i] = 0.5 * (1 - math.Cos(x))
		case Blackman:
			coeffs[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		default:
			coeffs[i] = 1
		}
	}
	return coeffs
}
