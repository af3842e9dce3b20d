package dsp

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// backend computes an in-place complex DFT. Implementations must be
// numerically equivalent: the accelerated path is substituted by
// availability, never by caller choice.
type backend interface {
	transform(x []complex128) error
	name() string
}

// gonumBackend wraps gonum's fourier package. CmplxFFT instances carry
// scratch state and are not safe for concurrent use, so they are pooled
// per transform size.
type gonumBackend struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
}

func newGonumBackend() *gonumBackend {
	return &gonumBackend{pools: make(map[int]*sync.Pool)}
}

func (b *gonumBackend) name() string { return "gonum-fourier" }

func (b *gonumBackend) transform(x []complex128) error {
	n := len(x)
	if !IsPowerOfTwo(n) {
		return &InvalidSizeError{Size: n}
	}

	b.mu.Lock()
	pool, ok := b.pools[n]
	if !ok {
		pool = &sync.Pool{New: func() interface{} {
			return fourier.NewCmplxFFT(n)
		}}
		b.pools[n] = pool
	}
	b.mu.Unlock()

	fft := pool.Get().(*fourier.CmplxFFT)
	coeff := fft.Coefficients(nil, x)
	copy(x, coeff)
	pool.Put(fft)
	return nil
}

var (
	backendOnce   sync.Once
	activeBackend backend
)

// defaultBackend picks the accelerated path when it proves itself
// numerically equivalent to the reference implementation on a probe
// transform, and falls back to the CPU path otherwise.
func defaultBackend() backend {
	backendOnce.Do(func() {
		cpu := newCPUBackend()
		accel := newGonumBackend()
		if probeBackend(accel, cpu) {
			activeBackend = accel
		} else {
			activeBackend = cpu
		}
	})
	return activeBackend
}

// BackendName reports which transform implementation is active.
func BackendName() string {
	return defaultBackend().name()
}

// probeBackend transforms a small known frame on both paths and checks
// agreement within the pinned equivalence tolerance.
func probeBackend(candidate, reference backend) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	const n = 16
	a := make([]complex128, n)
	b := make([]complex128, n)
	for i := 0; i < n; i++ {
		v := complex(math.Sin(2*math.Pi*3*float64(i)/n), math.Cos(2*math.Pi*3*float64(i)/n))
		a[i] = v
		b[i] = v
	}

	if candidate.transform(a) != nil || reference.transform(b) != nil {
		return false
	}
	for i := range a {
		diff := cmplxAbs(a[i] - b[i])
		ref := cmplxAbs(b[i])
		if ref > 1 && diff/ref > equivalenceTolerance {
			return false
		}
		if ref <= 1 && diff > equivalenceTolerance {
			return false
		}
	}
	return true
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// equivalenceTolerance is the relative error bound within which the
// accelerated and CPU transform paths must agree.
const equivalenceTolerance = 1e-4
