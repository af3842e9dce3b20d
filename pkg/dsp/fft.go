package dsp

import (
	"fmt"
	"math"
	"sync"
)

// InvalidSizeError reports a transform size that is not a power of two.
type InvalidSizeError struct {
	Size int
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("dsp: fft size %d is not a power of two", e.Size)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// plan holds the precomputed bit-reversal permutation and twiddle factors
// for one transform size.
type plan struct {
	n       int
	bits    int
	bitrev  []int
	twiddle []complex128 // exp(-2πik/n) for k in [0, n/2)
}

func newPlan(n int) (*plan, error) {
	if !IsPowerOfTwo(n) {
		return nil, &InvalidSizeError{Size: n}
	}

	bits := 0
	for temp := n; temp > 1; temp >>= 1 {
		bits++
	}

	bitrev := make([]int, n)
	for i := 0; i < n; i++ {
		j := 0
		for k := 0; k < bits; k++ {
			if i&(1<<k) != 0 {
				j |= 1 << (bits - 1 - k)
			}
		}
		bitrev[i] = j
	}

	twiddle := make([]complex128, n/2)
	for k := range twiddle {
		angle := -2 * math.Pi * float64(k) / float64(n)
		twiddle[k] = complex(math.Cos(angle), math.Sin(angle))
	}

	return &plan{n: n, bits: bits, bitrev: bitrev, twiddle: twiddle}, nil
}

// execute runs the in-place iterative Cooley-Tukey transform: bit-reversal
// permutation followed by log2(n) butterfly stages.
func (p *plan) execute(x []complex128) {
	for i, j := range p.bitrev {
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}

	for size := 2; size <= p.n; size *= 2 {
		half := size / 2
		step := p.n / size
		for i := 0; i < p.n; i += size {
			k := 0
			for j := i; j < i+half; j++ {
				t := x[j+half] * p.twiddle[k]
				x[j+half] = x[j] - t
				x[j] = x[j] + t
				k += step
			}
		}
	}
}

// cpuBackend is the reference radix-2 implementation. Plans are cached per
// size; the cache lock is not held during the transform itself, so
// concurrent calls across sessions are fine.
type cpuBackend struct {
	mu    sync.Mutex
	plans map[int]*plan
}

func newCPUBackend() *cpuBackend {
	return &cpuBackend{plans: make(map[int]*plan)}
}

func (b *cpuBackend) name() string { return "cpu-radix2" }

func (b *cpuBackend) transform(x []complex128) error {
	b.mu.Lock()
	p, ok := b.plans[len(x)]
	if !ok {
		var err error
		p, err = newPlan(len(x))
		if err != nil {
			b.mu.Unlock()
			return err
		}
		b.plans[len(x)] = p
	}
	b.mu.Unlock()

	p.execute(x)
	return nil
}
