package main

import (
	"context"
	"math"
	"time"
)

// SampleChunk is an ordered, immutable batch of interleaved (I, Q)
// float32 pairs tagged with a monotonic sample-index offset and an
// ingestion timestamp.
type SampleChunk struct {
	Samples   []float32
	Offset    uint64
	Timestamp time.Time
}

// Pairs returns the number of complex samples in the chunk.
func (c SampleChunk) Pairs() int { return len(c.Samples) / 2 }

// SampleSource is the hardware abstraction boundary: something that
// delivers an async stream of sample chunks. Stream blocks until the
// context is cancelled or the source fails.
type SampleSource interface {
	Stream(ctx context.Context, out chan<- SampleChunk) error
	Name() string
}

// SimSource generates a complex exponential with a little dither, paced
// to real time. It stands in for the radio during development and tests.
type SimSource struct {
	SampleRate float64 // complex samples per second
	ToneOffset float64 // Hz from center
	ChunkPairs int     // complex samples per chunk
	Amplitude  float64
}

func NewSimSource(sampleRate float64) *SimSource {
	return &SimSource{
		SampleRate: sampleRate,
		ToneOffset: sampleRate / 8,
		ChunkPairs: 8192,
		Amplitude:  0.7,
	}
}

func (s *SimSource) Name() string { return "sim" }

func (s *SimSource) Stream(ctx context.Context, out chan<- SampleChunk) error {
	chunkInterval := time.Duration(float64(s.ChunkPairs) / s.SampleRate * float64(time.Second))
	if chunkInterval <= 0 {
		chunkInterval = time.Millisecond
	}
	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()

	phaseStep := 2 * math.Pi * s.ToneOffset / s.SampleRate
	var phase float64
	var offset uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		samples := make([]float32, s.ChunkPairs*2)
		for i := 0; i < s.ChunkPairs; i++ {
			samples[2*i] = float32(s.Amplitude * math.Cos(phase))
			samples[2*i+1] = float32(s.Amplitude * math.Sin(phase))
			phase += phaseStep
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}

		chunk := SampleChunk{Samples: samples, Offset: offset, Timestamp: time.Now()}
		offset += uint64(s.ChunkPairs)

		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
