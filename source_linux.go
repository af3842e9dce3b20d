//go:build linux

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// DeviceSource reads cf32_le interleaved I/Q from a character device or
// named pipe.
type DeviceSource struct {
	Path       string
	SampleRate float64
	ChunkPairs int
}

func NewDeviceSource(path string, sampleRate float64) *DeviceSource {
	return &DeviceSource{Path: path, SampleRate: sampleRate, ChunkPairs: 8192}
}

func (d *DeviceSource) Name() string { return d.Path }

func (d *DeviceSource) Stream(ctx context.Context, out chan<- SampleChunk) error {
	fd, err := unix.Open(d.Path, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open device %s: %w", d.Path, err)
	}
	defer unix.Close(fd)

	// Larger pipe buffer helps throughput on fifo-backed devices.
	const maxPipeSize = 1024 * 1024
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, maxPipeSize)

	const bytesPerPair = 8 // two little-endian float32s
	buf := make([]byte, d.ChunkPairs*bytesPerPair)
	var offset uint64

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		totalRead := 0
		for totalRead < len(buf) {
			n, err := unix.Read(fd, buf[totalRead:])
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				return fmt.Errorf("read %s after %d bytes: %w", d.Path, totalRead, err)
			}
			if n == 0 {
				// Writer not ready yet; back off instead of spinning.
				time.Sleep(10 * time.Millisecond)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			totalRead += n
		}

		samples := make([]float32, d.ChunkPairs*2)
		for i := range samples {
			bits := binary.LittleEndian.Uint32(buf[i*4:])
			samples[i] = math.Float32frombits(bits)
		}

		chunk := SampleChunk{Samples: samples, Offset: offset, Timestamp: time.Now()}
		offset += uint64(d.ChunkPairs)

		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
