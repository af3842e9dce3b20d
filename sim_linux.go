//go:build linux

package main

import (
	"encoding/binary"
	"log"
	"math"
	"math/rand"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// RunSimulator creates a named pipe at devicePath and streams cf32_le
// I/Q tone data into it, reopening the pipe when the reader goes away.
// It lets the full device ingest path run without radio hardware.
func RunSimulator(devicePath string, sampleRate float64) {
	_ = os.Remove(devicePath)
	if err := syscall.Mkfifo(devicePath, 0666); err != nil {
		log.Fatalf("[SIM] mkfifo: %v", err)
	}

	log.Printf("[SIM] Streaming cf32 I/Q to %s at %.0f S/s", devicePath, sampleRate)

	fd, err := unix.Open(devicePath, unix.O_WRONLY, 0)
	if err != nil {
		log.Fatalf("[SIM] open pipe: %v", err)
	}
	defer unix.Close(fd)

	const maxPipeSize = 1024 * 1024
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, maxPipeSize)

	const (
		samplesPerWrite = 8192
		amplitude       = 0.7
	)

	toneFreq := sampleRate / 8
	phaseStep := 2 * math.Pi * toneFreq / sampleRate
	writeBuf := make([]byte, samplesPerWrite*8)
	var phase float64

	for {
		for s := 0; s < samplesPerWrite; s++ {
			// A little dither keeps quantization spurs out of the spectrum.
			dither := (rand.Float64() - 0.5) * 1e-4
			i := float32(amplitude*math.Cos(phase) + dither)
			q := float32(amplitude*math.Sin(phase) + dither)

			idx := s * 8
			binary.LittleEndian.PutUint32(writeBuf[idx:], math.Float32bits(i))
			binary.LittleEndian.PutUint32(writeBuf[idx+4:], math.Float32bits(q))

			phase += phaseStep
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}

		if _, err := unix.Write(fd, writeBuf); err != nil {
			log.Println("[SIM] Pipe closed, waiting for reader...")
			unix.Close(fd)
			for {
				fd, err = unix.Open(devicePath, unix.O_WRONLY, 0)
				if err == nil {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}
