//go:build !linux

package main

import (
	"context"
	"fmt"
)

// DeviceSource is only implemented for Linux device nodes and pipes; on
// other platforms use the simulator.
type DeviceSource struct {
	Path       string
	SampleRate float64
	ChunkPairs int
}

func NewDeviceSource(path string, sampleRate float64) *DeviceSource {
	return &DeviceSource{Path: path, SampleRate: sampleRate}
}

func (d *DeviceSource) Name() string { return d.Path }

func (d *DeviceSource) Stream(ctx context.Context, out chan<- SampleChunk) error {
	return fmt.Errorf("device source %s not supported on this platform", d.Path)
}
