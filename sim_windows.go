//go:build !linux

package main

import "log"

// RunSimulator requires named pipes; use SimSource directly elsewhere.
func RunSimulator(devicePath string, sampleRate float64) {
	log.Fatal("[SIM] named-pipe simulator is only supported on Linux")
}
