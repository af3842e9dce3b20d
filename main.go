package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("p", 0, "Port to listen on (overrides config)")
	device := flag.String("d", "", "Sample device path (overrides config)")
	isSim := flag.Bool("sim", false, "Generate samples via named pipe instead of real hardware")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  Server Mode: go run . [options]")
		fmt.Fprintln(os.Stderr, "  Sim Mode:    go run . --sim [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *device != "" {
		cfg.Source.DevicePath = *device
	}

	// Simulation mode feeds the device path from a background tone
	// generator so the device source path gets exercised end to end.
	if *isSim {
		cfg.Source.Type = "device"
		go RunSimulator(cfg.Source.DevicePath, cfg.Source.SampleRate)
		// Give the simulator a moment to initialize the pipe
		time.Sleep(200 * time.Millisecond)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg)
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
