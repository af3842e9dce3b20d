package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/iqhub/pkg/dsp"
	"github.com/iqhub/pkg/lod"
)

// streamLoop pumps one session: source chunks into the ring buffer and
// recording accumulator, spectral frames out to subscribers at the
// target rate. A single goroutine performs both, which keeps the ring
// buffer single-writer and the reads serialized against writes.
type streamLoop struct {
	session  *Session
	manager  *SessionManager
	registry *Registry
	source   SampleSource
	metrics  *Metrics

	analyzer   *dsp.Analyzer
	controller *lod.Controller

	targetFPS   int
	qualityMode lod.Mode
	viewportW   int
	viewportH   int
	sendRaw     bool
}

func newStreamLoop(s *Session, m *SessionManager, r *Registry, src SampleSource, metrics *Metrics, cfg *Config) (*streamLoop, error) {
	window, err := dsp.ParseWindow(cfg.Stream.Window)
	if err != nil {
		return nil, err
	}
	analyzer, err := dsp.NewAnalyzer(cfg.Stream.FFTSize, window, cfg.Stream.Overlap)
	if err != nil {
		return nil, err
	}

	return &streamLoop{
		session:     s,
		manager:     m,
		registry:    r,
		source:      src,
		metrics:     metrics,
		analyzer:    analyzer,
		controller:  lod.NewController(),
		targetFPS:   cfg.Stream.TargetFPS,
		qualityMode: lod.Mode(cfg.Stream.QualityMode),
		viewportW:   cfg.Stream.ViewportWidth,
		viewportH:   cfg.Stream.ViewportHeight,
		sendRaw:     cfg.Stream.SendRawSamples,
	}, nil
}

// run blocks until the context is cancelled or the source fails. The
// caller owns error reporting to subscribers.
func (sl *streamLoop) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sl.session.setCancel(cancel)

	chunks := make(chan SampleChunk, 8)
	srcErr := make(chan error, 1)
	go func() {
		srcErr <- sl.source.Stream(ctx, chunks)
	}()

	fps := sl.targetFPS
	if fps <= 0 {
		fps = 30
	}
	frameTicker := time.NewTicker(time.Second / time.Duration(fps))
	defer frameTicker.Stop()

	// Stats go out about once a second.
	statsEvery := fps
	frameCount := 0

	for {
		select {
		case <-ctx.Done():
			log.Printf("Session %s stream loop stopped", sl.session.ID)
			return

		case err := <-srcErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				sl.manager.MarkError(sl.session.ID, err)
				sl.registry.Broadcast(sl.session.ID, errorEvent(sl.session.ID, err.Error()))
			}
			return

		case chunk := <-chunks:
			sl.ingest(chunk)

		case <-frameTicker.C:
			sl.renderFrame()
			frameCount++
			if frameCount%statsEvery == 0 {
				sl.broadcastStats()
			}
		}
	}
}

// ingest writes a chunk into the ring buffer and, when recording, the
// accumulator. Never blocks on I/O.
func (sl *streamLoop) ingest(chunk SampleChunk) {
	before := sl.session.Ring.OverflowCount()
	n := sl.session.Ring.Write(chunk.Samples)

	if sl.metrics != nil {
		sl.metrics.SamplesIngested.Add(float64(n))
		if sl.session.Ring.OverflowCount() > before {
			sl.metrics.BufferOverflows.Inc()
		}
	}

	if err := sl.manager.AddRecordingSamples(sl.session.ID, chunk); err != nil {
		log.Printf("Session %s: recording append failed: %v", sl.session.ID, err)
	}
}

// renderFrame computes one quality-adjusted spectral frame from the most
// recent samples and fans it out.
func (sl *streamLoop) renderFrame() {
	decision := sl.controller.Calculate(sl.viewportW, sl.viewportH, sl.session.SampleRate, float64(sl.targetFPS), sl.qualityMode)

	need := sl.analyzer.FFTSize() * 2
	samples, err := sl.session.Ring.ReadRecent(need)
	if err != nil {
		// Not enough retention configured for this FFT size; nothing
		// sensible to render.
		return
	}

	ts := time.Now()
	frame, err := sl.analyzer.Process(samples, sl.session.CenterFrequency, sl.session.SampleRate, ts)
	if err != nil {
		log.Printf("Session %s: transform failed: %v", sl.session.ID, err)
		return
	}

	magnitudes := lod.Decimate(frame.MagnitudesDB, decision.DecimationFactor)
	frequencies := lod.Decimate(frame.Frequencies, decision.DecimationFactor)

	sent := sl.registry.Broadcast(sl.session.ID, FFTDataMessage{
		Type:        EvtFFTData,
		SessionID:   sl.session.ID,
		Frequencies: frequencies,
		Magnitudes:  magnitudes,
		CenterFreq:  frame.CenterFrequency,
		SampleRate:  frame.SampleRate,
		Timestamp:   ts.UnixMilli(),
	})

	if sl.sendRaw {
		sent += sl.registry.Broadcast(sl.session.ID, IQSamplesMessage{
			Type:       EvtIQSamples,
			SessionID:  sl.session.ID,
			Samples:    samples,
			SampleRate: sl.session.SampleRate,
			CenterFreq: sl.session.CenterFrequency,
			Timestamp:  ts.UnixMilli(),
		})
	}

	sl.controller.RecordFrame()
	if sl.metrics != nil {
		sl.metrics.FramesBroadcast.Add(float64(sent))
		sl.metrics.RenderFPS.Set(sl.controller.AverageFPS())
	}
}

func (sl *streamLoop) broadcastStats() {
	stats := sl.session.Ring.Stats()
	sl.registry.Broadcast(sl.session.ID, StatsMessage{
		Type:        EvtStats,
		SessionID:   sl.session.ID,
		BufferLevel: stats.UtilizationPercent,
		Dropped:     sl.registry.Dropped(),
		Overflows:   stats.OverflowCount,
	})
}
