package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the streaming core.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	Subscribers     prometheus.Gauge
	FramesBroadcast prometheus.Counter
	DroppedFrames   prometheus.Counter
	SamplesIngested prometheus.Counter
	BufferOverflows prometheus.Counter
	RenderFPS       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "iqhub_active_sessions",
			Help: "Number of streaming sessions currently active",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "iqhub_subscribers",
			Help: "Number of connected subscribers",
		}),
		FramesBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "iqhub_frames_broadcast_total",
			Help: "Spectral and sample frames fanned out to subscribers",
		}),
		DroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "iqhub_frames_dropped_total",
			Help: "Frames dropped on slow or departed subscribers",
		}),
		SamplesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "iqhub_samples_ingested_total",
			Help: "Interleaved sample values written to ring buffers",
		}),
		BufferOverflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "iqhub_buffer_overflows_total",
			Help: "Ring buffer writes that exceeded capacity",
		}),
		RenderFPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "iqhub_render_fps",
			Help: "Average achieved spectral frame rate",
		}),
	}
}
