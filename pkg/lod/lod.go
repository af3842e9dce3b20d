// Package lod selects a rendering level of detail that trades spectral
// resolution for throughput to hold a target frame rate. One Controller
// belongs to one render loop; the frame-rate history is never shared
// across sessions.
package lod

import (
	"fmt"
	"time"
)

// Tier is the coarse quality bucket of a decision.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Mode selects between the automatic controller and a fixed preset.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeHigh   Mode = "high"
	ModeMedium Mode = "medium"
	ModeLow    Mode = "low"
)

// Decision is the output of one control tick. Not persisted; the last
// decision is cached for telemetry.
type Decision struct {
	OutputWidth      int    `json:"output_width"`
	OutputHeight     int    `json:"output_height"`
	DecimationFactor int    `json:"decimation_factor"`
	QualityTier      Tier   `json:"quality_tier"`
	Reason           string `json:"reason"`
}

// historySize bounds the frame-interval observations.
const historySize = 60

// tier presets: decimation factor and texture cap per axis.
var presets = map[Tier]struct {
	factor int
	cap    int
}{
	TierHigh:   {1, 4096},
	TierMedium: {2, 2048},
	TierLow:    {4, 1024},
}

// Controller observes achieved frame intervals and picks a decimation
// factor and output resolution tier.
type Controller struct {
	intervalsMs  []float64
	lastFrame    time.Time
	lastDecision *Decision
}

func NewController() *Controller {
	return &Controller{intervalsMs: make([]float64, 0, historySize)}
}

// RecordFrame appends one frame-interval observation measured from the
// previous call. The first call only establishes the baseline.
func (c *Controller) RecordFrame() {
	now := time.Now()
	if !c.lastFrame.IsZero() {
		c.RecordInterval(float64(now.Sub(c.lastFrame)) / float64(time.Millisecond))
	}
	c.lastFrame = now
}

// RecordInterval appends a frame interval in milliseconds, discarding the
// oldest observation once the history exceeds its bound.
func (c *Controller) RecordInterval(ms float64) {
	c.intervalsMs = append(c.intervalsMs, ms)
	if len(c.intervalsMs) > historySize {
		c.intervalsMs = c.intervalsMs[1:]
	}
}

// AverageFPS derives the mean frame rate from the history, 0 when empty.
func (c *Controller) AverageFPS() float64 {
	if len(c.intervalsMs) == 0 {
		return 0
	}
	var sum float64
	for _, ms := range c.intervalsMs {
		sum += ms
	}
	avg := sum / float64(len(c.intervalsMs))
	if avg <= 0 {
		return 0
	}
	return 1000 / avg
}

// InstantFPS derives the frame rate from the most recent interval alone.
func (c *Controller) InstantFPS() float64 {
	if len(c.intervalsMs) == 0 {
		return 0
	}
	last := c.intervalsMs[len(c.intervalsMs)-1]
	if last <= 0 {
		return 0
	}
	return 1000 / last
}

// Calculate picks the level of detail for one control tick. A manual mode
// maps straight to its preset; auto mode applies the priority chain:
// sample rate above 20 MS/s forces low, above 10 MS/s forces medium, a
// measured average frame rate below target forces medium, otherwise high.
func (c *Controller) Calculate(viewportWidth, viewportHeight int, sampleRate, targetFPS float64, mode Mode) Decision {
	if targetFPS <= 0 {
		targetFPS = 30
	}

	var (
		tier   Tier
		reason string
	)

	switch mode {
	case ModeHigh, ModeMedium, ModeLow:
		tier = Tier(mode)
		reason = fmt.Sprintf("manual quality mode %q", mode)
	default:
		avg := c.AverageFPS()
		switch {
		case sampleRate > 20e6:
			tier = TierLow
			reason = fmt.Sprintf("sample rate %.1f MS/s above 20 MS/s", sampleRate/1e6)
		case sampleRate > 10e6:
			tier = TierMedium
			reason = fmt.Sprintf("sample rate %.1f MS/s above 10 MS/s", sampleRate/1e6)
		case avg > 0 && avg < targetFPS:
			tier = TierMedium
			reason = fmt.Sprintf("average frame rate %.1f fps below target %.0f fps", avg, targetFPS)
		default:
			tier = TierHigh
			reason = "frame rate within budget"
		}
	}

	preset := presets[tier]
	d := Decision{
		OutputWidth:      minInt(viewportWidth, preset.cap),
		OutputHeight:     minInt(viewportHeight, preset.cap),
		DecimationFactor: preset.factor,
		QualityTier:      tier,
		Reason:           reason,
	}
	c.lastDecision = &d
	return d
}

// LastDecision returns the cached result of the previous control tick, or
// nil before the first tick.
func (c *Controller) LastDecision() *Decision {
	return c.lastDecision
}

// Decimate block-averages values into len/factor bins; the final partial
// window is truncated, not zero padded. Factor 1 (or less) is an identity
// pass.
func Decimate(values []float64, factor int) []float64 {
	if factor <= 1 {
		return values
	}

	out := make([]float64, len(values)/factor)
	for i := range out {
		var sum float64
		for j := 0; j < factor; j++ {
			sum += values[i*factor+j]
		}
		out[i] = sum / float64(factor)
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
