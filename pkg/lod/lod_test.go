package lod

import (
	"math"
	"testing"
)

func TestAutoSelection(t *testing.T) {
	cases := []struct {
		name       string
		sampleRate float64
		priorFPS   float64 // 0 = no history
		want       Tier
	}{
		{"very high rate forces low", 25e6, 0, TierLow},
		{"high rate forces medium", 12e6, 0, TierMedium},
		{"slow renderer forces medium", 1e6, 20, TierMedium},
		{"no history defaults high", 1e6, 0, TierHigh},
		{"fast renderer stays high", 1e6, 60, TierHigh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController()
			if tc.priorFPS > 0 {
				for i := 0; i < 10; i++ {
					c.RecordInterval(1000 / tc.priorFPS)
				}
			}

			d := c.Calculate(1920, 1080, tc.sampleRate, 30, ModeAuto)
			if d.QualityTier != tc.want {
				t.Errorf("tier = %s, want %s (reason %q)", d.QualityTier, tc.want, d.Reason)
			}
			if d.Reason == "" {
				t.Error("decision carries no reason")
			}
		})
	}
}

func TestAutoThresholdTracksTarget(t *testing.T) {
	// 45 fps is healthy against a 30 fps target but lagging a 60 fps one.
	c := NewController()
	for i := 0; i < 10; i++ {
		c.RecordInterval(1000.0 / 45)
	}

	if d := c.Calculate(1920, 1080, 1e6, 30, ModeAuto); d.QualityTier != TierHigh {
		t.Errorf("tier at 30 fps target = %s, want high (reason %q)", d.QualityTier, d.Reason)
	}
	if d := c.Calculate(1920, 1080, 1e6, 60, ModeAuto); d.QualityTier != TierMedium {
		t.Errorf("tier at 60 fps target = %s, want medium (reason %q)", d.QualityTier, d.Reason)
	}
}

func TestAutoSelectionIsDeterministic(t *testing.T) {
	c := NewController()
	for i := 0; i < 5; i++ {
		c.RecordInterval(50) // 20 fps
	}
	first := c.Calculate(1920, 1080, 1e6, 30, ModeAuto)
	second := c.Calculate(1920, 1080, 1e6, 30, ModeAuto)
	if first != second {
		t.Errorf("identical inputs gave different decisions: %+v vs %+v", first, second)
	}
}

func TestManualPresets(t *testing.T) {
	cases := []struct {
		mode   Mode
		factor int
		cap    int
	}{
		{ModeHigh, 1, 4096},
		{ModeMedium, 2, 2048},
		{ModeLow, 4, 1024},
	}

	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			c := NewController()
			d := c.Calculate(8192, 600, 1e6, 30, tc.mode)
			if d.DecimationFactor != tc.factor {
				t.Errorf("decimation = %d, want %d", d.DecimationFactor, tc.factor)
			}
			// Width is clamped to the tier cap, height to the viewport.
			if d.OutputWidth != tc.cap {
				t.Errorf("width = %d, want %d", d.OutputWidth, tc.cap)
			}
			if d.OutputHeight != 600 {
				t.Errorf("height = %d, want 600", d.OutputHeight)
			}
		})
	}
}

func TestLastDecisionCached(t *testing.T) {
	c := NewController()
	if c.LastDecision() != nil {
		t.Error("expected no decision before first tick")
	}
	d := c.Calculate(1024, 768, 1e6, 30, ModeAuto)
	if got := c.LastDecision(); got == nil || *got != d {
		t.Errorf("cached decision %+v, want %+v", got, d)
	}
}

func TestHistoryBounded(t *testing.T) {
	c := NewController()
	// 100 slow frames, then 60 fast ones: only the fast window remains.
	for i := 0; i < 100; i++ {
		c.RecordInterval(100)
	}
	for i := 0; i < 60; i++ {
		c.RecordInterval(10)
	}
	if got := c.AverageFPS(); math.Abs(got-100) > 1e-9 {
		t.Errorf("average fps = %f, want 100 after old samples evicted", got)
	}
}

func TestFPSDerivation(t *testing.T) {
	c := NewController()
	if c.AverageFPS() != 0 {
		t.Error("empty history should report 0 fps")
	}
	c.RecordInterval(40)
	c.RecordInterval(20)
	if got := c.InstantFPS(); math.Abs(got-50) > 1e-9 {
		t.Errorf("instant fps = %f, want 50", got)
	}
	if got := c.AverageFPS(); math.Abs(got-1000.0/30.0) > 1e-9 {
		t.Errorf("average fps = %f, want %f", got, 1000.0/30.0)
	}
}

func TestDecimate(t *testing.T) {
	identity := []float64{1, 2, 3}
	if got := Decimate(identity, 1); &got[0] != &identity[0] {
		t.Error("factor 1 should be an identity pass")
	}

	got := Decimate([]float64{1, 2, 3, 4}, 2)
	want := []float64{1.5, 3.5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bin %d = %f, want %f", i, got[i], want[i])
		}
	}

	// Trailing partial window is dropped.
	if got := Decimate([]float64{1, 2, 3, 4, 5}, 2); len(got) != 2 {
		t.Errorf("len = %d, want 2 (partial window truncated)", len(got))
	}

	if got := Decimate([]float64{1, 2, 3}, 4); len(got) != 0 {
		t.Errorf("len = %d, want 0 for factor larger than input", len(got))
	}
}
