package pulse

import (
	"math"
	"math/rand"
	"testing"
)

func paramsFor(preSamples int, intervalNs float64) Params {
	return Params{PreSamples: preSamples, SampleIntervalNs: intervalNs}
}

// TestBaselineOnlyNoise mirrors the seed scenario: zero-mean gaussian
// noise should never cross the amplitude threshold.
func TestBaselineOnlyNoise(t *testing.T) {
	const total = 3749
	const pre = 1249
	const interval = 0.8
	r := rand.New(rand.NewSource(1))

	samples := make([]float64, total)
	for i := range samples {
		samples[i] = r.NormFloat64() * 0.3
	}

	res := Analyze(samples, paramsFor(pre, interval))
	if res.HasPulse {
		t.Fatalf("expected no pulse in pure noise, got %+v", res)
	}
	if !math.IsNaN(res.TimingNs) {
		t.Errorf("expected NaN timing, got %v", res.TimingNs)
	}
	if res.EnergyMv != 0 {
		t.Errorf("expected zero energy when no pulse, got %v", res.EnergyMv)
	}
}

// TestSingleCleanPulse mirrors the seed scenario for a triangular
// pulse peaking at -40mV with a 3-sample rise.
func TestSingleCleanPulse(t *testing.T) {
	const total = 3749
	const pre = 1249
	const interval = 0.8
	const peakAt = 1300
	const rise = 3

	samples := make([]float64, total)
	for i := peakAt - rise; i < peakAt; i++ {
		frac := float64(i-(peakAt-rise)) / float64(rise)
		samples[i] = -40 * frac
	}
	samples[peakAt] = -40
	for i := peakAt + 1; i < total; i++ {
		samples[i] = 0
	}

	res := Analyze(samples, paramsFor(pre, interval))
	if !res.HasPulse {
		t.Fatalf("expected a pulse, got %+v", res)
	}
	if math.Abs(res.PeakMv-(-40)) > 0.5 {
		t.Errorf("peak = %v, want ~-40", res.PeakMv)
	}
	want := 40.0
	if math.Abs(res.TimingNs-want) > 0.8 {
		t.Errorf("timing = %v ns, want %v +- 0.8", res.TimingNs, want)
	}
}

// TestOtherChannelsQuiet checks that a channel with no injected pulse
// (a flat line) reports has_pulse=false.
func TestOtherChannelsQuiet(t *testing.T) {
	samples := make([]float64, 2000)
	res := Analyze(samples, paramsFor(500, 0.8))
	if res.HasPulse {
		t.Fatalf("flat line must not be a pulse")
	}
}

// TestEnergyLinearity mirrors the seed scenario: doubling a
// rectangular pulse's amplitude should double its integrated energy.
func TestEnergyLinearity(t *testing.T) {
	const total = 2000
	const pre = 500
	const width = 200
	const interval = 1.0
	// the leading edge sits after the pre-trigger window, where the
	// CFD search begins
	const start = pre + 50

	mk := func(amp float64) []float64 {
		s := make([]float64, total)
		for i := start; i < start+width; i++ {
			s[i] = -amp
		}
		return s
	}

	r1 := Analyze(mk(40), paramsFor(pre, interval))
	r2 := Analyze(mk(80), paramsFor(pre, interval))

	if !r1.HasPulse || !r2.HasPulse {
		t.Fatalf("expected both pulses detected: %+v %+v", r1, r2)
	}
	ratio := r2.EnergyMv / r1.EnergyMv
	if math.Abs(ratio-2.0) > 0.01 {
		t.Errorf("energy ratio = %v, want 2.00 +- 0.01", ratio)
	}
}

// TestAmplitudeBoundaryInclusive: exactly 5mV amplitude must count.
func TestAmplitudeBoundaryInclusive(t *testing.T) {
	samples := make([]float64, 100)
	for i := 50; i < 60; i++ {
		samples[i] = -AmplitudeThreshold
	}
	res := Analyze(samples, paramsFor(40, 1.0))
	if !res.HasPulse {
		t.Fatalf("5mV amplitude must be treated as a pulse")
	}
}

// TestTouchNoCross: a waveform that touches the CFD threshold exactly
// once without crossing must not register a pulse. Fraction=1.0 puts
// the threshold exactly at the peak sample itself, so that sample
// touches T while nothing in the waveform is strictly below it --
// findCrossing's "samples[i] >= T && samples[i+1] < T" straddle
// condition can never be satisfied, regardless of how the waveform
// approaches the peak.
func TestTouchNoCross(t *testing.T) {
	const pre = 20
	samples := make([]float64, 60)
	// deep enough amplitude to pass the amplitude gate
	samples[pre+5] = -20
	samples[pre+6] = -40 // peak
	samples[pre+7] = -20
	p := paramsFor(pre, 1.0)
	p.Fraction = 1.0 // threshold == peak
	res := Analyze(samples, p)
	if res.HasPulse {
		t.Fatalf("touch without crossing must not register a pulse, got %+v", res)
	}
}

func TestAnalyzeWaveformIndependence(t *testing.T) {
	var chans [NumChannels][]float64
	for c := range chans {
		chans[c] = make([]float64, 100)
	}
	for i := 30; i < 40; i++ {
		chans[0][i] = -20
	}
	res := AnalyzeWaveform(chans, paramsFor(20, 1.0))
	if !res[0].HasPulse {
		t.Fatalf("channel A expected a pulse")
	}
	for c := 1; c < NumChannels; c++ {
		if res[c].HasPulse {
			t.Errorf("channel %d unexpectedly has a pulse", c)
		}
	}
}
