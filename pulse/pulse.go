// Package pulse extracts timing and energy from digitized waveforms.
//
// The analyzer is a pure function: given four channels of millivolt
// samples and the acquisition timing parameters, it returns one
// Result per input channel with no shared state and no I/O. It is
// safe to call from any goroutine, including concurrently on the
// channels of the same event.
package pulse

import "math"

// Channel order matches the fixed A,B,C,D layout used throughout the
// acquisition pipeline.
const NumChannels = 4

// Fraction is the constant-fraction-discrimination fraction applied to
// the pulse amplitude when searching for the timing crossing.
const Fraction = 0.5

// AmplitudeThreshold is the default minimum baseline-to-peak amplitude,
// in mV, required to call a waveform a pulse. It is independently
// configurable from the digitizer's trigger threshold.
const AmplitudeThreshold = 5.0

// Result is the per-channel outcome of analyzing one waveform.
type Result struct {
	HasPulse bool
	TimingNs float64 // NaN if HasPulse is false
	EnergyMv float64 // mV*ns, 0 if HasPulse is false
	PeakMv   float64
}

// Params carries the timing parameters shared by all four channels of
// one waveform; they come from the scope settings chosen at
// configuration time and do not vary capture to capture.
type Params struct {
	PreSamples       int
	SampleIntervalNs float64
	Fraction         float64 // 0 selects Fraction
	AmplitudeMinMv   float64 // 0 selects AmplitudeThreshold
}

func (p Params) fraction() float64 {
	if p.Fraction == 0 {
		return Fraction
	}
	return p.Fraction
}

func (p Params) amplitudeMin() float64 {
	if p.AmplitudeMinMv == 0 {
		return AmplitudeThreshold
	}
	return p.AmplitudeMinMv
}

// Analyze runs the per-channel extraction on a single channel's mV
// samples. samples must have length >= PreSamples+1.
func Analyze(samples []float64, p Params) Result {
	pre := p.PreSamples
	if pre < 0 || pre >= len(samples) {
		return Result{TimingNs: math.NaN()}
	}

	baseline := mean(samples[:pre])

	peakIdx := pre
	peak := samples[pre]
	for i := pre + 1; i < len(samples); i++ {
		if samples[i] < peak {
			peak = samples[i]
			peakIdx = i
		}
	}

	amplitude := baseline - peak
	if amplitude < p.amplitudeMin() {
		return Result{HasPulse: false, TimingNs: math.NaN(), EnergyMv: 0, PeakMv: peak}
	}

	threshold := baseline - p.fraction()*amplitude

	crossing, ok := findCrossing(samples, pre, peakIdx, threshold)
	if !ok {
		return Result{HasPulse: false, TimingNs: math.NaN(), EnergyMv: 0, PeakMv: peak}
	}

	tNs := (crossing - float64(pre)) * p.SampleIntervalNs
	energy := integrate(samples, baseline) * p.SampleIntervalNs

	return Result{
		HasPulse: true,
		TimingNs: tNs,
		EnergyMv: energy,
		PeakMv:   peak,
	}
}

// findCrossing searches [lo,hi] for the first consecutive sample pair
// straddling threshold from above, returning the linearly-interpolated
// fractional sample index of the crossing.
func findCrossing(samples []float64, lo, hi int, threshold float64) (float64, bool) {
	for i := lo; i < hi; i++ {
		if samples[i] >= threshold && samples[i+1] < threshold {
			denom := samples[i] - samples[i+1]
			if denom == 0 {
				return float64(i), true
			}
			frac := (samples[i] - threshold) / denom
			return float64(i) + frac, true
		}
	}
	return 0, false
}

// integrate returns the negated baseline-subtracted sum of the whole
// waveform, i.e. the raw charge integral in mV*samples (caller scales
// by the sample interval to get mV*ns).
func integrate(samples []float64, baseline float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s - baseline
	}
	return -sum
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// AnalyzeWaveform runs Analyze independently across all four channels
// of one capture.
func AnalyzeWaveform(channels [NumChannels][]float64, p Params) [NumChannels]Result {
	var out [NumChannels]Result
	for c := 0; c < NumChannels; c++ {
		out[c] = Analyze(channels[c], p)
	}
	return out
}
