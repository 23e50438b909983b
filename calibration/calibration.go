// Package calibration turns a channel's raw mV*ns energy scale into
// keV using a two-point linear fit against the Na-22 511 keV and
// 1275 keV reference lines.
package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/jpl-pals/lifetimedaq/util"
)

// Reference energies, in keV, used by the two-point fit.
const (
	ReferenceLow  = 511.0
	ReferenceHigh = 1275.0
)

// Validation bounds from the energy-calibration contract.
const (
	MinSampleSize          = 100
	MinPeakSeparationRatio = 0.10
	MinRatio               = 1.5
	MaxRatio               = 4.0
)

// GainLimits bounds the fitted gain, in keV per mV*ns.
var GainLimits = util.Limiter{Min: 1e-3, Max: 1e3}

// Reason names the sub-reason a calibration attempt failed.
type Reason string

const (
	ReasonTooFewEvents     Reason = "too_few_events"
	ReasonPeaksTooClose    Reason = "peaks_too_close"
	ReasonBadRatio         Reason = "bad_ratio"
	ReasonNonPositiveGain  Reason = "non_positive_gain"
	ReasonGainOutOfRange   Reason = "gain_out_of_range"
	ReasonEmptyPeakRegion  Reason = "empty_peak_region"
	ReasonNonFiniteGain    Reason = "non_finite_gain"
	ReasonIdenticalPeakRaw Reason = "identical_peak_raw"
)

// Error reports an invalid calibration attempt.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("calibration invalid: %s: %s", e.Reason, e.Detail)
}

// Channel holds the fitted state for one channel. A zero-value
// Channel is uncalibrated.
type Channel struct {
	Calibrated      bool
	Gain            float64 // keV per mV*ns
	Offset          float64 // keV
	Peak1Raw        float64 // mV*ns
	Peak2Raw        float64 // mV*ns
	CalibrationDate time.Time
}

// Apply converts a raw energy in mV*ns to keV. Calling it on an
// uncalibrated channel returns (0, false).
func (c Channel) Apply(raw float64) (float64, bool) {
	if !c.Calibrated {
		return 0, false
	}
	return c.Gain*raw + c.Offset, true
}

// HasPulseEnergy is the minimal view of an event's channel pulse that
// Fit needs: whether a pulse was present and its raw energy.
type HasPulseEnergy struct {
	HasPulse bool
	EnergyMv float64
}

// MinPeakRegionCount is the count below which FindPeak's caller
// should surface a non-fatal warning that the peak estimate is based
// on thin statistics.
const MinPeakRegionCount = 50

// FindPeak bins the raw energies of samples with HasPulse true that
// fall within [lo,hi] into 100 equal-width bins and returns the
// count-weighted mean of the bin centers, along with the number of
// samples that fell in range. ok is false if no sample falls in
// range. Callers should warn (not fail) when count < MinPeakRegionCount.
func FindPeak(samples []HasPulseEnergy, lo, hi float64) (peak float64, count int, ok bool) {
	const bins = 100
	if hi <= lo {
		return 0, 0, false
	}
	width := (hi - lo) / bins
	counts := make([]int, bins)
	any := false
	for _, s := range samples {
		if !s.HasPulse {
			continue
		}
		if s.EnergyMv < lo || s.EnergyMv > hi {
			continue
		}
		idx := int((s.EnergyMv - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
		any = true
	}
	if !any {
		return 0, 0, false
	}
	var weightedSum float64
	var total int
	for i, c := range counts {
		if c == 0 {
			continue
		}
		center := lo + (float64(i)+0.5)*width
		weightedSum += center * float64(c)
		total += c
	}
	return weightedSum / float64(total), total, true
}

// Fit computes the two-point linear calibration from raw peak
// positions peak1Raw < peak2Raw (corresponding to 511 and 1275 keV)
// given the full population of has-pulse samples used to validate
// sample size.
func Fit(samples []HasPulseEnergy, peak1Raw, peak2Raw float64, now time.Time) (Channel, error) {
	n := 0
	for _, s := range samples {
		if s.HasPulse {
			n++
		}
	}
	if n < MinSampleSize {
		return Channel{}, &Error{Reason: ReasonTooFewEvents, Detail: fmt.Sprintf("%d events with pulse, need >= %d", n, MinSampleSize)}
	}

	if peak1Raw == peak2Raw {
		return Channel{}, &Error{Reason: ReasonIdenticalPeakRaw, Detail: "peak positions must differ"}
	}

	maxAbs := math.Max(math.Abs(peak1Raw), math.Abs(peak2Raw))
	sep := math.Abs(peak2Raw-peak1Raw) / maxAbs
	if sep < MinPeakSeparationRatio {
		return Channel{}, &Error{Reason: ReasonPeaksTooClose, Detail: fmt.Sprintf("separation ratio %.4f < %.2f", sep, MinPeakSeparationRatio)}
	}

	ratio := peak2Raw / peak1Raw
	if ratio < MinRatio || ratio > MaxRatio {
		return Channel{}, &Error{Reason: ReasonBadRatio, Detail: fmt.Sprintf("ratio %.4f outside [%.1f,%.1f]", ratio, MinRatio, MaxRatio)}
	}

	gain := (ReferenceHigh - ReferenceLow) / (peak2Raw - peak1Raw)
	if math.IsNaN(gain) || math.IsInf(gain, 0) {
		return Channel{}, &Error{Reason: ReasonNonFiniteGain, Detail: "gain is not finite"}
	}
	if gain <= 0 {
		return Channel{}, &Error{Reason: ReasonNonPositiveGain, Detail: fmt.Sprintf("gain %.6g <= 0", gain)}
	}
	if !GainLimits.Check(gain) {
		return Channel{}, &Error{Reason: ReasonGainOutOfRange, Detail: fmt.Sprintf("gain %.6g outside [%.g,%.g]", gain, GainLimits.Min, GainLimits.Max)}
	}

	offset := ReferenceLow - gain*peak1Raw

	return Channel{
		Calibrated:      true,
		Gain:            gain,
		Offset:          offset,
		Peak1Raw:        peak1Raw,
		Peak2Raw:        peak2Raw,
		CalibrationDate: now,
	}, nil
}
