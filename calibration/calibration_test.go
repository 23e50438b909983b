package calibration

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

// TestTwoPointCalibration mirrors the seed scenario: a 2000-event
// synthetic set with peaks near 200,000 and 500,000 mV*ns.
func TestTwoPointCalibration(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	samples := make([]HasPulseEnergy, 2000)
	for i := range samples {
		var e float64
		if i%2 == 0 {
			e = 200_000 + r.NormFloat64()*2000
		} else {
			e = 500_000 + r.NormFloat64()*2000
		}
		samples[i] = HasPulseEnergy{HasPulse: true, EnergyMv: e}
	}

	p1, _, ok := FindPeak(samples, 150_000, 250_000)
	if !ok {
		t.Fatalf("expected a peak in the low region")
	}
	p2, _, ok := FindPeak(samples, 450_000, 550_000)
	if !ok {
		t.Fatalf("expected a peak in the high region")
	}

	ch, err := Fit(samples, p1, p2, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}

	wantGain := (1275.0 - 511.0) / (500_000.0 - 200_000.0)
	if math.Abs(ch.Gain-wantGain) > 0.0001 {
		t.Errorf("gain = %v, want ~%v", ch.Gain, wantGain)
	}
	wantOffset := 511 - wantGain*200_000
	if math.Abs(ch.Offset-wantOffset) > 1 {
		t.Errorf("offset = %v, want ~%v", ch.Offset, wantOffset)
	}

	e1, ok := ch.Apply(200_000)
	if !ok || math.Abs(e1-511) > 1 {
		t.Errorf("apply(200000) = %v, want ~511", e1)
	}
	e2, ok := ch.Apply(500_000)
	if !ok || math.Abs(e2-1275) > 1 {
		t.Errorf("apply(500000) = %v, want ~1275", e2)
	}
}

func TestApplyInverseExact(t *testing.T) {
	e1raw, e2raw := 100.0, 300.0
	samples := make([]HasPulseEnergy, MinSampleSize)
	for i := range samples {
		samples[i] = HasPulseEnergy{HasPulse: true, EnergyMv: e1raw}
	}
	ch, err := Fit(samples, e1raw, e2raw, time.Now())
	if err != nil {
		t.Fatalf("Fit error: %v", err)
	}
	got1, _ := ch.Apply(e1raw)
	got2, _ := ch.Apply(e2raw)
	eps := 4 * math.SmallestNonzeroFloat64 * math.Abs(ch.Gain*e2raw)
	if math.Abs(got1-511) > math.Max(eps, 1e-9) {
		t.Errorf("apply(e1raw) = %v, want 511", got1)
	}
	if math.Abs(got2-1275) > math.Max(eps, 1e-9) {
		t.Errorf("apply(e2raw) = %v, want 1275", got2)
	}
}

func TestFitRejectsTooFewEvents(t *testing.T) {
	samples := make([]HasPulseEnergy, 10)
	for i := range samples {
		samples[i] = HasPulseEnergy{HasPulse: true, EnergyMv: 100}
	}
	_, err := Fit(samples, 100, 300, time.Now())
	var ce *Error
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errorsAs(err, &ce) || ce.Reason != ReasonTooFewEvents {
		t.Errorf("got %v, want ReasonTooFewEvents", err)
	}
}

func TestFitRejectsBadRatio(t *testing.T) {
	samples := make([]HasPulseEnergy, MinSampleSize)
	for i := range samples {
		samples[i] = HasPulseEnergy{HasPulse: true, EnergyMv: 100}
	}
	_, err := Fit(samples, 100, 1000, time.Now()) // ratio 10, outside [1.5,4.0]
	var ce *Error
	if err == nil || !errorsAs(err, &ce) || ce.Reason != ReasonBadRatio {
		t.Errorf("got %v, want ReasonBadRatio", err)
	}
}

func TestFitRejectsPeaksTooClose(t *testing.T) {
	samples := make([]HasPulseEnergy, MinSampleSize)
	for i := range samples {
		samples[i] = HasPulseEnergy{HasPulse: true, EnergyMv: 100}
	}
	_, err := Fit(samples, 200, 204, time.Now())
	var ce *Error
	if err == nil || !errorsAs(err, &ce) || ce.Reason != ReasonPeaksTooClose {
		t.Errorf("got %v, want ReasonPeaksTooClose", err)
	}
}

func TestFindPeakEmptyRange(t *testing.T) {
	_, _, ok := FindPeak(nil, 0, 100)
	if ok {
		t.Errorf("expected no peak for empty input")
	}
}

// errorsAs is a tiny local shim so the test doesn't need to import
// errors just for As with a single concrete type.
func errorsAs(err error, target **Error) bool {
	if ce, ok := err.(*Error); ok {
		*target = ce
		return true
	}
	return false
}
