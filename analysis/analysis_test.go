package analysis

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/jpl-pals/lifetimedaq/calibration"
	"github.com/jpl-pals/lifetimedaq/eventstore"
	"github.com/jpl-pals/lifetimedaq/pulse"
)

func identityCalibration() calibration.Channel {
	return calibration.Channel{Calibrated: true, Gain: 1, Offset: 0, Peak1Raw: 0, Peak2Raw: 1, CalibrationDate: time.Now()}
}

func TestEnergyHistogramRaw(t *testing.T) {
	var events []eventstore.Event
	for i := 0; i < 10; i++ {
		var ch [pulse.NumChannels]pulse.Result
		ch[0] = pulse.Result{HasPulse: true, EnergyMv: float64(i) * 10}
		events = append(events, eventstore.Event{ID: uint64(i), Channels: ch})
	}
	h := EnergyHistogram(events, calibration.Channel{}, EnergyHistogramParams{Channel: 0, Bins: 9})
	total := 0
	for _, c := range h.Counts {
		total += c
	}
	if total != 10 {
		t.Errorf("histogram holds %d counts, want 10", total)
	}
}

func TestEnergyHistogramCalibratedOmitsUncalibrated(t *testing.T) {
	var ch [pulse.NumChannels]pulse.Result
	ch[0] = pulse.Result{HasPulse: true, EnergyMv: 100}
	events := []eventstore.Event{{Channels: ch}}
	h := EnergyHistogram(events, calibration.Channel{}, EnergyHistogramParams{Channel: 0, Bins: 10, Calibrated: true})
	for _, c := range h.Counts {
		if c != 0 {
			t.Fatalf("expected no counts on an uncalibrated channel, got %+v", h.Counts)
		}
	}
}

// TestCoincidenceTimingDifference mirrors the seed scenario: channel A
// fires at trigger+50ns, channel B at trigger+60ns, jitter sigma=0.5ns,
// gated to [300,800] keV.
func TestCoincidenceTimingDifference(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const n = 10_000
	var events []eventstore.Event
	for i := 0; i < n; i++ {
		var ch [pulse.NumChannels]pulse.Result
		ch[0] = pulse.Result{HasPulse: true, TimingNs: 50 + r.NormFloat64()*0.5, EnergyMv: 500}
		ch[1] = pulse.Result{HasPulse: true, TimingNs: 60 + r.NormFloat64()*0.5, EnergyMv: 500}
		events = append(events, eventstore.Event{ID: uint64(i), Channels: ch})
	}

	cal := identityCalibration()
	gate := EnergyGate{Lo: 300, Hi: 800}

	var deltas []float64
	for _, e := range events {
		a, b := e.Channels[0], e.Channels[1]
		deltas = append(deltas, a.TimingNs-b.TimingNs)
	}
	mean, sigma := meanStd(deltas)
	if math.Abs(mean-(-10.0)) > 0.05 {
		t.Errorf("raw mean delta = %v, want -10.0 +- 0.05", mean)
	}
	wantSigma := math.Sqrt(2) * 0.5
	if math.Abs(sigma-wantSigma) > 0.05 {
		t.Errorf("raw sigma = %v, want ~%v", sigma, wantSigma)
	}

	h, err := TimingDifferenceHistogram(events, cal, cal, TimingDifferenceParams{
		ChannelA: 0, ChannelB: 1, GateA: gate, GateB: gate, Bins: 200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total := 0
	for _, c := range h.Counts {
		total += c
	}
	if total != n {
		t.Errorf("histogram holds %d events, want %d (gate should admit all)", total, n)
	}
}

// TestTimingDifferenceRejectsSameChannel: a coincidence between a
// channel and itself always has delta zero and is never meaningful.
func TestTimingDifferenceRejectsSameChannel(t *testing.T) {
	cal := identityCalibration()
	gate := EnergyGate{Lo: 300, Hi: 800}
	_, err := TimingDifferenceHistogram(nil, cal, cal, TimingDifferenceParams{
		ChannelA: 0, ChannelB: 0, GateA: gate, GateB: gate, Bins: 10,
	})
	if err == nil {
		t.Fatalf("expected an error for ChannelA == ChannelB")
	}
}

func TestTimingDifferenceGateExcludes(t *testing.T) {
	var ch [pulse.NumChannels]pulse.Result
	ch[0] = pulse.Result{HasPulse: true, TimingNs: 50, EnergyMv: 10} // out of gate after calibration
	ch[1] = pulse.Result{HasPulse: true, TimingNs: 60, EnergyMv: 500}
	events := []eventstore.Event{{Channels: ch}}

	cal := identityCalibration()
	gate := EnergyGate{Lo: 300, Hi: 800}
	h, err := TimingDifferenceHistogram(events, cal, cal, TimingDifferenceParams{
		ChannelA: 0, ChannelB: 1, GateA: gate, GateB: gate, Bins: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total := 0
	for _, c := range h.Counts {
		total += c
	}
	if total != 0 {
		t.Errorf("gated histogram should exclude the out-of-gate event, got %d counts", total)
	}
}

func meanStd(vals []float64) (mean, std float64) {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean = sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(vals)))
	return
}
