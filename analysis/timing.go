package analysis

import (
	"fmt"

	"github.com/jpl-pals/lifetimedaq/calibration"
	"github.com/jpl-pals/lifetimedaq/eventstore"
)

// EnergyGate is a closed energy window in keV used to select events
// for a timing-difference histogram.
type EnergyGate struct {
	Lo, Hi float64
}

func (g EnergyGate) contains(v float64) bool {
	return v >= g.Lo && v <= g.Hi
}

// TimingDifferenceParams configures TimingDifferenceHistogram. ChannelA
// and ChannelB must differ.
type TimingDifferenceParams struct {
	ChannelA, ChannelB int
	GateA, GateB       EnergyGate
	Bins               int
	Range              *[2]float64 // nil selects observed min/max
}

// TimingDifferenceHistogram builds a histogram of timing_ns(a) -
// timing_ns(b) over events where both channels have a pulse and their
// calibrated energies fall within their respective gates. calA and
// calB must both be calibrated or no event will qualify. ChannelA and
// ChannelB must differ; a coincidence between a channel and itself is
// not a meaningful lifetime measurement.
func TimingDifferenceHistogram(events []eventstore.Event, calA, calB calibration.Channel, p TimingDifferenceParams) (Histogram, error) {
	if p.ChannelA == p.ChannelB {
		return Histogram{}, fmt.Errorf("timing difference requires distinct channels, got %d and %d", p.ChannelA, p.ChannelB)
	}
	bins := p.Bins
	if bins < 1 {
		bins = 1
	}

	var deltas []float64
	for _, e := range events {
		if p.ChannelA < 0 || p.ChannelA >= len(e.Channels) || p.ChannelB < 0 || p.ChannelB >= len(e.Channels) {
			continue
		}
		a := e.Channels[p.ChannelA]
		b := e.Channels[p.ChannelB]
		if !a.HasPulse || !b.HasPulse {
			continue
		}
		kevA, ok := calA.Apply(a.EnergyMv)
		if !ok || !p.GateA.contains(kevA) {
			continue
		}
		kevB, ok := calB.Apply(b.EnergyMv)
		if !ok || !p.GateB.contains(kevB) {
			continue
		}
		deltas = append(deltas, a.TimingNs-b.TimingNs)
	}

	lo, hi := 0.0, 0.0
	if p.Range != nil {
		lo, hi = p.Range[0], p.Range[1]
	} else {
		lo, hi = observedRange(deltas)
	}

	h := newHistogram(lo, hi, bins)
	for _, d := range deltas {
		h.add(d)
	}
	return h, nil
}

// MaxTimingSlots is the number of independent timing-difference
// histograms that may share one display axis.
const MaxTimingSlots = 4
