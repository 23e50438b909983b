// Package analysis implements read-only operators over an event
// store snapshot: per-channel energy histograms and per-pair timing
// difference histograms.
package analysis

import (
	"bufio"
	"io"
	"math"

	"github.com/jpl-pals/lifetimedaq/calibration"
	"github.com/jpl-pals/lifetimedaq/eventstore"
	"github.com/jpl-pals/lifetimedaq/util"
)

// Histogram is a simple equal-width binned count over [Lo,Hi]; a value
// equal to Hi is counted in the last bin.
type Histogram struct {
	Lo, Hi float64
	Counts []int
}

// BinWidth returns (Hi-Lo)/len(Counts), or 0 for an empty histogram.
func (h Histogram) BinWidth() float64 {
	if len(h.Counts) == 0 {
		return 0
	}
	return (h.Hi - h.Lo) / float64(len(h.Counts))
}

// EncodeCSV writes the histogram as two rows through a bufio.Writer:
// bin lower edges followed by counts.
func (h Histogram) EncodeCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	width := h.BinWidth()
	edges := make([]float64, len(h.Counts))
	counts := make([]float64, len(h.Counts))
	for i := range h.Counts {
		edges[i] = h.Lo + float64(i)*width
		counts[i] = float64(h.Counts[i])
	}
	if _, err := bw.WriteString("bin_lo," + util.Float64SliceToCSV(edges, 'G', -1) + "\n"); err != nil {
		return err
	}
	if _, err := bw.WriteString("count," + util.Float64SliceToCSV(counts, 'G', -1) + "\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func newHistogram(lo, hi float64, bins int) Histogram {
	return Histogram{Lo: lo, Hi: hi, Counts: make([]int, bins)}
}

func (h *Histogram) add(v float64) {
	if len(h.Counts) == 0 || h.Hi <= h.Lo {
		return
	}
	if v < h.Lo || v > h.Hi {
		return
	}
	width := h.BinWidth()
	idx := int((v - h.Lo) / width)
	if idx >= len(h.Counts) {
		idx = len(h.Counts) - 1
	}
	if idx < 0 {
		idx = 0
	}
	h.Counts[idx]++
}

// EnergyHistogramParams configures EnergyHistogram.
type EnergyHistogramParams struct {
	Channel    int
	Bins       int
	Range      *[2]float64 // nil selects observed min/max
	Calibrated bool
}

// EnergyHistogram iterates a snapshot, building a histogram of raw or
// calibrated energy for one channel. Events without a pulse on the
// channel are skipped; when Calibrated is true and the channel has no
// calibration, the channel is omitted entirely (the result is an
// empty histogram).
func EnergyHistogram(events []eventstore.Event, cal calibration.Channel, p EnergyHistogramParams) Histogram {
	bins := p.Bins
	if bins < 1 {
		bins = 1
	}
	if p.Calibrated && !cal.Calibrated {
		lo, hi := 0.0, 0.0
		if p.Range != nil {
			lo, hi = p.Range[0], p.Range[1]
		}
		return newHistogram(lo, hi, bins)
	}

	values := make([]float64, 0, len(events))
	for _, e := range events {
		if p.Channel < 0 || p.Channel >= len(e.Channels) {
			continue
		}
		ch := e.Channels[p.Channel]
		if !ch.HasPulse {
			continue
		}
		v := ch.EnergyMv
		if p.Calibrated {
			kev, ok := cal.Apply(v)
			if !ok {
				continue
			}
			v = kev
		}
		values = append(values, v)
	}

	lo, hi := 0.0, 0.0
	if p.Range != nil {
		lo, hi = p.Range[0], p.Range[1]
	} else {
		lo, hi = observedRange(values)
	}

	h := newHistogram(lo, hi, bins)
	for _, v := range values {
		h.add(v)
	}
	return h
}

func observedRange(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
