package acquisition

import (
	"github.com/jpl-pals/lifetimedaq/pulse"
)

// State is the Acquisition Engine's run state.
type State int

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// Notification is the sum type carried on the engine's single
// notification channel, the explicit-channel stand-in for Qt
// signal/slot named in the re-architecture notes: a non-blocking
// multi-producer/single-consumer queue of typed messages. Each message
// sets only the Notification fields marked with its Kind; callers
// switch on Kind.
type NotificationKind int

const (
	WaveformReady NotificationKind = iota
	BatchComplete
	StorageWarning
	AcquisitionError
	StateChanged
)

func (k NotificationKind) String() string {
	switch k {
	case WaveformReady:
		return "WaveformReady"
	case BatchComplete:
		return "BatchComplete"
	case StorageWarning:
		return "StorageWarning"
	case AcquisitionError:
		return "AcquisitionError"
	case StateChanged:
		return "StateChanged"
	default:
		return "Unknown"
	}
}

// Waveform is a single representative capture, the first segment of a
// batch, offered to the UI for plotting.
type Waveform struct {
	Channels [pulse.NumChannels][]int16
}

// Notification is one message on the engine's notification channel.
type Notification struct {
	Kind NotificationKind

	Waveform *Waveform // WaveformReady

	BatchCount    int     // BatchComplete
	BatchRateHz   float64 // BatchComplete

	FillFraction float64 // StorageWarning
	StoreFull    bool    // StorageWarning

	Err error // AcquisitionError

	PreviousState State // StateChanged
	CurrentState  State // StateChanged
}
