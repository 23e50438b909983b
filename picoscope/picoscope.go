// Package picoscope provides a hardware-abstracted façade over
// PicoScope 3000- and 6000-series digitizers running in rapid-block
// mode. Family dispatch is a small variant trait rather than runtime
// type switching: the Acquisition Engine holds a Variant and never
// needs to know which concrete series answered Open.
package picoscope

import (
	"fmt"
	"math"

	"github.com/jpl-pals/lifetimedaq/util"
)

// NumChannels is the fixed channel count this system addresses (A..D).
const NumChannels = 4

// Family identifies which PicoScope series a Variant implements.
type Family int

const (
	FamilyUnknown Family = iota
	Family3000
	Family6000
)

func (f Family) String() string {
	switch f {
	case Family3000:
		return "3000-series"
	case Family6000:
		return "6000-series"
	default:
		return "unknown"
	}
}

// Impedance is a channel input impedance.
type Impedance int

const (
	Impedance1M Impedance = iota
	Impedance50Ohm
)

// Coupling is a channel's AC/DC coupling.
type Coupling int

const (
	CouplingDC Coupling = iota
	CouplingAC
)

// Direction is a trigger edge direction.
type Direction int

const (
	DirectionFalling Direction = iota
	DirectionRising
)

// Fixed trigger parameters per spec.md's data model: the trigger
// level, direction, and hysteresis never vary, only which channels
// and how many OR'd conditions are active.
const (
	TriggerLevelMv    = -5.0
	TriggerDirection  = DirectionFalling
	TriggerHysteresis = 10 // ADC counts
	MaxTriggerConditions = 4
)

// TriggerCondition is one AND-of-channels group; conditions are OR'd
// together by the device. An empty Channels set is inactive.
type TriggerCondition struct {
	Channels []int // indices into [0,NumChannels)
}

func (c TriggerCondition) active() bool { return len(c.Channels) > 0 }

// TriggerSpec is the full trigger program: up to four OR'd conditions
// plus an optional auto-trigger timeout.
type TriggerSpec struct {
	Conditions    []TriggerCondition
	AutoTriggerMs int // 0 disables auto-trigger
}

// Validate rejects an all-inactive specification, an over-long
// condition list, and a channel index outside [0,NumChannels).
func (t TriggerSpec) Validate() error {
	if len(t.Conditions) > MaxTriggerConditions {
		return &DriverError{Kind: ConfigurationInvalid, Message: fmt.Sprintf("trigger spec has %d conditions, max %d", len(t.Conditions), MaxTriggerConditions)}
	}
	for _, c := range t.Conditions {
		for _, ch := range c.Channels {
			if ch < 0 || ch >= NumChannels {
				return &DriverError{Kind: ConfigurationInvalid, Message: fmt.Sprintf("trigger channel %d outside [0,%d)", ch, NumChannels)}
			}
		}
	}
	any := false
	for _, c := range t.Conditions {
		if c.active() {
			any = true
			break
		}
	}
	if !any {
		return &DriverError{Kind: ConfigurationInvalid, Message: "trigger specification has no active conditions"}
	}
	return nil
}

// ChannelConfig is the per-channel programming request passed to
// configure_channels.
type ChannelConfig struct {
	RangeMv    float64
	Coupling   Coupling
	Impedance  Impedance
	Bandwidth  string // "full" is the only value this system uses
	Enabled    bool
}

// DefaultChannelConfig matches the contract in spec.md §4.1: 100mV
// range, DC coupling, full bandwidth, all channels on. Impedance
// defaults per-family (1MΩ on 3000-series, 50Ω on 6000-series) and is
// applied by the caller before configure_channels runs.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{RangeMv: 100, Coupling: CouplingDC, Bandwidth: "full", Enabled: true}
}

// ScopeSettings is the normalized result of channel+timebase
// configuration, frozen for the life of a run.
type ScopeSettings struct {
	Family           Family
	SampleIntervalNs float64
	PreSamples       int
	PostSamples      int
	TotalSamples     int
	ResolutionBits   int
	RangeMv          float64
	MaxAdc           int32
	TimebaseIndex    uint32
}

// DeviceInfo is returned by Open.
type DeviceInfo struct {
	Family Family
	Serial string
	MaxAdc int32
}

// TriggerSummary reports back what configure_trigger actually programmed.
type TriggerSummary struct {
	NumConditions  int
	ChannelLists   [][]int
	ThresholdMv    float64
	Direction      Direction
	AutoTriggerMs  int
}

// BindAction selects the buffer-binding mode for bind_buffers; only
// the 6000-series implementation distinguishes Add from ClearAllAdd.
type BindAction int

const (
	BindActionAdd BindAction = iota
	BindActionClearAllAdd
)

// ReadyState is the result of poll_ready.
type ReadyState int

const (
	NotReady ReadyState = iota
	Ready
	PollError
)

// Variant is the small trait a digitizer family implements; the
// Acquisition Engine only ever talks to this interface; see
// picoscope/ps3000 and picoscope/ps6000 for the two concrete
// implementations, and Mock (mock.go) for a hardware-free fake used
// in tests and headless operation.
type Variant interface {
	Family() Family
	DeviceInfo() DeviceInfo

	ConfigureChannels(cfg ChannelConfig) (ScopeSettings, error)
	ResolveTimebase(preNs, postNs float64, channelCount int) (ScopeSettings, error)
	ConfigureTrigger(spec TriggerSpec, settings ScopeSettings) (TriggerSummary, error)

	AllocateSegments(count int) error
	SetCaptureCount(count int) error
	BindBuffers(channel, segment int, buf []int16, action BindAction) error

	RunBlock(pre, post int, timebase uint32) error
	PollReady() (ReadyState, error)
	BulkDownload(startSegment, endSegment int) error

	Stop() error
	Close() error
}

// MvToAdc converts a millivolt level to a clamped signed 16-bit ADC
// code, per spec.md §6.
func MvToAdc(mv, rangeMv float64, maxAdc int32) int16 {
	code := math.Round(mv * float64(maxAdc) / rangeMv)
	clamped := util.Clamp(code, -32768, 32767)
	return int16(clamped)
}

// AdcToMv converts a signed ADC code to millivolts, per spec.md §6.
func AdcToMv(code int16, rangeMv float64, maxAdc int32) float64 {
	return float64(code) * rangeMv / float64(maxAdc)
}
