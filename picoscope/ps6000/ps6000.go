/*Package ps6000 drives PicoScope 6000-series digitizers through the
vendor ps6000 shared library. It implements picoscope.Variant for the
6000 family: generic channel enums and a stateless minimum-timebase
query (no iterative search is required; the device reports the
fastest index directly and the driver refines it only if the device
later contradicts the reported value). The requested input impedance
is not programmed into the device (see ConfigureChannels).
*/
package ps6000

/*
#cgo LDFLAGS: -lps6000
#include <stdlib.h>
#include "ps6000Api.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	cwch "github.com/lordadamson/cgo.wchar"

	"github.com/jpl-pals/lifetimedaq/picoscope"
)

const serialBufLen = 32

// PS6000 is a handle to one open 6000-series device.
type PS6000 struct {
	handle C.int16_t
	serial string
	maxAdc int32
}

// Open probes for a 6000-series device and returns a bound handle.
func Open() (*PS6000, error) {
	var handle C.int16_t
	status := C.ps6000OpenUnit(&handle, nil)
	if err := statusToErr(int(status), "ps6000OpenUnit"); err != nil {
		return nil, err
	}
	if handle <= 0 {
		return nil, &picoscope.DriverError{Kind: picoscope.DeviceNotFound, Message: "no 6000-series unit responded"}
	}

	serial, err := readSerial(handle)
	if err != nil {
		C.ps6000CloseUnit(handle)
		return nil, err
	}

	var maxAdc C.int16_t
	status = C.ps6000MaximumValue(handle, &maxAdc)
	if err := statusToErr(int(status), "ps6000MaximumValue"); err != nil {
		C.ps6000CloseUnit(handle)
		return nil, err
	}

	return &PS6000{handle: handle, serial: serial, maxAdc: int32(maxAdc)}, nil
}

func readSerial(handle C.int16_t) (string, error) {
	buf := cwch.NewWcharString(serialBufLen)
	var length C.int16_t
	status := C.ps6000GetUnitInfo(handle, (*C.int8_t)(buf.Pointer()), C.int16_t(serialBufLen), &length, C.PICO_BATCH_AND_SERIAL)
	if err := statusToErr(int(status), "ps6000GetUnitInfo"); err != nil {
		return "", err
	}
	str, err := buf.GoString()
	if err != nil {
		return "", &picoscope.DriverError{Kind: picoscope.DeviceUnsupported, Message: "serial buffer decode failed", Cause: err}
	}
	return str, nil
}

func (p *PS6000) Family() picoscope.Family { return picoscope.Family6000 }

func (p *PS6000) DeviceInfo() picoscope.DeviceInfo {
	return picoscope.DeviceInfo{Family: picoscope.Family6000, Serial: p.serial, MaxAdc: p.maxAdc}
}

// ConfigureChannels programs every channel with ps6000SetChannel. The
// requested impedance is not passed to that call, so the device keeps
// whatever termination the coupling setting implies; cfg.Impedance is
// used only to turn vendor status picoScopeImpedanceUnavailable into
// DeviceUnsupported (rather than a generic ConfigurationInvalid) when
// 50Ω was requested.
func (p *PS6000) ConfigureChannels(cfg picoscope.ChannelConfig) (picoscope.ScopeSettings, error) {
	for ch := 0; ch < picoscope.NumChannels; ch++ {
		status := C.ps6000SetChannel(p.handle, C.PS6000_CHANNEL(ch), boolToInt16(cfg.Enabled),
			couplingToVendor(cfg.Coupling), rangeToVendor(cfg.RangeMv), C.float(0), bandwidthToVendor(cfg.Bandwidth))
		if status == picoScopeImpedanceUnavailable && cfg.Impedance == picoscope.Impedance50Ohm {
			return picoscope.ScopeSettings{}, &picoscope.DriverError{Kind: picoscope.DeviceUnsupported, Message: "50Ω impedance unavailable on this unit; provide external 50Ω termination", VendorCode: int(status)}
		}
		if err := statusToErr(int(status), "ps6000SetChannel"); err != nil {
			return picoscope.ScopeSettings{}, err
		}
	}
	return picoscope.ScopeSettings{
		Family:         picoscope.Family6000,
		ResolutionBits: 8,
		RangeMv:        cfg.RangeMv,
		MaxAdc:         p.maxAdc,
	}, nil
}

// picoScopeImpedanceUnavailable is the vendor status code returned
// when a channel is programmed for a termination the installed unit
// does not support.
const picoScopeImpedanceUnavailable = 37 // PICO_INVALID_CHANNEL-adjacent per vendor docs

// ResolveTimebase implements the 6000-series stateless query: ask the
// device directly for the fastest timebase at the requested sample
// counts, then refine once if the device's answer doesn't actually
// hold (GetTimebase2 is authoritative; the initial query is only a
// starting point).
func (p *PS6000) ResolveTimebase(preNs, postNs float64, channelCount int) (picoscope.ScopeSettings, error) {
	tb, err := p.minimumTimebase(channelCount)
	if err != nil {
		return picoscope.ScopeSettings{}, err
	}

	interval, maxSamples, err := p.timebaseInfo(tb)
	if err != nil {
		return picoscope.ScopeSettings{}, err
	}
	pre := int(preNs / interval)
	post := int(postNs / interval)
	total := pre + post
	if total > maxSamples {
		// refine once: the reported minimum timebase didn't actually
		// hold for this sample count, step forward until it does.
		const refineSteps = 64
		found := false
		for step := uint32(1); step <= refineSteps; step++ {
			candidate := tb + step
			interval, maxSamples, err = p.timebaseInfo(candidate)
			if err != nil {
				continue
			}
			pre = int(preNs / interval)
			post = int(postNs / interval)
			total = pre + post
			if total <= maxSamples {
				tb = candidate
				found = true
				break
			}
		}
		if !found {
			return picoscope.ScopeSettings{}, &picoscope.DriverError{Kind: picoscope.TimebaseUnavailable, Message: fmt.Sprintf("no timebase satisfies %d channels at pre=%gns post=%gns", channelCount, preNs, postNs)}
		}
	}

	return picoscope.ScopeSettings{
		Family:           picoscope.Family6000,
		SampleIntervalNs: interval,
		PreSamples:       pre,
		PostSamples:      post,
		TotalSamples:     total,
		ResolutionBits:   8,
		MaxAdc:           p.maxAdc,
		TimebaseIndex:    tb,
	}, nil
}

func (p *PS6000) minimumTimebase(channelCount int) (uint32, error) {
	var tb C.uint32_t
	status := C.ps6000GetTimebase2Hint(p.handle, C.int16_t(channelCount), &tb)
	if err := statusToErrKind(int(status), picoscope.TimebaseUnavailable, "ps6000GetTimebase2Hint"); err != nil {
		return 0, err
	}
	return uint32(tb), nil
}

func (p *PS6000) timebaseInfo(tb uint32) (intervalNs float64, maxSamples int, err error) {
	var interval C.float
	var samples C.int32_t
	status := C.ps6000GetTimebase2(p.handle, C.uint32_t(tb), 0, &interval, 0, &samples, 0)
	if e := statusToErrKind(int(status), picoscope.TimebaseUnavailable, "ps6000GetTimebase2"); e != nil {
		return 0, 0, e
	}
	return float64(interval), int(samples), nil
}

// ConfigureTrigger programs the level (converted to ADC counts),
// hysteresis, falling direction, and AND/OR channel logic named in
// spec.md §4.1. Each Condition becomes one PS6000_TRIGGER_CONDITIONS
// entry (its listed channels ANDed together via CONDITION_TRUE, the
// rest DONT_CARE); the array of conditions is the device's OR across
// them. Every channel that appears in any condition gets its threshold
// and hysteresis programmed and its direction armed to FALLING;
// channels that appear nowhere stay NONE.
func (p *PS6000) ConfigureTrigger(spec picoscope.TriggerSpec, settings picoscope.ScopeSettings) (picoscope.TriggerSummary, error) {
	if err := spec.Validate(); err != nil {
		return picoscope.TriggerSummary{}, err
	}
	thresholdAdc := picoscope.MvToAdc(picoscope.TriggerLevelMv, settings.RangeMv, settings.MaxAdc)

	conditions := make([]C.PS6000_TRIGGER_CONDITIONS, 0, len(spec.Conditions))
	lists := make([][]int, 0, len(spec.Conditions))
	var armed [picoscope.NumChannels]bool
	for _, cond := range spec.Conditions {
		if len(cond.Channels) == 0 {
			continue
		}
		var tc C.PS6000_TRIGGER_CONDITIONS
		for _, ch := range cond.Channels {
			setConditionState(&tc, ch, C.PS6000_CONDITION_TRUE)
			if armed[ch] {
				continue // threshold/hysteresis already programmed for this channel
			}
			armed[ch] = true
			status := C.ps6000SetTriggerChannelProperties2(p.handle, C.PS6000_CHANNEL(ch),
				C.int16_t(thresholdAdc), C.uint32_t(picoscope.TriggerHysteresis), C.uint32_t(spec.AutoTriggerMs))
			if err := statusToErr(int(status), "ps6000SetTriggerChannelProperties2"); err != nil {
				return picoscope.TriggerSummary{}, err
			}
		}
		conditions = append(conditions, tc)
		lists = append(lists, cond.Channels)
	}
	if len(conditions) == 0 {
		return picoscope.TriggerSummary{}, &picoscope.DriverError{Kind: picoscope.ConfigurationInvalid, Message: "no trigger conditions with channels"}
	}

	var directions [picoscope.NumChannels]C.PS6000_THRESHOLD_DIRECTION
	for ch := range directions {
		if armed[ch] {
			directions[ch] = C.PS6000_THRESHOLD_DIRECTION(C.PS6000_FALLING)
		} else {
			directions[ch] = C.PS6000_THRESHOLD_DIRECTION(C.PS6000_NONE)
		}
	}
	status := C.ps6000SetTriggerChannelDirections(p.handle,
		directions[0], directions[1], directions[2], directions[3],
		C.PS6000_THRESHOLD_DIRECTION(C.PS6000_NONE), C.PS6000_THRESHOLD_DIRECTION(C.PS6000_NONE))
	if err := statusToErr(int(status), "ps6000SetTriggerChannelDirections"); err != nil {
		return picoscope.TriggerSummary{}, err
	}

	status = C.ps6000SetTriggerChannelConditions(p.handle, &conditions[0], C.int16_t(len(conditions)))
	if err := statusToErr(int(status), "ps6000SetTriggerChannelConditions"); err != nil {
		return picoscope.TriggerSummary{}, err
	}

	return picoscope.TriggerSummary{
		NumConditions: len(lists),
		ChannelLists:  lists,
		ThresholdMv:   picoscope.TriggerLevelMv,
		Direction:     picoscope.TriggerDirection,
		AutoTriggerMs: spec.AutoTriggerMs,
	}, nil
}

// setConditionState sets the trigger-condition state for one of the
// four addressable channels; ch outside [0,NumChannels) is ignored
// since TriggerSpec.Validate already rejects it.
func setConditionState(tc *C.PS6000_TRIGGER_CONDITIONS, ch int, state C.PS6000_TRIGGER_STATE) {
	switch ch {
	case 0:
		tc.channelA = state
	case 1:
		tc.channelB = state
	case 2:
		tc.channelC = state
	case 3:
		tc.channelD = state
	}
}

func (p *PS6000) AllocateSegments(count int) error {
	var maxSamples C.int32_t
	status := C.ps6000MemorySegments(p.handle, C.uint32_t(count), &maxSamples)
	return statusToErr(int(status), "ps6000MemorySegments")
}

func (p *PS6000) SetCaptureCount(count int) error {
	status := C.ps6000SetNoOfCaptures(p.handle, C.uint32_t(count))
	return statusToErr(int(status), "ps6000SetNoOfCaptures")
}

// BindBuffers uses CLEAR_ALL|ADD for the first segment of a
// (re)programming pass and plain ADD afterwards, per the resolved
// Open Question on 6000-series buffer-binding semantics: this is the
// only order that doesn't silently drop segment 0's prior binding
// when batch_size changes between runs.
func (p *PS6000) BindBuffers(channel, segment int, buf []int16, action picoscope.BindAction) error {
	if len(buf) == 0 {
		return &picoscope.DriverError{Kind: picoscope.BufferBindingFailed, Message: "empty buffer"}
	}
	mode := C.PS6000_ADD
	if action == picoscope.BindActionClearAllAdd {
		mode = C.PS6000_CLEAR_ALL | C.PS6000_ADD
	}
	status := C.ps6000SetDataBufferBulk(p.handle, C.PS6000_CHANNEL(channel),
		(*C.int16_t)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), C.uint32_t(segment), C.PS6000_RATIO_MODE(mode))
	return statusToErrKind(int(status), picoscope.BufferBindingFailed, "ps6000SetDataBufferBulk")
}

func (p *PS6000) RunBlock(pre, post int, timebase uint32) error {
	status := C.ps6000RunBlock(p.handle, C.uint32_t(pre), C.uint32_t(post), C.uint32_t(timebase), 0, nil, 0, nil, nil)
	return statusToErr(int(status), "ps6000RunBlock")
}

func (p *PS6000) PollReady() (picoscope.ReadyState, error) {
	var ready C.int16_t
	status := C.ps6000IsReady(p.handle, &ready)
	if err := statusToErr(int(status), "ps6000IsReady"); err != nil {
		return picoscope.PollError, err
	}
	if ready != 0 {
		return picoscope.Ready, nil
	}
	return picoscope.NotReady, nil
}

func (p *PS6000) BulkDownload(startSegment, endSegment int) error {
	count := C.uint32_t(endSegment - startSegment + 1)
	var overflow C.int16_t
	status := C.ps6000GetValuesBulk(p.handle, &count, C.uint32_t(startSegment), C.uint32_t(endSegment), &overflow)
	return statusToErrKind(int(status), picoscope.DownloadFailed, "ps6000GetValuesBulk")
}

func (p *PS6000) Stop() error {
	status := C.ps6000Stop(p.handle)
	return statusToErr(int(status), "ps6000Stop")
}

func (p *PS6000) Close() error {
	status := C.ps6000CloseUnit(p.handle)
	return statusToErr(int(status), "ps6000CloseUnit")
}

func statusToErr(status int, procedure string) error {
	return picoscope.Enrich(status, picoscope.ConfigurationInvalid, procedure)
}

func statusToErrKind(status int, kind picoscope.Kind, procedure string) error {
	return picoscope.Enrich(status, kind, procedure)
}

func boolToInt16(b bool) C.int16_t {
	if b {
		return 1
	}
	return 0
}

func couplingToVendor(c picoscope.Coupling) C.PS6000_COUPLING {
	if c == picoscope.CouplingAC {
		return C.PS6000_AC
	}
	return C.PS6000_DC
}

func rangeToVendor(rangeMv float64) C.PS6000_RANGE {
	switch {
	case rangeMv <= 100:
		return C.PS6000_100MV
	case rangeMv <= 200:
		return C.PS6000_200MV
	default:
		return C.PS6000_500MV
	}
}

func bandwidthToVendor(bandwidth string) C.PS6000_BANDWIDTH_LIMITER {
	return C.PS6000_BW_FULL
}

var _ picoscope.Variant = (*PS6000)(nil)
