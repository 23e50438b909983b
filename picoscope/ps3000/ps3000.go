/*Package ps3000 drives PicoScope 3000-series digitizers through the
vendor ps3000a shared library. It implements picoscope.Variant for the
3000 family: fixed 1MΩ input impedance, a simple (single-channel)
trigger, and an iterative timebase search (the device has no stateless
"give me the fastest timebase" query, so resolve_timebase walks the
index upward until all four channels validate at the requested sample
counts).
*/
package ps3000

/*
#cgo LDFLAGS: -lps3000a
#include <stdlib.h>
#include "ps3000aApi.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	cwch "github.com/lordadamson/cgo.wchar"

	"github.com/jpl-pals/lifetimedaq/picoscope"
)

// MaxTimebaseSearch bounds the iterative timebase search so a
// hopelessly slow device can't spin forever.
const MaxTimebaseSearch = 1000

// PS3000 is a handle to one open 3000-series device.
type PS3000 struct {
	handle C.int16_t
	serial string
	maxAdc int32
}

// Open probes for a 3000-series device and returns a bound handle.
// Grounded on acromag/ap235's New(deviceIndex) constructor: a single
// vendor open call, enriched into a *picoscope.DriverError on
// failure.
func Open() (*PS3000, error) {
	var handle C.int16_t
	status := C.ps3000aOpenUnit(&handle, nil)
	if err := statusToErr(int(status), "ps3000aOpenUnit"); err != nil {
		return nil, err
	}
	if handle <= 0 {
		return nil, &picoscope.DriverError{Kind: picoscope.DeviceNotFound, Message: "no 3000-series unit responded"}
	}

	serial, err := readSerial(handle)
	if err != nil {
		C.ps3000aCloseUnit(handle)
		return nil, err
	}

	var maxAdc C.int16_t
	status = C.ps3000aMaximumValue(handle, &maxAdc)
	if err := statusToErr(int(status), "ps3000aMaximumValue"); err != nil {
		C.ps3000aCloseUnit(handle)
		return nil, err
	}

	return &PS3000{handle: handle, serial: serial, maxAdc: int32(maxAdc)}, nil
}

// serialBufLen is a generous upper bound on a PicoScope serial string.
const serialBufLen = 32

// readSerial fetches the unit's serial number. The vendor call fills
// a wide-character buffer; cgo.wchar's NewWcharString/GoString
// round trip is reused here the same way it decodes Andor SDK3's
// feature strings, giving the two cgo-bound instruments in this
// codebase one shared idiom for turning vendor string buffers into Go
// strings.
func readSerial(handle C.int16_t) (string, error) {
	buf := cwch.NewWcharString(serialBufLen)
	var length C.int16_t
	status := C.ps3000aGetUnitInfo(handle, (*C.int8_t)(buf.Pointer()), C.int16_t(serialBufLen), &length, C.PICO_BATCH_AND_SERIAL)
	if err := statusToErr(int(status), "ps3000aGetUnitInfo"); err != nil {
		return "", err
	}
	str, err := buf.GoString()
	if err != nil {
		return "", &picoscope.DriverError{Kind: picoscope.DeviceUnsupported, Message: "serial buffer decode failed", Cause: err}
	}
	return str, nil
}

func (p *PS3000) Family() picoscope.Family { return picoscope.Family3000 }

func (p *PS3000) DeviceInfo() picoscope.DeviceInfo {
	return picoscope.DeviceInfo{Family: picoscope.Family3000, Serial: p.serial, MaxAdc: p.maxAdc}
}

func (p *PS3000) ConfigureChannels(cfg picoscope.ChannelConfig) (picoscope.ScopeSettings, error) {
	if cfg.Impedance == picoscope.Impedance50Ohm {
		return picoscope.ScopeSettings{}, &picoscope.DriverError{Kind: picoscope.DeviceUnsupported, Message: "3000-series is fixed 1MΩ; 50Ω is not available"}
	}
	for ch := 0; ch < picoscope.NumChannels; ch++ {
		status := C.ps3000aSetChannel(p.handle, C.PS3000A_CHANNEL(ch), boolToInt16(cfg.Enabled),
			couplingToVendor(cfg.Coupling), rangeToVendor(cfg.RangeMv), C.float(0))
		if err := statusToErr(int(status), "ps3000aSetChannel"); err != nil {
			return picoscope.ScopeSettings{}, err
		}
	}
	return picoscope.ScopeSettings{
		Family:         picoscope.Family3000,
		ResolutionBits: 8,
		RangeMv:        cfg.RangeMv,
		MaxAdc:         p.maxAdc,
	}, nil
}

// ResolveTimebase implements the 3000-series iterative search: start
// at timebase 0 and increase until the device reports the requested
// sample counts are achievable on all four channels.
func (p *PS3000) ResolveTimebase(preNs, postNs float64, channelCount int) (picoscope.ScopeSettings, error) {
	for tb := uint32(0); tb < MaxTimebaseSearch; tb++ {
		var intervalNs C.float
		var maxSamples C.int32_t
		status := C.ps3000aGetTimebase2(p.handle, C.uint32_t(tb), 0, &intervalNs, &maxSamples, 0)
		if status != 0 {
			continue
		}
		interval := float64(intervalNs)
		pre := int(preNs / interval)
		post := int(postNs / interval)
		total := pre + post
		if total <= int(maxSamples) {
			return picoscope.ScopeSettings{
				Family:           picoscope.Family3000,
				SampleIntervalNs: interval,
				PreSamples:       pre,
				PostSamples:      post,
				TotalSamples:     total,
				ResolutionBits:   8,
				MaxAdc:           p.maxAdc,
				TimebaseIndex:    tb,
			}, nil
		}
	}
	return picoscope.ScopeSettings{}, &picoscope.DriverError{Kind: picoscope.TimebaseUnavailable, Message: fmt.Sprintf("no timebase under %d satisfies %d channels at pre=%gns post=%gns", MaxTimebaseSearch, channelCount, preNs, postNs)}
}

// ConfigureTrigger calls ps3000aSetSimpleTrigger once per listed
// channel, in order. Each call replaces the previous simple trigger,
// so only the last channel of the last active condition is armed; the
// AND/OR condition logic and the hysteresis are not programmed. The
// returned summary lists the conditions as requested, not only the
// armed channel.
func (p *PS3000) ConfigureTrigger(spec picoscope.TriggerSpec, settings picoscope.ScopeSettings) (picoscope.TriggerSummary, error) {
	if err := spec.Validate(); err != nil {
		return picoscope.TriggerSummary{}, err
	}
	thresholdAdc := picoscope.MvToAdc(picoscope.TriggerLevelMv, settings.RangeMv, settings.MaxAdc)

	lists := make([][]int, 0, len(spec.Conditions))
	for _, cond := range spec.Conditions {
		if len(cond.Channels) == 0 {
			continue
		}
		for _, ch := range cond.Channels {
			status := C.ps3000aSetSimpleTrigger(p.handle, 1, C.PS3000A_CHANNEL(ch), C.int16_t(thresholdAdc),
				C.PS3000A_THRESHOLD_DIRECTION(C.PS3000A_FALLING), 0, C.uint32_t(spec.AutoTriggerMs))
			if err := statusToErr(int(status), "ps3000aSetSimpleTrigger"); err != nil {
				return picoscope.TriggerSummary{}, err
			}
		}
		lists = append(lists, cond.Channels)
	}

	return picoscope.TriggerSummary{
		NumConditions: len(lists),
		ChannelLists:  lists,
		ThresholdMv:   picoscope.TriggerLevelMv,
		Direction:     picoscope.TriggerDirection,
		AutoTriggerMs: spec.AutoTriggerMs,
	}, nil
}

func (p *PS3000) AllocateSegments(count int) error {
	var maxSamples C.int32_t
	status := C.ps3000aMemorySegments(p.handle, C.uint32_t(count), &maxSamples)
	return statusToErr(int(status), "ps3000aMemorySegments")
}

func (p *PS3000) SetCaptureCount(count int) error {
	status := C.ps3000aSetNoOfCaptures(p.handle, C.uint32_t(count))
	return statusToErr(int(status), "ps3000aSetNoOfCaptures")
}

func (p *PS3000) BindBuffers(channel, segment int, buf []int16, action picoscope.BindAction) error {
	if len(buf) == 0 {
		return &picoscope.DriverError{Kind: picoscope.BufferBindingFailed, Message: "empty buffer"}
	}
	status := C.ps3000aSetDataBuffer(p.handle, C.PS3000A_CHANNEL(channel),
		(*C.int16_t)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), C.uint32_t(segment), C.PS3000A_RATIO_MODE_NONE)
	return statusToErrKind(int(status), picoscope.BufferBindingFailed, "ps3000aSetDataBuffer")
}

func (p *PS3000) RunBlock(pre, post int, timebase uint32) error {
	status := C.ps3000aRunBlock(p.handle, C.int32_t(pre), C.int32_t(post), C.uint32_t(timebase), nil, 0, nil, nil)
	return statusToErr(int(status), "ps3000aRunBlock")
}

func (p *PS3000) PollReady() (picoscope.ReadyState, error) {
	var ready C.int16_t
	status := C.ps3000aIsReady(p.handle, &ready)
	if err := statusToErr(int(status), "ps3000aIsReady"); err != nil {
		return picoscope.PollError, err
	}
	if ready != 0 {
		return picoscope.Ready, nil
	}
	return picoscope.NotReady, nil
}

func (p *PS3000) BulkDownload(startSegment, endSegment int) error {
	count := C.uint32_t(endSegment - startSegment + 1)
	var overflow C.int16_t
	status := C.ps3000aGetValuesBulk(p.handle, &count, C.uint32_t(startSegment), C.uint32_t(endSegment), 1, C.PS3000A_RATIO_MODE_NONE, &overflow)
	return statusToErrKind(int(status), picoscope.DownloadFailed, "ps3000aGetValuesBulk")
}

func (p *PS3000) Stop() error {
	status := C.ps3000aStop(p.handle)
	return statusToErr(int(status), "ps3000aStop")
}

func (p *PS3000) Close() error {
	status := C.ps3000aCloseUnit(p.handle)
	return statusToErr(int(status), "ps3000aCloseUnit")
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

func couplingToVendor(c picoscope.Coupling) C.PS3000A_COUPLING {
	if c == picoscope.CouplingAC {
		return C.PS3000A_AC
	}
	return C.PS3000A_DC
}

func rangeToVendor(rangeMv float64) C.PS3000A_RANGE {
	switch {
	case rangeMv <= 100:
		return C.PS3000A_100MV
	case rangeMv <= 200:
		return C.PS3000A_200MV
	default:
		return C.PS3000A_500MV
	}
}

var _ picoscope.Variant = (*PS3000)(nil)
