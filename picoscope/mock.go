package picoscope

import (
	"math/rand"
	"sync"
)

// WaveformGenerator fills one channel's samples for one segment of a
// mock capture; index is the segment number within the current batch.
// The default generator in Mock produces quiet baseline noise.
type WaveformGenerator func(channel, index int, samples []int16, settings ScopeSettings)

// Mock is an in-process fake of Variant with no real I/O, grounded on
// the mutex-guarded state structs used for the PI and NKT device
// mocks elsewhere in this codebase: no hardware, deterministic
// behavior, safe for concurrent use by a test or a headless demo run.
type Mock struct {
	mu       sync.Mutex
	family   Family
	settings ScopeSettings
	segments int
	captures int
	buffers  map[[2]int][]int16 // (channel, segment) -> bound buffer
	rng      *rand.Rand

	Generator WaveformGenerator
}

// NewMock creates a Mock presenting as the given family with a fixed,
// already-resolved set of scope settings (as if configure_channels and
// resolve_timebase had already run against a real device).
func NewMock(family Family, settings ScopeSettings, seed int64) *Mock {
	return &Mock{
		family:   family,
		settings: settings,
		buffers:  make(map[[2]int][]int16),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (m *Mock) Family() Family { return m.family }

func (m *Mock) DeviceInfo() DeviceInfo {
	return DeviceInfo{Family: m.family, Serial: "MOCK0001", MaxAdc: m.settings.MaxAdc}
}

// ConfigureChannels always succeeds; the 50Ω-unavailable refusal path
// is specific to real ps6000 hardware and is exercised there.
func (m *Mock) ConfigureChannels(cfg ChannelConfig) (ScopeSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.RangeMv = cfg.RangeMv
	return m.settings, nil
}

func (m *Mock) ResolveTimebase(preNs, postNs float64, channelCount int) (ScopeSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings.SampleIntervalNs == 0 {
		return ScopeSettings{}, &DriverError{Kind: TimebaseUnavailable, Message: "mock has no configured interval"}
	}
	pre := int(preNs / m.settings.SampleIntervalNs)
	post := int(postNs / m.settings.SampleIntervalNs)
	m.settings.PreSamples = pre
	m.settings.PostSamples = post
	m.settings.TotalSamples = pre + post
	return m.settings, nil
}

func (m *Mock) ConfigureTrigger(spec TriggerSpec, settings ScopeSettings) (TriggerSummary, error) {
	if err := spec.Validate(); err != nil {
		return TriggerSummary{}, err
	}
	lists := make([][]int, 0, len(spec.Conditions))
	for _, c := range spec.Conditions {
		if len(c.Channels) > 0 {
			lists = append(lists, c.Channels)
		}
	}
	return TriggerSummary{
		NumConditions: len(lists),
		ChannelLists:  lists,
		ThresholdMv:   TriggerLevelMv,
		Direction:     TriggerDirection,
		AutoTriggerMs: spec.AutoTriggerMs,
	}, nil
}

func (m *Mock) AllocateSegments(count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = count
	m.buffers = make(map[[2]int][]int16)
	return nil
}

func (m *Mock) SetCaptureCount(count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count > m.segments {
		return &DriverError{Kind: ConfigurationInvalid, Message: "capture count exceeds allocated segments"}
	}
	m.captures = count
	return nil
}

func (m *Mock) BindBuffers(channel, segment int, buf []int16, action BindAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(buf) != m.settings.TotalSamples {
		return &DriverError{Kind: BufferBindingFailed, Message: "buffer length does not match total samples"}
	}
	m.buffers[[2]int{channel, segment}] = buf
	return nil
}

func (m *Mock) RunBlock(pre, post int, timebase uint32) error {
	return nil
}

func (m *Mock) PollReady() (ReadyState, error) {
	return Ready, nil
}

// BulkDownload fills every bound buffer in [startSegment,endSegment]
// using Generator (or quiet baseline noise if unset).
func (m *Mock) BulkDownload(startSegment, endSegment int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen := m.Generator
	if gen == nil {
		gen = m.quietNoise
	}
	for seg := startSegment; seg <= endSegment; seg++ {
		for ch := 0; ch < NumChannels; ch++ {
			buf, ok := m.buffers[[2]int{ch, seg}]
			if !ok {
				continue
			}
			gen(ch, seg, buf, m.settings)
		}
	}
	return nil
}

func (m *Mock) quietNoise(channel, index int, samples []int16, settings ScopeSettings) {
	for i := range samples {
		mv := m.rng.NormFloat64() * 0.3
		samples[i] = MvToAdc(mv, settings.RangeMv, settings.MaxAdc)
	}
}

func (m *Mock) Stop() error  { return nil }
func (m *Mock) Close() error { return nil }

// InjectPulse is a WaveformGenerator helper producing a negative pulse
// of the given peak amplitude, rising linearly over riseSamples to its
// peak at sampleIndex and returning to baseline on the next sample, on
// top of Gaussian baseline noise. Handy for driving
// the acquisition engine end to end in tests without hardware.
func InjectPulse(peakMv float64, sampleIndex, riseSamples int, noiseSigmaMv float64, rng *rand.Rand) WaveformGenerator {
	return func(channel, index int, samples []int16, settings ScopeSettings) {
		for i := range samples {
			mv := rng.NormFloat64() * noiseSigmaMv
			switch {
			case i >= sampleIndex-riseSamples && i < sampleIndex:
				frac := float64(i-(sampleIndex-riseSamples)) / float64(riseSamples)
				mv += peakMv * frac
			case i == sampleIndex:
				mv += peakMv
			}
			samples[i] = MvToAdc(mv, settings.RangeMv, settings.MaxAdc)
		}
	}
}

var _ Variant = (*Mock)(nil)
