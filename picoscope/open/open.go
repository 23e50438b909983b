// Package open probes for a PicoScope digitizer across both
// supported families and returns the first one that answers. It is
// split out from package picoscope because it is the only piece of
// the driver that needs to import both picoscope/ps3000 and
// picoscope/ps6000; keeping it separate avoids an import cycle
// between picoscope and its two variant packages.
package open

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/jpl-pals/lifetimedaq/picoscope"
	"github.com/jpl-pals/lifetimedaq/picoscope/ps3000"
	"github.com/jpl-pals/lifetimedaq/picoscope/ps6000"
)

// Open probes 6000-series first, then 3000-series; the first success
// wins. Each family's vendor open call is retried with exponential
// backoff while it reports DeviceBusy, grounded on comm.RemoteDevice's
// connection-retry policy; any other failure moves the probe on to the
// next family. A cheap USB enumeration pre-check runs first: when the
// bus enumerates without error and shows no Pico Technology device,
// Open returns DeviceNotFound without calling either vendor library.
// Only an enumeration error lets the probe continue without a USB
// match, so a PCIe-attached unit is not found on a host whose USB bus
// enumerates cleanly.
func Open() (picoscope.Variant, error) {
	if present, err := picoscope.ProbeUSB(); err == nil && !present {
		return nil, &picoscope.DriverError{Kind: picoscope.DeviceNotFound, Message: "no Pico Technology USB device enumerated"}
	}
	v, err6000 := openWithRetry("ps6000", func() (picoscope.Variant, error) { return ps6000.Open() })
	if err6000 == nil {
		return v, nil
	}
	v, err3000 := openWithRetry("ps3000", func() (picoscope.Variant, error) { return ps3000.Open() })
	if err3000 == nil {
		return v, nil
	}
	return nil, errors.Wrap(err3000, "no 3000- or 6000-series unit responded")
}

// openWithRetry decorates the terminal error with which family's probe
// produced it, since Open tries both in sequence and the caller only
// sees the last one.
func openWithRetry(family string, fn func() (picoscope.Variant, error)) (picoscope.Variant, error) {
	var v picoscope.Variant
	op := func() error {
		var err error
		v, err = fn()
		if de, ok := err.(*picoscope.DriverError); ok && de.Kind == picoscope.DeviceBusy {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s digitizer", family)
	}
	return v, nil
}
