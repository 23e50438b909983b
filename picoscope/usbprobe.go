package picoscope

import (
	"github.com/google/gousb"
)

// picoTechnologyVID is Pico Technology's registered USB vendor id.
const picoTechnologyVID = gousb.ID(0x0ce9)

// ProbeUSB does a fast enumeration of the USB bus for Pico
// Technology's vendor id so Open can return DeviceNotFound without
// paying for a vendor-library round trip when nothing is plugged in.
// It is best-effort: a USB enumeration failure is not itself treated
// as DeviceNotFound, since PCIe-attached units never show up here.
func ProbeUSB() (present bool, err error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == picoTechnologyVID
	})
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		d.Close()
	}
	return len(devices) > 0, nil
}
