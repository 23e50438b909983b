package daqconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jpl-pals/lifetimedaq/calibration"
	"github.com/jpl-pals/lifetimedaq/picoscope"
)

func TestLoadMissingFileYieldsDefault(t *testing.T) {
	dir := t.TempDir()
	got, err := Load(filepath.Join(dir, "missing.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Load of a missing file did not match Default (-want +got):\n%s", diff)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	state := Default()
	state.DeviceFamily = picoscope.Family6000.String()
	state.SetTriggerSpec(picoscope.TriggerSpec{
		Conditions:    []picoscope.TriggerCondition{{Channels: []int{0, 1}}},
		AutoTriggerMs: 500,
	})
	state.Calibration[0] = calibration.Channel{
		Calibrated:      true,
		Gain:            0.0025,
		Offset:          1.4,
		Peak1Raw:        200000,
		Peak2Raw:        500000,
		CalibrationDate: time.Unix(1700000000, 0).UTC(),
	}
	state.Retention = RetentionLimits{MaxEvents: 500000, TimeLimit: 10 * time.Minute, EventLimit: 100000}

	path := filepath.Join(t.TempDir(), "state.yml")
	if err := Save(path, state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.DeviceFamily != state.DeviceFamily {
		t.Errorf("DeviceFamily: got %q want %q", got.DeviceFamily, state.DeviceFamily)
	}
	if diff := cmp.Diff(state.Retention, got.Retention); diff != "" {
		t.Errorf("Retention mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(state.Calibration, got.Calibration); diff != "" {
		t.Errorf("Calibration mismatch (-want +got):\n%s", diff)
	}

	gotSpec, err := got.TriggerSpec()
	if err != nil {
		t.Fatalf("TriggerSpec: %v", err)
	}
	wantSpec, _ := state.TriggerSpec()
	if diff := cmp.Diff(wantSpec, gotSpec); diff != "" {
		t.Errorf("TriggerSpec mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsTamperedFile(t *testing.T) {
	state := Default()
	path := filepath.Join(t.TempDir(), "state.yml")
	if err := Save(path, state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	// Corrupt the last hex digit of the trailer line itself (the file
	// ends in a newline, so the digit is the byte before it): the
	// simplest tamper that is guaranteed not to depend on the exact
	// YAML encoding of the body above it.
	idx := len(data) - 2
	if data[idx] >= '0' && data[idx] <= '8' {
		data[idx]++
	} else {
		data[idx] = '0'
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("rewriting: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject a file edited after the CRC trailer was appended")
	}
}
