// Package daqconfig persists the shell-facing state named in the
// external interfaces contract: device family, trigger program,
// per-channel calibration, and retention limits. It is read and
// written by the shell between runs; the core packages never import
// it.
package daqconfig

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"
	"github.com/snksoft/crc"
	yml "gopkg.in/yaml.v2"

	"github.com/jpl-pals/lifetimedaq/calibration"
	"github.com/jpl-pals/lifetimedaq/picoscope"
	"github.com/jpl-pals/lifetimedaq/pulse"
)

var crcTable = crc.NewTable(crc.CRC32)

const trailerPrefix = "# crc32: "

// RetentionLimits names the three independent caps from spec.md §6:
// the store's hard capacity and the acquisition engine's own
// time/event auto-stop limits.
type RetentionLimits struct {
	MaxEvents  int           `yaml:"max_events"`
	TimeLimit  time.Duration `yaml:"time_limit"`
	EventLimit int           `yaml:"event_limit"`
}

// PersistedState is the on-disk structure round-tripped by Load/Save.
// The trigger specification is kept as a generic map, matching how
// cmd/andorhttp3 holds BootupArgs, and decoded into a typed
// picoscope.TriggerSpec on demand via TriggerSpec().
type PersistedState struct {
	DeviceFamily string                   `yaml:"device_family"`
	Trigger      map[string]interface{}   `yaml:"trigger"`
	Calibration  [pulse.NumChannels]calibration.Channel `yaml:"calibration"`
	Retention    RetentionLimits          `yaml:"retention"`
}

// Default returns the zero-configuration state: unknown family, no
// trigger conditions, no calibration, and the store's
// DefaultCapacity-sized retention limit.
func Default() PersistedState {
	return PersistedState{
		DeviceFamily: picoscope.FamilyUnknown.String(),
		Trigger: map[string]interface{}{
			"conditions":      []interface{}{},
			"auto_trigger_ms": 0,
		},
		Retention: RetentionLimits{MaxEvents: 1_000_000},
	}
}

// TriggerSpec decodes the stored generic trigger map into a typed
// picoscope.TriggerSpec via mapstructure, the same decode path
// cmd/andorhttp3 uses for BootupArgs.
func (s PersistedState) TriggerSpec() (picoscope.TriggerSpec, error) {
	var raw struct {
		Conditions    []struct{ Channels []int } `mapstructure:"conditions"`
		AutoTriggerMs int                        `mapstructure:"auto_trigger_ms"`
	}
	if err := mapstructure.Decode(s.Trigger, &raw); err != nil {
		return picoscope.TriggerSpec{}, fmt.Errorf("decoding trigger spec: %w", err)
	}
	spec := picoscope.TriggerSpec{AutoTriggerMs: raw.AutoTriggerMs}
	for _, c := range raw.Conditions {
		spec.Conditions = append(spec.Conditions, picoscope.TriggerCondition{Channels: c.Channels})
	}
	return spec, nil
}

// SetTriggerSpec stores spec back into the generic trigger map form
// that Save encodes.
func (s *PersistedState) SetTriggerSpec(spec picoscope.TriggerSpec) {
	conditions := make([]interface{}, len(spec.Conditions))
	for i, c := range spec.Conditions {
		conditions[i] = map[string]interface{}{"channels": c.Channels}
	}
	s.Trigger = map[string]interface{}{
		"conditions":      conditions,
		"auto_trigger_ms": spec.AutoTriggerMs,
	}
}

// Load reads and validates a persisted state file. It layers the
// on-disk YAML over Default() so a partial file (or none at all, if
// path does not exist) still yields a usable state, following
// cmd/andorhttp3's setupconfig pattern of a structs.Provider default
// under a file.Provider overlay. The trailing CRC-32 line is verified
// before the YAML body is parsed.
func Load(path string) (PersistedState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return PersistedState{}, err
	}

	body, err := verifyTrailer(raw)
	if err != nil {
		return PersistedState{}, err
	}

	tmp, err := os.CreateTemp("", "daqconfig-*.yml")
	if err != nil {
		return PersistedState{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return PersistedState{}, err
	}
	tmp.Close()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return PersistedState{}, err
	}
	if err := k.Load(file.Provider(tmp.Name()), yaml.Parser()); err != nil {
		return PersistedState{}, err
	}

	var state PersistedState
	if err := k.UnmarshalWithConf("", &state, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return PersistedState{}, err
	}
	return state, nil
}

// Save encodes state as YAML, the same way cmd/andorhttp3's mkconf
// does, then appends a CRC-32 trailer over the encoded bytes. Load
// rejects a file whose body no longer matches its trailer, whether the
// change was truncation or a hand edit; a file with the trailer line
// removed is loaded unverified.
func Save(path string, state PersistedState) error {
	var buf bytes.Buffer
	if err := yml.NewEncoder(&buf).Encode(state); err != nil {
		return err
	}
	body := buf.Bytes()
	sum := crcTable.CalculateCRC(body)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(body); err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "%s%08x\n", trailerPrefix, sum)
	return err
}

// verifyTrailer splits raw into (body, trailer), verifying the CRC
// the trailer carries matches body. A file with no trailer line is
// treated as pre-integrity-check legacy content and passed through
// unverified rather than rejected outright.
func verifyTrailer(raw []byte) ([]byte, error) {
	lines := bytes.Split(bytes.TrimRight(raw, "\n"), []byte("\n"))
	if len(lines) == 0 {
		return raw, nil
	}
	last := string(lines[len(lines)-1])
	if !strings.HasPrefix(last, trailerPrefix) {
		return raw, nil
	}
	wantHex := strings.TrimPrefix(last, trailerPrefix)
	want, err := strconv.ParseUint(wantHex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("malformed crc trailer %q: %w", last, err)
	}
	body := bytes.Join(lines[:len(lines)-1], []byte("\n"))
	body = append(body, '\n')
	got := crcTable.CalculateCRC(body)
	if uint64(uint32(want)) != got {
		return nil, fmt.Errorf("config integrity check failed: trailer says %08x, computed %08x", want, got)
	}
	return body, nil
}
