// Command palsacq is the reference CLI driver for lifetimedaq: it
// wires daqconfig, picoscope/open, acquisition, eventstore, and pulse
// into a runnable acquisition session; calibration and analysis are
// not used here. It
// is a shell around the core packages, not part of the core itself,
// following the command/library split in cmd/andorhttp3.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/theckman/yacspin"

	"github.com/jpl-pals/lifetimedaq/acquisition"
	"github.com/jpl-pals/lifetimedaq/daqconfig"
	"github.com/jpl-pals/lifetimedaq/eventstore"
	"github.com/jpl-pals/lifetimedaq/picoscope"
	"github.com/jpl-pals/lifetimedaq/picoscope/open"
	"github.com/jpl-pals/lifetimedaq/pulse"
	"github.com/jpl-pals/lifetimedaq/util"
)

// TargetPreNs and TargetPostNs are the default pre/post-trigger
// capture widths, matched to the CFD window the pulse package expects
// around a pulse.
const (
	TargetPreNs  = 1000.0
	TargetPostNs = 2000.0
)

// Version is injected via ldflags at build time, same convention as
// cmd/andorhttp3.
var Version = "1"

// ConfigFileName is the default persisted-state path; override with
// -conf on any subcommand.
const ConfigFileName = "palsacq.yml"

func root() {
	str := `palsacq drives a PicoScope digitizer through a positron annihilation
lifetime spectroscopy acquisition run.

Usage:
	palsacq <command>

Commands:
	run
	mkconf
	conf
	version
	help`
	fmt.Println(str)
}

func help() {
	str := `palsacq is configured via palsacq.yml, written and read by daqconfig.
Run mkconf once to generate a starting file with the documented defaults,
edit device_family, trigger, calibration, and retention as needed, then run.

If no PicoScope unit answers within a few seconds, palsacq falls back to
an in-process mock digitizer so the pipeline can be exercised without
hardware attached.

Flags (run, mkconf, conf):
	-conf <path>        config file, default palsacq.yml
	-maxseconds <secs>  override retention.time_limit for this run only`
	fmt.Println(str)
}

func pversion() {
	fmt.Printf("palsacq version %s\n", Version)
}

func mkconf(path string) {
	state := daqconfig.Default()
	if err := daqconfig.Save(path, state); err != nil {
		log.Fatalf("writing %s: %v", path, err)
	}
}

func printconf(path string) {
	state, err := daqconfig.Load(path)
	if err != nil {
		log.Fatalf("loading %s: %v", path, err)
	}
	fmt.Printf("device_family: %s\n", state.DeviceFamily)
	fmt.Printf("retention: max_events=%d time_limit=%s event_limit=%d\n",
		state.Retention.MaxEvents, state.Retention.TimeLimit, state.Retention.EventLimit)
	for i, c := range state.Calibration {
		fmt.Printf("channel %d: calibrated=%v gain=%g offset=%g\n", i, c.Calibrated, c.Gain, c.Offset)
	}
}

// openDigitizer tries a real PicoScope first; if none answers it
// falls back to the in-process mock so the rest of the pipeline can
// still be driven end to end.
func openDigitizer() (picoscope.Variant, bool) {
	v, err := open.Open()
	if err == nil {
		return v, true
	}
	color.Yellow("no PicoScope responded (%v); falling back to the mock digitizer", err)
	settings := picoscope.ScopeSettings{
		Family:           picoscope.Family3000,
		SampleIntervalNs: 0.8,
		RangeMv:          100,
		MaxAdc:           32512,
	}
	return picoscope.NewMock(settings.Family, settings, time.Now().UnixNano()), false
}

func run(confPath string, maxSecondsOverride float64) {
	state, err := daqconfig.Load(confPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	driver, real := openDigitizer()
	defer driver.Close()

	cfg := picoscope.DefaultChannelConfig()
	if driver.Family() == picoscope.Family6000 {
		cfg.Impedance = picoscope.Impedance50Ohm
	}
	settings, err := driver.ConfigureChannels(cfg)
	if err != nil {
		log.Fatalf("configuring channels: %v", err)
	}
	settings, err = driver.ResolveTimebase(TargetPreNs, TargetPostNs, picoscope.NumChannels)
	if err != nil {
		log.Fatalf("resolving timebase: %v", err)
	}

	triggerSpec, err := state.TriggerSpec()
	if err != nil {
		log.Fatalf("decoding trigger spec: %v", err)
	}
	if len(triggerSpec.Conditions) == 0 {
		triggerSpec.Conditions = []picoscope.TriggerCondition{{Channels: []int{0}}}
	}
	if _, err := driver.ConfigureTrigger(triggerSpec, settings); err != nil {
		log.Fatalf("configuring trigger: %v", err)
	}

	state.DeviceFamily = driver.Family().String()
	if err := daqconfig.Save(confPath, state); err != nil {
		log.Printf("warning: could not persist updated device family: %v", err)
	}

	store := eventstore.New(state.Retention.MaxEvents, func() {
		color.Red("event store is full")
	})
	limits := acquisition.Limits{
		MaxDuration: state.Retention.TimeLimit,
		MaxEvents:   state.Retention.EventLimit,
	}
	if maxSecondsOverride > 0 {
		limits.MaxDuration = util.SecsToDuration(maxSecondsOverride)
	}
	engine := acquisition.New(driver, store, settings, pulse.Params{}, limits)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	spinCfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " acquiring",
		SuffixAutoColon: true,
		Message:         "starting",
		StopCharacter:   "done",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(spinCfg)
	if err != nil {
		log.Fatalf("spinner: %v", err)
	}
	if !real {
		spinner.Message("starting (mock digitizer)")
	}
	if err := spinner.Start(); err != nil {
		log.Fatalf("spinner: %v", err)
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("starting acquisition: %v", err)
	}

	for {
		select {
		case n := <-engine.Notifications():
			handleNotification(spinner, store, n)
			if n.Kind == acquisition.StateChanged && n.CurrentState == acquisition.Stopped {
				_ = spinner.Stop()
				return
			}
		case <-sig:
			spinner.Message("stopping")
			_ = engine.Stop()
		}
	}
}

func handleNotification(spinner *yacspin.Spinner, store *eventstore.Store, n acquisition.Notification) {
	switch n.Kind {
	case acquisition.BatchComplete:
		spinner.Message(padRight(fmt.Sprintf("%d events (%.0f/s)", store.Size(), n.BatchRateHz), 32))
	case acquisition.StorageWarning:
		color.Yellow("store is %.0f%% full", n.FillFraction*100)
	case acquisition.AcquisitionError:
		color.Red("acquisition error: %v", n.Err)
	case acquisition.StateChanged:
		color.Cyan("state: %s -> %s", n.PreviousState, n.CurrentState)
	}
}

// padRight pads s with spaces to width display columns, accounting
// for the possibility of wide runes in a future localized message.
func padRight(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	confPath := ConfigFileName
	var maxSeconds float64
	cmd := strings.ToLower(args[1])
	for i := 2; i < len(args)-1; i++ {
		switch args[i] {
		case "-conf":
			confPath = args[i+1]
		case "-maxseconds":
			v, err := strconv.ParseFloat(args[i+1], 64)
			if err != nil {
				log.Fatalf("-maxseconds: %v", err)
			}
			maxSeconds = v
		}
	}

	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf(confPath)
	case "conf":
		printconf(confPath)
	case "run":
		run(confPath, maxSeconds)
	case "version":
		pversion()
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}
