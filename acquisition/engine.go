// Package acquisition owns the worker thread that drives a digitizer
// through rapid-block captures and turns them into Events. It is the
// sole writer of the Event Store.
package acquisition

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jpl-pals/lifetimedaq/eventstore"
	"github.com/jpl-pals/lifetimedaq/picoscope"
	"github.com/jpl-pals/lifetimedaq/pulse"
)

// BatchSizeFor returns the per-family batch size named in the
// component design: a throughput knob, not a semantic one.
func BatchSizeFor(family picoscope.Family) int {
	if family == picoscope.Family6000 {
		return 20
	}
	return 10
}

// Limits configures auto-stop. A zero value in either field disables
// that limit; time and count limits are independent.
type Limits struct {
	MaxDuration time.Duration
	MaxEvents   int
}

// Engine is the Acquisition Engine: a state machine driving one
// digitizer handle through rapid-block loops. Construct with New and
// drive it with Start/Pause/Resume/Stop/Restart; consume Notifications()
// from any goroutine.
type Engine struct {
	driver      picoscope.Variant
	store       *eventstore.Store
	scope       picoscope.ScopeSettings
	batchSize   int
	pulseParams pulse.Params
	limits      Limits

	mu            sync.Mutex
	state         State
	stopCh        chan struct{}
	resumeCh      chan struct{}
	wg            sync.WaitGroup
	programmed    bool
	buffers       [pulse.NumChannels][][]int16 // [channel][segment]
	runStart      time.Time
	pauseStart    time.Time
	pausedAccum   time.Duration
	eventsThisRun int
	lastBatchAt   time.Time
	warned        bool

	notify chan Notification

	waveformLimiter *rate.Limiter
	warningLimiter  *rate.Limiter
}

// New creates an Engine bound to driver and store, configured with
// the already-resolved scope settings and per-channel analysis
// parameters. The store and driver are not touched until Start.
func New(driver picoscope.Variant, store *eventstore.Store, scope picoscope.ScopeSettings, pulseParams pulse.Params, limits Limits) *Engine {
	return &Engine{
		driver:          driver,
		store:           store,
		scope:           scope,
		batchSize:       BatchSizeFor(scope.Family),
		pulseParams:     pulseParams,
		limits:          limits,
		state:           Stopped,
		notify:          make(chan Notification, 64),
		waveformLimiter: rate.NewLimiter(rate.Every(333*time.Millisecond), 1),
		warningLimiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Notifications returns the engine's single notification channel. The
// UI sits on the consumer side; the engine never blocks waiting for a
// reader (the channel is buffered and the oldest pending message is
// dropped on overflow rather than stalling acquisition).
func (e *Engine) Notifications() <-chan Notification { return e.notify }

// State returns the current run state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start transitions Stopped->Running and spawns the worker loop. It
// is a no-op if already Running or Paused.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state != Stopped {
		e.mu.Unlock()
		return nil
	}
	prev := e.state
	e.state = Running
	e.stopCh = make(chan struct{})
	e.runStart = time.Now()
	e.pausedAccum = 0
	e.eventsThisRun = 0
	e.programmed = false
	e.warned = false
	e.lastBatchAt = time.Now()
	stopCh := e.stopCh
	e.mu.Unlock()

	e.emitStateChange(prev, Running)

	e.wg.Add(1)
	go e.run(stopCh)
	return nil
}

// Pause requests a Running->Paused transition; it takes effect at the
// next iteration boundary, so a block already started is still polled,
// downloaded, and stored first.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.state != Running {
		e.mu.Unlock()
		return nil
	}
	prev := e.state
	e.state = Paused
	e.pauseStart = time.Now()
	e.resumeCh = make(chan struct{})
	e.mu.Unlock()
	e.emitStateChange(prev, Paused)
	return nil
}

// Resume requests a Paused->Running transition. The device is left
// armed across a pause (see the resolved Open Question on arm state
// across pause), so Resume never reprograms segments or buffers.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != Paused {
		e.mu.Unlock()
		return nil
	}
	prev := e.state
	e.pausedAccum += time.Since(e.pauseStart)
	e.state = Running
	close(e.resumeCh)
	e.mu.Unlock()
	e.emitStateChange(prev, Running)
	return nil
}

// Stop requests a transition to Stopped, draining the current device
// operation before the worker goroutine exits, and blocks until it
// has. The Event Store is preserved.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == Stopped {
		e.mu.Unlock()
		return nil
	}
	prev := e.state
	wasPaused := e.state == Paused
	e.state = Stopped
	close(e.stopCh)
	if wasPaused {
		close(e.resumeCh)
	}
	e.mu.Unlock()

	e.wg.Wait()
	_ = e.driver.Stop()
	e.emitStateChange(prev, Stopped)
	return nil
}

// Restart forces Stopped, clears the store, and begins a fresh run
// with event_id reset to 0.
func (e *Engine) Restart() error {
	if err := e.Stop(); err != nil {
		return err
	}
	e.store.Clear()
	return e.Start()
}

func (e *Engine) emitStateChange(prev, cur State) {
	e.send(Notification{Kind: StateChanged, PreviousState: prev, CurrentState: cur})
}

// send enqueues a notification without blocking; a full channel drops
// the oldest pending message rather than stalling the worker thread.
func (e *Engine) send(n Notification) {
	select {
	case e.notify <- n:
	default:
		select {
		case <-e.notify:
		default:
		}
		select {
		case e.notify <- n:
		default:
		}
	}
}

// waitWhilePaused blocks until the engine leaves Paused, returning
// the state that ended the wait (Running if resumed, Stopped if
// canceled while paused).
func (e *Engine) waitWhilePaused(stopCh chan struct{}) State {
	e.mu.Lock()
	if e.state != Paused {
		st := e.state
		e.mu.Unlock()
		return st
	}
	resumeCh := e.resumeCh
	e.mu.Unlock()

	select {
	case <-stopCh:
		return Stopped
	case <-resumeCh:
		return e.State()
	}
}

var errCanceled = fmt.Errorf("acquisition: canceled")

func (e *Engine) run(stopCh chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if st := e.waitWhilePaused(stopCh); st == Stopped {
			return
		}

		stop, err := e.iterate(stopCh)
		if err != nil {
			if err == errCanceled {
				return
			}
			e.send(Notification{Kind: AcquisitionError, Err: err})
			e.transitionToStopped()
			return
		}
		if stop {
			// Auto-stop leaves the device armed rather than calling
			// driver.Stop(): it behaves like a Pause so a later Resume
			// does not need to reprogram segments and buffers.
			e.transitionToPaused()
		}
	}
}

func (e *Engine) transitionToStopped() {
	e.mu.Lock()
	prev := e.state
	e.state = Stopped
	e.mu.Unlock()
	_ = e.driver.Stop()
	e.emitStateChange(prev, Stopped)
}

func (e *Engine) transitionToPaused() {
	e.mu.Lock()
	prev := e.state
	e.state = Paused
	e.pauseStart = time.Now()
	e.resumeCh = make(chan struct{})
	e.mu.Unlock()
	e.emitStateChange(prev, Paused)
}

// iterate runs one pass of the per-iteration algorithm from the
// component design: program (first time only), run a block, poll for
// readiness, download, analyze, store, and notify. The bool return
// reports whether auto-stop has been reached.
func (e *Engine) iterate(stopCh chan struct{}) (bool, error) {
	if !e.programmed {
		if err := e.program(); err != nil {
			return false, err
		}
		e.programmed = true
	}

	if err := e.driver.RunBlock(e.scope.PreSamples, e.scope.PostSamples, e.scope.TimebaseIndex); err != nil {
		return false, err
	}

	if err := e.pollUntilReady(stopCh); err != nil {
		return false, err
	}

	if err := e.driver.BulkDownload(0, e.batchSize-1); err != nil {
		return false, err
	}

	entries := e.analyzeBatch()
	appended := e.store.AddBatch(entries)
	e.eventsThisRun += appended

	if e.waveformLimiter.Allow() {
		e.send(Notification{Kind: WaveformReady, Waveform: e.representativeWaveform()})
	}

	now := time.Now()
	elapsedSinceLast := now.Sub(e.lastBatchAt).Seconds()
	rateHz := 0.0
	if elapsedSinceLast > 0 {
		rateHz = float64(appended) / elapsedSinceLast
	}
	e.lastBatchAt = now
	e.send(Notification{Kind: BatchComplete, BatchCount: appended, BatchRateHz: rateHz})

	storeFull := e.checkStorageWarning()

	return storeFull || e.checkAutoStop(), nil
}

func (e *Engine) program() error {
	if err := e.driver.AllocateSegments(e.batchSize); err != nil {
		return err
	}
	if err := e.driver.SetCaptureCount(e.batchSize); err != nil {
		return err
	}
	for c := 0; c < pulse.NumChannels; c++ {
		e.buffers[c] = make([][]int16, e.batchSize)
		for s := 0; s < e.batchSize; s++ {
			buf := make([]int16, e.scope.TotalSamples)
			action := picoscope.BindActionAdd
			if s == 0 {
				action = picoscope.BindActionClearAllAdd
			}
			if err := e.driver.BindBuffers(c, s, buf, action); err != nil {
				return err
			}
			e.buffers[c][s] = buf
		}
	}
	return nil
}

// pollUntilReady polls with an adaptive interval starting short and
// capping at ~10ms, honoring stopCh at every tick.
func (e *Engine) pollUntilReady(stopCh chan struct{}) error {
	const maxInterval = 10 * time.Millisecond
	interval := 100 * time.Microsecond
	for {
		select {
		case <-stopCh:
			return errCanceled
		default:
		}
		state, err := e.driver.PollReady()
		if err != nil {
			return err
		}
		if state == picoscope.Ready {
			return nil
		}
		time.Sleep(interval)
		interval *= 2
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}

func (e *Engine) analyzeBatch() []eventstore.Entry {
	entries := make([]eventstore.Entry, e.batchSize)
	elapsedBase := time.Since(e.runStart).Seconds()
	for s := 0; s < e.batchSize; s++ {
		var mv [pulse.NumChannels][]float64
		for c := 0; c < pulse.NumChannels; c++ {
			raw := e.buffers[c][s]
			mv[c] = make([]float64, len(raw))
			for i, code := range raw {
				mv[c][i] = picoscope.AdcToMv(code, e.scope.RangeMv, e.scope.MaxAdc)
			}
		}
		results := pulse.AnalyzeWaveform(mv, pulse.Params{
			PreSamples:       e.scope.PreSamples,
			SampleIntervalNs: e.scope.SampleIntervalNs,
			Fraction:         e.pulseParams.Fraction,
			AmplitudeMinMv:   e.pulseParams.AmplitudeMinMv,
		})
		entries[s] = eventstore.Entry{TimestampSec: elapsedBase, Channels: results}
	}
	return entries
}

// representativeWaveform copies the first segment of the current batch
// out of the live bind buffers. The buffers are reused in place by the
// next BulkDownload, so the notification must own its own samples
// rather than alias e.buffers.
func (e *Engine) representativeWaveform() *Waveform {
	var w Waveform
	for c := 0; c < pulse.NumChannels; c++ {
		w.Channels[c] = append([]int16(nil), e.buffers[c][0]...)
	}
	return &w
}

// checkAutoStop reports whether either configured limit has been
// reached; elapsed time excludes paused intervals.
func (e *Engine) checkAutoStop() bool {
	if e.limits.MaxEvents > 0 && e.eventsThisRun >= e.limits.MaxEvents {
		return true
	}
	if e.limits.MaxDuration > 0 {
		elapsed := time.Since(e.runStart) - e.pausedAccum
		if elapsed >= e.limits.MaxDuration {
			return true
		}
	}
	return false
}

// checkStorageWarning emits a StorageWarning once per threshold
// crossing and reports whether the store is now full; a full store is
// not an error, per spec.md §7 — the engine auto-pauses and leaves
// recovery (clear or restart) to the caller.
func (e *Engine) checkStorageWarning() bool {
	frac := e.store.FillFraction()
	full := frac >= 1.0
	if frac >= 0.9 {
		if !e.warned && e.warningLimiter.Allow() {
			e.warned = true
			e.send(Notification{Kind: StorageWarning, FillFraction: frac, StoreFull: full})
		}
	} else {
		e.warned = false
	}
	return full
}
