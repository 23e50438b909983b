// Package eventstore holds the thread-safe, capacity-bounded log of
// events produced by an acquisition run.
package eventstore

import (
	"sync"

	"github.com/jpl-pals/lifetimedaq/pulse"
)

// DefaultCapacity is the number of events the store holds before it
// starts refusing appends, sized so the default footprint stays under
// roughly 1 GiB.
const DefaultCapacity = 1_000_000

// Event is one immutable trigger record: a channel pulse per channel
// in fixed A,B,C,D order, stamped with a monotonic id and the elapsed
// time since the run began.
type Event struct {
	ID           uint64
	TimestampSec float64
	Channels     [pulse.NumChannels]pulse.Result
}

// FullNotifier is called exactly once per transition from
// not-full to full; implementations must not block.
type FullNotifier func()

// Store is a single-writer, many-reader append-only buffer.
//
// The contract matches a classic producer/consumer log: the
// Acquisition Engine is the only writer, readers call Snapshot from
// any goroutine and get a point-in-time consistent copy.
type Store struct {
	mu       sync.RWMutex
	capacity int
	events   []Event
	nextID   uint64
	wasFull  bool
	onFull   FullNotifier
}

// New creates a Store with the given capacity. A non-positive capacity
// is replaced with DefaultCapacity.
func New(capacity int, onFull FullNotifier) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		events:   make([]Event, 0, minInt(capacity, 4096)),
		onFull:   onFull,
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Add appends a single event with an auto-assigned id and the given
// timestamp.
// It returns false, refusing the append, if the store is at capacity.
func (s *Store) Add(timestampSec float64, channels [pulse.NumChannels]pulse.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(timestampSec, channels)
}

func (s *Store) addLocked(timestampSec float64, channels [pulse.NumChannels]pulse.Result) bool {
	if len(s.events) >= s.capacity {
		s.signalFullLocked()
		return false
	}
	s.events = append(s.events, Event{
		ID:           s.nextID,
		TimestampSec: timestampSec,
		Channels:     channels,
	})
	s.nextID++
	s.signalFullLocked()
	return true
}

// Entry is one not-yet-assigned event destined for AddBatch.
type Entry struct {
	TimestampSec float64
	Channels     [pulse.NumChannels]pulse.Result
}

// AddBatch appends as many of entries, in order, as fit within
// capacity. It returns the number actually appended; if that is less
// than len(entries), the remainder was rejected and the full
// notification fires (once, on the transition).
func (s *Store) AddBatch(entries []Entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range entries {
		if !s.addLocked(e.TimestampSec, e.Channels) {
			break
		}
		n++
	}
	return n
}

// signalFullLocked must be called with mu held for writing.
func (s *Store) signalFullLocked() {
	full := len(s.events) >= s.capacity
	if full && !s.wasFull && s.onFull != nil {
		s.onFull()
	}
	s.wasFull = full
}

// Size returns the current number of stored events.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Capacity returns the configured capacity.
func (s *Store) Capacity() int {
	return s.capacity
}

// FillFraction returns Size()/Capacity() as a value in [0,1].
func (s *Store) FillFraction() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return float64(len(s.events)) / float64(s.capacity)
}

// Predicate selects events during a Snapshot; a nil predicate selects
// everything.
type Predicate func(Event) bool

// Snapshot returns a copy of the events matching predicate, safe to
// use after the lock is released. Pass nil to copy every event.
func (s *Store) Snapshot(predicate Predicate) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if predicate == nil {
		out := make([]Event, len(s.events))
		copy(out, s.events)
		return out
	}
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if predicate(e) {
			out = append(out, e)
		}
	}
	return out
}

// Clear empties the store and resets the id counter. Callers must
// ensure the acquisition engine is Stopped before calling; the store
// itself does not track acquisition state.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
	s.nextID = 0
	s.wasFull = false
}
