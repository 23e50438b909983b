package eventstore

import (
	"sync"
	"testing"

	"github.com/jpl-pals/lifetimedaq/pulse"
)

func blankChannels() [pulse.NumChannels]pulse.Result {
	var c [pulse.NumChannels]pulse.Result
	for i := range c {
		c[i] = pulse.Result{TimingNs: 0}
	}
	return c
}

// TestStoreBackpressure mirrors the seed scenario: capacity 1000,
// push 1200 events, expect exactly 1000 stored and one full
// notification, then a reset after Clear.
func TestStoreBackpressure(t *testing.T) {
	var fullCount int
	s := New(1000, func() { fullCount++ })

	entries := make([]Entry, 1200)
	for i := range entries {
		entries[i] = Entry{TimestampSec: float64(i), Channels: blankChannels()}
	}

	n := s.AddBatch(entries)
	if n != 1000 {
		t.Fatalf("AddBatch accepted %d events, want 1000", n)
	}
	if s.Size() != 1000 {
		t.Fatalf("Size() = %d, want 1000", s.Size())
	}
	if fullCount != 1 {
		t.Fatalf("full notification fired %d times, want 1", fullCount)
	}

	snap := s.Snapshot(nil)
	for i, e := range snap {
		if int(e.ID) != i {
			t.Fatalf("event %d has id %d, want %d", i, e.ID, i)
		}
	}

	s.Clear()
	if s.Size() != 0 {
		t.Fatalf("Size() after Clear = %d, want 0", s.Size())
	}
	ok := s.Add(0, blankChannels())
	if !ok {
		t.Fatalf("Add after Clear should succeed")
	}
	snap = s.Snapshot(nil)
	if snap[0].ID != 0 {
		t.Fatalf("id after Clear = %d, want 0", snap[0].ID)
	}
}

func TestAddRefusesPastCapacity(t *testing.T) {
	s := New(2, nil)
	if !s.Add(0, blankChannels()) {
		t.Fatalf("first add should succeed")
	}
	if !s.Add(0, blankChannels()) {
		t.Fatalf("second add should succeed")
	}
	if s.Add(0, blankChannels()) {
		t.Fatalf("third add should be refused")
	}
}

func TestFullNotificationFiresOncePerTransition(t *testing.T) {
	var fullCount int
	s := New(1, func() { fullCount++ })
	s.Add(0, blankChannels())
	s.Add(0, blankChannels()) // refused, still full
	s.Add(0, blankChannels()) // refused again
	if fullCount != 1 {
		t.Fatalf("full notification fired %d times, want 1", fullCount)
	}
	s.Clear()
	s.Add(0, blankChannels())
	if fullCount != 2 {
		t.Fatalf("full notification did not re-fire after Clear, got %d", fullCount)
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	s := New(10_000, nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			s.Add(float64(i), blankChannels())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			snap := s.Snapshot(nil)
			for j := 1; j < len(snap); j++ {
				if snap[j].ID <= snap[j-1].ID {
					t.Errorf("snapshot not monotonic at %d", j)
				}
			}
		}
	}()
	wg.Wait()
}
