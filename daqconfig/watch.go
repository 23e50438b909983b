package daqconfig

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

var logger = log.New(log.Writer(), "daqconfig: ", log.LstdFlags)

// Watcher signals when a persisted-state file has been edited on
// disk. Nothing in this module reads Reload: the acquisition engine
// and cmd/palsacq do not use a Watcher.
type Watcher struct {
	fsw     *fsnotify.Watcher
	Reload  chan struct{}
}

// Watch starts watching path for writes. The returned Watcher's
// Reload channel receives a value (dropping it if the consumer isn't
// ready, never blocking the watcher goroutine) each time the file is
// rewritten.
func Watch(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, Reload: make(chan struct{}, 1)}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case w.Reload <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Printf("watch error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
