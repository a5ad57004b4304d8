package store

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/klubadudel/device-status-central/internal/model"
)

// DeviceLister is the read surface the watcher needs. *Repository satisfies
// it; tests substitute an in-memory fake.
type DeviceLister interface {
	ListDevices(ctx context.Context, scope model.Scope) ([]model.Device, error)
}

// Watcher turns the durable device listing into a push stream. Postgres has
// no snapshot listener, so each watch polls on a ticker and is additionally
// kicked by Invalidate whenever this process mutates the listing itself,
// making local CRUD visible on the next turn instead of the next poll.
type Watcher struct {
	lister   DeviceLister
	interval time.Duration

	mu   sync.Mutex
	subs map[*watch]struct{}
}

type watch struct {
	kick    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewWatcher(lister DeviceLister, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{lister: lister, interval: interval, subs: map[*watch]struct{}{}}
}

// Invalidate wakes every open watch so it re-reads the listing immediately.
func (w *Watcher) Invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for s := range w.subs {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// WatchDevices emits the full device listing for the scope: once on start
// (even when empty, so consumers can distinguish "loading" from "confirmed
// empty") and again whenever the listing content changes. Listing errors go
// to onErr; the watch keeps polling afterwards. The returned stop function
// blocks until the watch goroutine has exited, so no callback runs after it
// returns.
func (w *Watcher) WatchDevices(scope model.Scope, onChange func([]model.Device), onErr func(error)) (stop func()) {
	s := &watch{
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	w.mu.Lock()
	w.subs[s] = struct{}{}
	w.mu.Unlock()

	go w.run(s, scope, onChange, onErr)

	return func() {
		s.once.Do(func() { close(s.stop) })
		<-s.stopped
		w.mu.Lock()
		delete(w.subs, s)
		w.mu.Unlock()
	}
}

func (w *Watcher) run(s *watch, scope model.Scope, onChange func([]model.Device), onErr func(error)) {
	defer close(s.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last []byte
	first := true
	emit := func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.interval)
		devices, err := w.lister.ListDevices(ctx, scope)
		cancel()
		if err != nil {
			slog.Error("device listing failed", "scope", scope.String(), "error", err)
			if onErr != nil {
				onErr(err)
			}
			// The consumer saw the failure, so the next successful read must
			// emit even if the listing content is unchanged.
			first = true
			return
		}
		fp, err := json.Marshal(devices)
		if err != nil {
			slog.Error("device listing fingerprint failed", "scope", scope.String(), "error", err)
			return
		}
		if !first && bytes.Equal(fp, last) {
			return
		}
		first = false
		last = fp
		onChange(devices)
	}

	emit()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			emit()
		case <-s.kick:
			emit()
		}
	}
}
