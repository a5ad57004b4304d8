package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/klubadudel/device-status-central/internal/model"
)

type fakeLister struct {
	mu      sync.Mutex
	devices []model.Device
	err     error
}

var _ DeviceLister = (*fakeLister)(nil)

func (f *fakeLister) ListDevices(ctx context.Context, scope model.Scope) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Device(nil), f.devices...), nil
}

func (f *fakeLister) set(devices []model.Device, err error) {
	f.mu.Lock()
	f.devices = devices
	f.err = err
	f.mu.Unlock()
}

func collect(w *Watcher, scope model.Scope) (chan []model.Device, chan error, func()) {
	changes := make(chan []model.Device, 16)
	errs := make(chan error, 16)
	stop := w.WatchDevices(scope, func(d []model.Device) { changes <- d }, func(err error) { errs <- err })
	return changes, errs, stop
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher emission")
		var zero T
		return zero
	}
}

func TestWatchEmitsInitialEmptyListing(t *testing.T) {
	w := NewWatcher(&fakeLister{}, time.Hour)
	changes, _, stop := collect(w, model.Scope{})
	defer stop()

	devices := waitFor(t, changes)
	if len(devices) != 0 {
		t.Fatalf("initial listing = %v, want empty", devices)
	}
}

func TestInvalidateKicksBeforeTicker(t *testing.T) {
	lister := &fakeLister{devices: []model.Device{{ID: "d1", Name: "Fridge A"}}}
	w := NewWatcher(lister, time.Hour)
	changes, _, stop := collect(w, model.Scope{})
	defer stop()

	waitFor(t, changes)

	lister.set([]model.Device{{ID: "d1", Name: "Fridge B"}}, nil)
	w.Invalidate()
	devices := waitFor(t, changes)
	if len(devices) != 1 || devices[0].Name != "Fridge B" {
		t.Fatalf("listing after invalidate = %v", devices)
	}
}

func TestUnchangedListingIsNotReemitted(t *testing.T) {
	lister := &fakeLister{devices: []model.Device{{ID: "d1"}}}
	w := NewWatcher(lister, time.Hour)
	changes, _, stop := collect(w, model.Scope{})
	defer stop()

	waitFor(t, changes)
	w.Invalidate()

	// The kick re-reads but the fingerprint is unchanged, so nothing arrives.
	select {
	case devices := <-changes:
		t.Fatalf("unexpected re-emission: %v", devices)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListingErrorsReachOnErrAndRecover(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	w := NewWatcher(lister, time.Hour)
	changes, errs, stop := collect(w, model.Scope{})
	defer stop()

	if err := waitFor(t, errs); err == nil {
		t.Fatal("expected listing error")
	}

	lister.set([]model.Device{{ID: "d1"}}, nil)
	w.Invalidate()
	devices := waitFor(t, changes)
	if len(devices) != 1 {
		t.Fatalf("listing after recovery = %v", devices)
	}
}

func TestRecoveryReemitsUnchangedListing(t *testing.T) {
	lister := &fakeLister{devices: []model.Device{{ID: "d1"}}}
	w := NewWatcher(lister, time.Hour)
	changes, errs, stop := collect(w, model.Scope{})
	defer stop()

	waitFor(t, changes)

	lister.set([]model.Device{{ID: "d1"}}, errors.New("connection reset"))
	w.Invalidate()
	waitFor(t, errs)

	// The store comes back with the exact same listing; the consumer was
	// last told about the error and must still get a fresh snapshot.
	lister.set([]model.Device{{ID: "d1"}}, nil)
	w.Invalidate()
	devices := waitFor(t, changes)
	if len(devices) != 1 || devices[0].ID != "d1" {
		t.Fatalf("listing after identical recovery = %v", devices)
	}
}

func TestStopBlocksUntilNoMoreCallbacks(t *testing.T) {
	lister := &fakeLister{devices: []model.Device{{ID: "d1"}}}
	w := NewWatcher(lister, 5*time.Millisecond)

	var mu sync.Mutex
	stopped := false
	stop := w.WatchDevices(model.Scope{}, func([]model.Device) {
		mu.Lock()
		if stopped {
			t.Error("callback ran after stop returned")
		}
		mu.Unlock()
	}, nil)

	time.Sleep(20 * time.Millisecond)
	stop()
	mu.Lock()
	stopped = true
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
}
