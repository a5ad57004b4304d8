// Package engine owns device state reconciliation: it merges the durable
// per-device configuration with the realtime heartbeat feed for every device
// in a subscribed scope, detects online/offline transitions, and republishes
// the merged view on every input from either source.
package engine

import (
	"github.com/klubadudel/device-status-central/internal/model"
	"github.com/klubadudel/device-status-central/internal/notify"
)

// DeviceWatcher streams the durable device listing for a scope.
type DeviceWatcher interface {
	WatchDevices(scope model.Scope, onChange func([]model.Device), onErr func(error)) (stop func())
}

// RealtimeFeed attaches per-device heartbeat listeners.
type RealtimeFeed interface {
	WatchDevice(id string, onValue func(*model.RealtimePayload), onError func(error)) (unwatch func())
}

// LogRecorder appends activity log entries; implementations must not block.
type LogRecorder interface {
	Record(entry model.ActivityLog)
}

// SnapshotSink receives every recomputed merged record so it can be mirrored
// somewhere cheap to read (Redis, retained MQTT topic, device_states table).
type SnapshotSink interface {
	SaveSnapshot(rec model.MergedDevice)
	DropSnapshot(deviceID string)
}

type Options struct {
	// Sink is optional; nil disables snapshot mirroring.
	Sink SnapshotSink
	// RTDBOnlyDeviceID names the one legacy device whose display status
	// bypasses the maintenance override and always follows the realtime
	// feed. It never got a proper durable-store integration, so its
	// maintenance flag is meaningless.
	RTDBOnlyDeviceID string
}

type Engine struct {
	devices  DeviceWatcher
	feed     RealtimeFeed
	logs     LogRecorder
	notifier notify.Notifier
	sink     SnapshotSink
	rtdbOnly string
}

func New(devices DeviceWatcher, feed RealtimeFeed, logs LogRecorder, notifier notify.Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Engine{
		devices:  devices,
		feed:     feed,
		logs:     logs,
		notifier: notifier,
		sink:     opts.Sink,
		rtdbOnly: opts.RTDBOnlyDeviceID,
	}
}

// Subscribe opens a merged-status subscription for a scope. onUpdate
// receives the full merged-record set (a complete snapshot, never a delta)
// after every durable listing change and every single device's realtime
// update, including an empty slice when the scope is confirmed empty.
//
// The returned cancel closes the durable listener and every per-device
// realtime listener and drops all per-subscription caches. It blocks until
// the subscription's event loop has exited, so no onUpdate call can start
// after cancel returns; for the same reason it must not be invoked from
// inside the onUpdate callback itself.
func (e *Engine) Subscribe(scope model.Scope, onUpdate func([]model.MergedDevice)) (cancel func()) {
	s := &subscription{
		eng:      e,
		scope:    scope,
		onUpdate: onUpdate,
		events:   make(chan any, 64),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		entries:  map[string]*deviceEntry{},
		prev:     previousStatuses{},
		watches:  map[string]func(){},
	}
	s.stopDurable = e.devices.WatchDevices(scope, s.onListing, s.onListingError)
	go s.run()
	return s.cancel
}
