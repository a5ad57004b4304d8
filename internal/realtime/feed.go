// Package realtime adapts per-device MQTT topics to the watch/unwatch
// contract the merge engine consumes. Embedded clients publish retained
// heartbeat payloads to devicestatus/devices/<id>, so a fresh watch receives
// the last known payload immediately, the same way a realtime database node
// replays its current value on attach.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/klubadudel/device-status-central/internal/model"
	"github.com/klubadudel/device-status-central/internal/mqtt"
)

const (
	deviceTopicPrefix = "devicestatus/devices/"
	stateTopicPrefix  = "devicestatus/state/"
)

type Feed struct {
	client mqtt.ClientAPI

	mu     sync.Mutex
	topics map[string]*topicWatch
}

type topicWatch struct {
	nextID   int
	handlers map[int]watchFuncs
	last     *model.RealtimePayload
}

type watchFuncs struct {
	onValue func(*model.RealtimePayload)
	onError func(error)
}

func NewFeed(client mqtt.ClientAPI) *Feed {
	return &Feed{client: client, topics: map[string]*topicWatch{}}
}

// WatchDevice attaches a value listener for one device. Multiple watches on
// the same device share a single broker subscription and are fanned out, so
// two open scopes observing the same device never clobber each other. The
// returned unwatch is idempotent.
func (f *Feed) WatchDevice(id string, onValue func(*model.RealtimePayload), onError func(error)) (unwatch func()) {
	f.mu.Lock()
	tw, ok := f.topics[id]
	if !ok {
		tw = &topicWatch{handlers: map[int]watchFuncs{}}
		f.topics[id] = tw
	}
	hid := tw.nextID
	tw.nextID++
	tw.handlers[hid] = watchFuncs{onValue: onValue, onError: onError}
	needSubscribe := !ok
	f.mu.Unlock()

	if needSubscribe {
		topic := deviceTopicPrefix + id
		if err := f.client.Subscribe(topic, f.makeHandler(id)); err != nil {
			f.mu.Lock()
			delete(f.topics, id)
			f.mu.Unlock()
			slog.Error("realtime watch subscribe failed", "device_id", id, "error", err)
			if onError != nil {
				// Asynchronously, so a caller attaching watches from its own
				// event loop never re-enters itself.
				go onError(err)
			}
			return func() {}
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { f.unwatch(id, hid) })
	}
}

func (f *Feed) makeHandler(id string) mqtt.Handler {
	return func(_ paho.Client, m paho.Message) {
		payload := decode(id, m.Payload())
		f.mu.Lock()
		tw := f.topics[id]
		if tw == nil {
			f.mu.Unlock()
			return
		}
		tw.last = payload
		funcs := make([]watchFuncs, 0, len(tw.handlers))
		for _, h := range tw.handlers {
			funcs = append(funcs, h)
		}
		f.mu.Unlock()
		for _, h := range funcs {
			h.onValue(payload)
		}
	}
}

func decode(id string, raw []byte) *model.RealtimePayload {
	if len(raw) == 0 {
		// Retained clear: the device node no longer exists.
		return nil
	}
	var p model.RealtimePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		slog.Warn("realtime payload unmarshal failed", "device_id", id, "error", err)
		return nil
	}
	return &p
}

func (f *Feed) unwatch(id string, hid int) {
	f.mu.Lock()
	tw := f.topics[id]
	if tw == nil {
		f.mu.Unlock()
		return
	}
	delete(tw.handlers, hid)
	lastGone := len(tw.handlers) == 0
	if lastGone {
		delete(f.topics, id)
	}
	f.mu.Unlock()
	if lastGone {
		if err := f.client.Unsubscribe(deviceTopicPrefix + id); err != nil {
			slog.Warn("realtime unsubscribe failed", "device_id", id, "error", err)
		}
	}
}

// ActiveWatches reports the number of attached listeners across all devices.
func (f *Feed) ActiveWatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tw := range f.topics {
		n += len(tw.handlers)
	}
	return n
}

// WritePin merges a pin assignment into the device's retained payload. A nil
// pin publishes an explicit null so watchers see the assignment cleared.
func (f *Feed) WritePin(id string, pin *int) error {
	f.mu.Lock()
	var next model.RealtimePayload
	if tw := f.topics[id]; tw != nil && tw.last != nil {
		next = *tw.last
	}
	f.mu.Unlock()
	next.PinSet = true
	next.Pin = pin
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return f.client.PublishRetained(deviceTopicPrefix+id, b)
}

// RemoveDeviceNode clears the retained heartbeat and merged-state topics for
// a deleted device.
func (f *Feed) RemoveDeviceNode(id string) error {
	if err := f.client.PublishRetained(deviceTopicPrefix+id, nil); err != nil {
		return err
	}
	return f.client.PublishRetained(stateTopicPrefix+id, nil)
}

// PublishState retains the merged record for one device so UI shells can
// read the reconciled view straight off the broker.
func (f *Feed) PublishState(id string, state []byte) error {
	return f.client.PublishRetained(stateTopicPrefix+id, state)
}
