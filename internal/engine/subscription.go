package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/klubadudel/device-status-central/internal/model"
	"github.com/klubadudel/device-status-central/internal/notify"
	"github.com/klubadudel/device-status-central/internal/status"
)

// subscription is one open scope. All of its state is owned by the run
// goroutine; external callers only touch the events channel and done.
type subscription struct {
	eng      *Engine
	scope    model.Scope
	onUpdate func([]model.MergedDevice)

	events   chan any
	done     chan struct{}
	loopDone chan struct{}
	once     sync.Once

	entries     map[string]*deviceEntry
	prev        previousStatuses
	watches     map[string]func()
	stopDurable func()
}

// deviceEntry tracks what each source last said about one device.
type deviceEntry struct {
	cfg model.Device

	liveSeen     bool
	liveStatus   model.DeviceStatus
	liveLastSeen *time.Time
	livePinSeen  bool
	livePin      *int
}

type listingEvent struct{ devices []model.Device }

type listingErrorEvent struct{ err error }

type realtimeEvent struct {
	deviceID string
	payload  *model.RealtimePayload
}

type realtimeErrorEvent struct {
	deviceID string
	err      error
}

func (s *subscription) onListing(devices []model.Device) { s.enqueue(listingEvent{devices}) }

func (s *subscription) onListingError(err error) { s.enqueue(listingErrorEvent{err}) }

func (s *subscription) enqueue(ev any) {
	select {
	case <-s.done:
		// Torn down; discard in-flight events.
	case s.events <- ev:
	}
}

func (s *subscription) cancel() {
	s.once.Do(func() { close(s.done) })
	<-s.loopDone
}

func (s *subscription) run() {
	defer close(s.loopDone)
	for {
		// Drain nothing once cancelled, even with events still queued.
		select {
		case <-s.done:
			s.teardown()
			return
		default:
		}
		select {
		case <-s.done:
			s.teardown()
			return
		case ev := <-s.events:
			switch ev := ev.(type) {
			case listingEvent:
				s.handleListing(ev.devices)
			case listingErrorEvent:
				s.handleListingError(ev.err)
			case realtimeEvent:
				s.handleRealtime(ev.deviceID, ev.payload)
			case realtimeErrorEvent:
				s.handleRealtimeError(ev.deviceID, ev.err)
			}
		}
	}
}

func (s *subscription) teardown() {
	if s.stopDurable != nil {
		s.stopDurable()
	}
	for id, unwatch := range s.watches {
		unwatch()
		delete(s.watches, id)
	}
	s.entries = map[string]*deviceEntry{}
	s.prev = previousStatuses{}
	slog.Debug("scope subscription torn down", "scope", s.scope.String())
}

// handleListing diffs the durable listing against the tracked set: removed
// devices lose their realtime watch and caches, new devices are seeded from
// durable data and then attached to the feed.
func (s *subscription) handleListing(devices []model.Device) {
	next := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		next[d.ID] = struct{}{}
	}
	for id := range s.entries {
		if _, ok := next[id]; ok {
			continue
		}
		if unwatch := s.watches[id]; unwatch != nil {
			unwatch()
		}
		delete(s.watches, id)
		delete(s.entries, id)
		delete(s.prev, id)
		if s.eng.sink != nil {
			s.eng.sink.DropSnapshot(id)
		}
	}

	var added []string
	for _, d := range devices {
		cfg := normalizeDurable(d)
		e, ok := s.entries[d.ID]
		if !ok {
			e = &deviceEntry{liveStatus: model.StatusOffline}
			s.entries[d.ID] = e
			added = append(added, d.ID)
		}
		e.cfg = cfg
		s.saveSnapshot(e)
	}

	for _, id := range added {
		id := id
		s.watches[id] = s.eng.feed.WatchDevice(id,
			func(p *model.RealtimePayload) { s.enqueue(realtimeEvent{deviceID: id, payload: p}) },
			func(err error) { s.enqueue(realtimeErrorEvent{deviceID: id, err: err}) },
		)
	}

	s.publish()
}

// handleListingError surfaces durable listing failures as an empty snapshot
// plus an error notification; the subscription itself stays alive and the
// watcher keeps retrying.
func (s *subscription) handleListingError(err error) {
	slog.Error("durable listing stream error", "scope", s.scope.String(), "error", err)
	s.eng.notifier.Notify(notify.Notification{
		Kind:    notify.KindError,
		Title:   "Device List Error",
		Message: "Could not load the device list. Retrying in the background.",
	})
	s.emit([]model.MergedDevice{})
}

func (s *subscription) handleRealtime(deviceID string, payload *model.RealtimePayload) {
	entry := s.entries[deviceID]
	if entry == nil {
		// Event for a device already torn down from this scope.
		return
	}
	reading := status.Interpret(payload)
	entry.liveSeen = true
	entry.liveStatus = reading.Status
	if reading.LastSeen != nil {
		entry.liveLastSeen = reading.LastSeen
	}
	if reading.Pin.Present {
		entry.livePinSeen = true
		entry.livePin = reading.Pin.Value
	}

	kind, prev := s.prev.detect(deviceID, reading.Status)
	if kind == TransitionWentOffline || kind == TransitionWentOnline {
		s.recordTransition(entry, kind, prev, reading.Status)
	}

	s.saveSnapshot(entry)
	s.publish()
}

// handleRealtimeError degrades a single device to offline (maintenance
// still wins in the merged view) without disturbing the rest of the scope.
func (s *subscription) handleRealtimeError(deviceID string, err error) {
	entry := s.entries[deviceID]
	if entry == nil {
		return
	}
	slog.Error("realtime listener error", "device_id", deviceID, "error", err)
	entry.liveSeen = true
	entry.liveStatus = model.StatusOffline
	// Degrade the transition cache only if a genuine observation seeded it;
	// the first real payload after an early error still counts as the first.
	if _, seen := s.prev[deviceID]; seen {
		s.prev[deviceID] = model.StatusOffline
	}
	s.saveSnapshot(entry)
	s.publish()
}

func (s *subscription) recordTransition(entry *deviceEntry, kind TransitionKind, prev, next model.DeviceStatus) {
	old := string(prev)
	now := string(next)
	s.eng.logs.Record(model.ActivityLog{
		DeviceID:  entry.cfg.ID,
		EventType: model.EventRTDBStatusChange,
		OldValue:  &old,
		NewValue:  &now,
		Message:   fmt.Sprintf("Device realtime status changed from %s to %s.", prev, next),
	})

	name := entry.cfg.Name
	if name == "" {
		name = entry.cfg.ID
	}
	n := notify.Notification{DeviceID: entry.cfg.ID, Sound: true}
	if kind == TransitionWentOffline {
		n.Kind = notify.KindDeviceOffline
		n.Title = "Device Offline"
		n.Message = fmt.Sprintf("Device %q has gone offline.", name)
	} else {
		n.Kind = notify.KindDeviceOnline
		n.Title = "Device Online"
		n.Message = fmt.Sprintf("Device %q is now online.", name)
	}
	s.eng.notifier.Notify(n)
}

func (s *subscription) saveSnapshot(entry *deviceEntry) {
	if s.eng.sink == nil {
		return
	}
	s.eng.sink.SaveSnapshot(s.merged(entry))
}

// merged applies the precedence contract: maintenance in the durable store
// overrides everything, otherwise the last interpreted realtime status wins
// (offline until the first observation). The designated realtime-only
// device skips the maintenance override entirely.
func (s *subscription) merged(e *deviceEntry) model.MergedDevice {
	rec := model.MergedDevice{
		ID:           e.cfg.ID,
		Name:         e.cfg.Name,
		Type:         e.cfg.Type,
		Location:     e.cfg.Location,
		Notes:        e.cfg.Notes,
		BranchID:     e.cfg.BranchID,
		ConfigStatus: e.cfg.Status,
		LastSeen:     e.cfg.LastSeen,
		AssignedPin:  e.cfg.AssignedPin,
	}
	if e.liveSeen {
		rec.LiveStatus = e.liveStatus
	}
	switch {
	case e.cfg.ID == s.eng.rtdbOnly && s.eng.rtdbOnly != "":
		rec.Status = e.liveStatus
	case e.cfg.Status == model.StatusMaintenance:
		rec.Status = model.StatusMaintenance
	default:
		rec.Status = e.liveStatus
	}
	if e.liveLastSeen != nil {
		rec.LastSeen = *e.liveLastSeen
		rec.LastSeenLive = true
	}
	if e.livePinSeen {
		rec.AssignedPin = e.livePin
	}
	return rec
}

// publish pushes the full merged set for the scope, sorted by name for
// stable ordering across snapshots.
func (s *subscription) publish() {
	records := make([]model.MergedDevice, 0, len(s.entries))
	for _, e := range s.entries {
		records = append(records, s.merged(e))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].ID < records[j].ID
	})
	s.emit(records)
}

func (s *subscription) emit(records []model.MergedDevice) {
	select {
	case <-s.done:
		return
	default:
	}
	s.onUpdate(records)
}

// normalizeDurable fills defaults the way durable records are read: a
// missing status is offline, never empty.
func normalizeDurable(d model.Device) model.Device {
	if d.Status == "" {
		d.Status = model.StatusOffline
	}
	return d
}
