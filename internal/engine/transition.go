package engine

import "github.com/klubadudel/device-status-central/internal/model"

// TransitionKind classifies one realtime observation against the previous
// one for the same device.
type TransitionKind int

const (
	// TransitionFirstObservation seeds the cache; no transition is emitted.
	TransitionFirstObservation TransitionKind = iota
	TransitionUnchanged
	TransitionWentOffline
	TransitionWentOnline
	// TransitionOtherChange covers flips involving values outside
	// online/offline. They are not expected from healthy firmware but must
	// not crash or notify.
	TransitionOtherChange
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionFirstObservation:
		return "first-observation"
	case TransitionUnchanged:
		return "unchanged"
	case TransitionWentOffline:
		return "online->offline"
	case TransitionWentOnline:
		return "offline->online"
	default:
		return "other-change"
	}
}

// previousStatuses is the per-subscription transition cache. Scoping it to
// the subscription (instead of a process-wide map) keeps two concurrently
// open scopes that track the same device from overwriting each other.
type previousStatuses map[string]model.DeviceStatus

// detect classifies the new status against the cached one and returns the
// prior value. The cache is updated unconditionally, including on unchanged
// observations.
func (p previousStatuses) detect(id string, next model.DeviceStatus) (TransitionKind, model.DeviceStatus) {
	prev, seen := p[id]
	p[id] = next
	switch {
	case !seen:
		return TransitionFirstObservation, prev
	case prev == next:
		return TransitionUnchanged, prev
	case prev == model.StatusOnline && next == model.StatusOffline:
		return TransitionWentOffline, prev
	case prev == model.StatusOffline && next == model.StatusOnline:
		return TransitionWentOnline, prev
	default:
		return TransitionOtherChange, prev
	}
}
