// Package notify is the user-notification port of the status engine. The
// engine only decides that a notification should happen; presentation (UI
// toast, sound, chat message) belongs to the implementations here.
package notify

import "log/slog"

type Kind string

const (
	KindDeviceOnline  Kind = "device_online"
	KindDeviceOffline Kind = "device_offline"
	KindWarning       Kind = "warning"
	KindError         Kind = "error"
)

type Notification struct {
	Kind     Kind   `json:"kind"`
	DeviceID string `json:"device_id,omitempty"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	// Sound asks the presenting shell to play the alert sound; only
	// online/offline flips set it.
	Sound bool `json:"sound"`
}

type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to the structured log. It doubles as the
// fallback when no other channel is configured.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) Notify(n Notification) {
	switch n.Kind {
	case KindError:
		slog.Error("notification", "kind", n.Kind, "device_id", n.DeviceID, "title", n.Title, "message", n.Message)
	case KindWarning:
		slog.Warn("notification", "kind", n.Kind, "device_id", n.DeviceID, "title", n.Title, "message", n.Message)
	default:
		slog.Info("notification", "kind", n.Kind, "device_id", n.DeviceID, "title", n.Title, "message", n.Message)
	}
}

// Multi fans a notification out to several channels.
type Multi []Notifier

var _ Notifier = Multi(nil)

func (m Multi) Notify(n Notification) {
	for _, nf := range m {
		nf.Notify(n)
	}
}
