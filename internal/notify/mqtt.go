package notify

import (
	"encoding/json"
	"log/slog"

	"github.com/klubadudel/device-status-central/internal/mqtt"
)

const notificationsTopic = "devicestatus/events/notifications"

// MQTTNotifier publishes notifications for UI shells subscribed to the
// events topic. The dashboard frontend turns these into toasts and plays the
// alert sound when asked to.
type MQTTNotifier struct {
	client mqtt.ClientAPI
}

var _ Notifier = (*MQTTNotifier)(nil)

func NewMQTTNotifier(client mqtt.ClientAPI) *MQTTNotifier {
	return &MQTTNotifier{client: client}
}

func (m *MQTTNotifier) Notify(n Notification) {
	b, err := json.Marshal(n)
	if err != nil {
		slog.Warn("notification encode failed", "kind", n.Kind, "error", err)
		return
	}
	if err := m.client.Publish(notificationsTopic, b); err != nil {
		slog.Warn("notification publish failed", "kind", n.Kind, "error", err)
	}
}
