package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType enumerates the device activity log event kinds.
type EventType string

const (
	EventRTDBStatusChange     EventType = "rtdb_status_change"
	EventMaintenanceSet       EventType = "maintenance_set"
	EventMaintenanceCleared   EventType = "maintenance_cleared"
	EventDeviceCreated        EventType = "device_created"
	EventDeviceDetailsUpdated EventType = "device_details_updated"
	EventLogError             EventType = "log_error"
)

// ActivityLog is an append-only device lifecycle record. Timestamp is
// assigned by the database so ordering survives clock skew between writers.
// Rows are never updated or deleted; logs for deleted devices are left
// orphaned on purpose.
type ActivityLog struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	DeviceID  string    `gorm:"index" json:"device_id"`
	Timestamp time.Time `gorm:"default:now()" json:"timestamp"`
	EventType EventType `gorm:"type:varchar(32)" json:"event_type"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	Message   string    `gorm:"type:text" json:"message"`
	UserID    *string   `json:"user_id,omitempty"`
}

func (l *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// DeviceState persists the last published merged record per device so
// dashboards can render a snapshot before any realtime traffic arrives.
type DeviceState struct {
	DeviceID  string         `gorm:"primaryKey" json:"device_id"`
	State     datatypes.JSON `gorm:"type:jsonb" json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}
