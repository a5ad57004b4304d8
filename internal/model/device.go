package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceStatus is the display status of a device. Only "maintenance" is
// authoritative in the durable store; online/offline always come from the
// realtime feed.
type DeviceStatus string

const (
	StatusOnline      DeviceStatus = "online"
	StatusOffline     DeviceStatus = "offline"
	StatusMaintenance DeviceStatus = "maintenance"
)

const (
	DeviceTypeRefrigerator   = "Refrigerator"
	DeviceTypeAirConditioner = "Air Conditioner"
)

// Device is the durable per-device configuration record. IDs are strings
// rather than native UUIDs because the fleet still contains devices imported
// from the legacy system with 20-char document ids; new devices get UUIDs
// from the BeforeCreate hook.
type Device struct {
	ID          string       `gorm:"primaryKey" json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Location    string       `json:"location"`
	Notes       string       `gorm:"type:text" json:"notes,omitempty"`
	BranchID    string       `gorm:"index" json:"branch_id"`
	Status      DeviceStatus `gorm:"type:varchar(16);default:offline" json:"status"`
	AssignedPin *int         `json:"assigned_pin,omitempty"`
	LastSeen    time.Time    `json:"last_seen"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

type Branch struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	Name            string     `json:"name"`
	Address         string     `json:"address"`
	RegionID        string     `gorm:"index" json:"region_id"`
	ManagerName     string     `json:"manager_name,omitempty"`
	ContactPhone    string     `json:"contact_phone,omitempty"`
	EstablishedDate *time.Time `json:"established_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (b *Branch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

type Region struct {
	ID                  string    `gorm:"primaryKey" json:"id"`
	Name                string    `json:"name"`
	RegionalManagerName string    `json:"regional_manager_name,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (r *Region) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Scope selects the set of devices a view is entitled to observe.
// The zero value means all devices.
type Scope struct {
	BranchID string
	RegionID string
}

func (s Scope) All() bool { return s.BranchID == "" && s.RegionID == "" }

func (s Scope) String() string {
	switch {
	case s.BranchID != "":
		return "branch:" + s.BranchID
	case s.RegionID != "":
		return "region:" + s.RegionID
	default:
		return "all"
	}
}

// MergedDevice is the reconciled view of a device combining durable
// configuration with the realtime feed. Exactly one exists per tracked
// device within a subscription; it is owned by that subscription.
type MergedDevice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Notes    string `json:"notes,omitempty"`
	BranchID string `json:"branch_id"`

	// Status is the single authoritative display status after precedence
	// rules are applied. ConfigStatus carries the durable store's value,
	// LiveStatus the last interpreted realtime value.
	Status       DeviceStatus `json:"status"`
	ConfigStatus DeviceStatus `json:"config_status"`
	LiveStatus   DeviceStatus `json:"live_status,omitempty"`

	LastSeen     time.Time `json:"last_seen"`
	LastSeenLive bool      `json:"last_seen_live"`
	AssignedPin  *int      `json:"assigned_pin,omitempty"`
}
