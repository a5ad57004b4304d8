// Package service implements the device management operations behind the
// HTTP API: durable CRUD plus the side effects each mutation owes the rest
// of the system (activity log entries, realtime node sync, watcher kicks).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/klubadudel/device-status-central/internal/model"
)

var ErrNotFound = errors.New("not found")

// DeviceStore is the durable surface the service mutates.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	CreateDevice(ctx context.Context, d *model.Device) error
	UpdateDevice(ctx context.Context, id string, fields map[string]any) (*model.Device, error)
	DeleteDevice(ctx context.Context, id string) error
	DeleteBranch(ctx context.Context, id string) ([]string, error)
}

// Recorder appends activity log entries without blocking.
type Recorder interface {
	Record(entry model.ActivityLog)
}

// RealtimeWriter mirrors durable mutations into the realtime nodes embedded
// clients read their configuration from.
type RealtimeWriter interface {
	WritePin(id string, pin *int) error
	RemoveDeviceNode(id string) error
}

// Invalidator wakes open listing watches so local mutations show up on the
// next event-loop turn instead of the next poll.
type Invalidator interface {
	Invalidate()
}

type DeviceService struct {
	store DeviceStore
	feed  RealtimeWriter
	logs  Recorder
	inval Invalidator
}

func NewDeviceService(store DeviceStore, feed RealtimeWriter, logs Recorder, inval Invalidator) *DeviceService {
	return &DeviceService{store: store, feed: feed, logs: logs, inval: inval}
}

// CreateDevice stores a new device and seeds its side effects: the pin
// assignment is pushed to the realtime node, a device_created entry is
// logged, and open listing watches are woken.
func (s *DeviceService) CreateDevice(ctx context.Context, d *model.Device, userID *string) error {
	if d.Status == "" {
		d.Status = model.StatusOffline
	}
	if err := s.store.CreateDevice(ctx, d); err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	if d.AssignedPin != nil {
		s.syncPin(d.ID, d.AssignedPin)
	}
	s.logs.Record(model.ActivityLog{
		DeviceID:  d.ID,
		EventType: model.EventDeviceCreated,
		Message:   fmt.Sprintf("Device %q created.", d.Name),
		UserID:    userID,
	})
	s.inval.Invalidate()
	return nil
}

// UpdateDevice applies a partial update and records what changed:
// maintenance flips get their own maintenance_set / maintenance_cleared
// entries, everything else rolls up into one device_details_updated entry.
func (s *DeviceService) UpdateDevice(ctx context.Context, id string, fields map[string]any, userID *string) (*model.Device, error) {
	before, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if before == nil {
		return nil, ErrNotFound
	}

	updated, err := s.store.UpdateDevice(ctx, id, fields)
	if err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}
	if updated == nil {
		return nil, ErrNotFound
	}

	if updated.Status != before.Status {
		old := string(before.Status)
		now := string(updated.Status)
		switch {
		case updated.Status == model.StatusMaintenance:
			s.logs.Record(model.ActivityLog{
				DeviceID:  id,
				EventType: model.EventMaintenanceSet,
				OldValue:  &old,
				NewValue:  &now,
				Message:   fmt.Sprintf("Device %q placed in maintenance.", updated.Name),
				UserID:    userID,
			})
		case before.Status == model.StatusMaintenance:
			s.logs.Record(model.ActivityLog{
				DeviceID:  id,
				EventType: model.EventMaintenanceCleared,
				OldValue:  &old,
				NewValue:  &now,
				Message:   fmt.Sprintf("Device %q maintenance cleared.", updated.Name),
				UserID:    userID,
			})
		}
	}

	if _, ok := fields["assigned_pin"]; ok {
		s.syncPin(id, updated.AssignedPin)
	}

	if changed := changedFields(fields); len(changed) > 0 {
		s.logs.Record(model.ActivityLog{
			DeviceID:  id,
			EventType: model.EventDeviceDetailsUpdated,
			Message:   fmt.Sprintf("Updated fields: %s.", strings.Join(changed, ", ")),
			UserID:    userID,
		})
	}

	s.inval.Invalidate()
	return updated, nil
}

// DeleteDevice removes a device and its state row, clears its retained
// realtime nodes, and wakes listing watches. Activity logs stay behind.
func (s *DeviceService) DeleteDevice(ctx context.Context, id string) error {
	existing, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	if existing == nil {
		return ErrNotFound
	}
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if err := s.feed.RemoveDeviceNode(id); err != nil {
		slog.Warn("realtime node cleanup failed", "device_id", id, "error", err)
	}
	s.inval.Invalidate()
	return nil
}

// DeleteBranch removes a branch with all its devices and tears down each
// removed device's realtime nodes.
func (s *DeviceService) DeleteBranch(ctx context.Context, id string) error {
	removed, err := s.store.DeleteBranch(ctx, id)
	if err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	for _, deviceID := range removed {
		if err := s.feed.RemoveDeviceNode(deviceID); err != nil {
			slog.Warn("realtime node cleanup failed", "device_id", deviceID, "error", err)
		}
	}
	s.inval.Invalidate()
	return nil
}

// syncPin pushes the assignment to the realtime node. A failure is logged as
// a log_error marker rather than failing the mutation; the durable store is
// the source of truth and the node converges on the next write.
func (s *DeviceService) syncPin(id string, pin *int) {
	if err := s.feed.WritePin(id, pin); err != nil {
		slog.Warn("realtime pin sync failed", "device_id", id, "error", err)
		s.logs.Record(model.ActivityLog{
			DeviceID:  id,
			EventType: model.EventLogError,
			Message:   fmt.Sprintf("Failed to sync pin assignment to realtime node: %v", err),
		})
	}
}

func changedFields(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		if k == "status" {
			// Status flips are logged as maintenance events, not details.
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
