package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/klubadudel/device-status-central/internal/model"
)

// StatePersister stores the merged record durably per device.
type StatePersister interface {
	SaveDeviceState(ctx context.Context, deviceID string, state []byte) error
}

// SnapshotCache keeps the merged record somewhere cheap to read.
type SnapshotCache interface {
	Set(ctx context.Context, deviceID string, state []byte) error
	Delete(ctx context.Context, deviceID string) error
}

// StatePublisher retains the merged record on the broker for UI shells.
type StatePublisher interface {
	PublishState(id string, state []byte) error
}

// StateMirror fans every recomputed merged record out to Redis, Postgres and
// the retained state topic. Writes happen off the engine's event loop; a
// failed mirror write is logged and dropped since the next heartbeat
// republishes the record anyway.
type StateMirror struct {
	persister StatePersister
	cache     SnapshotCache
	publisher StatePublisher
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewStateMirror(persister StatePersister, cache SnapshotCache, publisher StatePublisher) *StateMirror {
	return &StateMirror{persister: persister, cache: cache, publisher: publisher, timeout: 5 * time.Second}
}

func (m *StateMirror) SaveSnapshot(rec model.MergedDevice) {
	b, err := json.Marshal(rec)
	if err != nil {
		slog.Error("merged record marshal failed", "device_id", rec.ID, "error", err)
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if m.cache != nil {
			if err := m.cache.Set(ctx, rec.ID, b); err != nil {
				slog.Warn("state cache write failed", "device_id", rec.ID, "error", err)
			}
		}
		if m.persister != nil {
			if err := m.persister.SaveDeviceState(ctx, rec.ID, b); err != nil {
				slog.Warn("state persist failed", "device_id", rec.ID, "error", err)
			}
		}
		if m.publisher != nil {
			if err := m.publisher.PublishState(rec.ID, b); err != nil {
				slog.Warn("state publish failed", "device_id", rec.ID, "error", err)
			}
		}
	}()
}

func (m *StateMirror) DropSnapshot(deviceID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if m.cache != nil {
			if err := m.cache.Delete(ctx, deviceID); err != nil {
				slog.Warn("state cache delete failed", "device_id", deviceID, "error", err)
			}
		}
		if m.publisher != nil {
			if err := m.publisher.PublishState(deviceID, nil); err != nil {
				slog.Warn("state topic clear failed", "device_id", deviceID, "error", err)
			}
		}
	}()
}

// Flush waits for in-flight mirror writes; called on shutdown and by tests.
func (m *StateMirror) Flush() {
	m.wg.Wait()
}
