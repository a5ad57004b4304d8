// Package activity appends device lifecycle events to the durable log
// without ever blocking the status path that produced them.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klubadudel/device-status-central/internal/model"
	"github.com/klubadudel/device-status-central/internal/notify"
)

type LogStore interface {
	AppendLog(ctx context.Context, entry *model.ActivityLog) error
}

// Writer records activity log entries asynchronously. A failed write warns
// the user and leaves a best-effort log_error marker, but never propagates:
// status merging must proceed whether or not history could be saved.
type Writer struct {
	store    LogStore
	notifier notify.Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewWriter(store LogStore, notifier notify.Notifier) *Writer {
	return &Writer{store: store, notifier: notifier, timeout: 5 * time.Second}
}

// Record appends an entry in the background. The entry's Timestamp is
// ignored; the store assigns server time.
func (w *Writer) Record(entry model.ActivityLog) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		err := w.store.AppendLog(ctx, &entry)
		if err == nil {
			return
		}
		slog.Warn("activity log write failed", "device_id", entry.DeviceID, "event_type", entry.EventType, "error", err)
		w.notifier.Notify(notify.Notification{
			Kind:     notify.KindWarning,
			DeviceID: entry.DeviceID,
			Title:    "Logging Error",
			Message:  "Could not save activity log for device event.",
		})
		marker := model.ActivityLog{
			DeviceID:  entry.DeviceID,
			EventType: model.EventLogError,
			Message:   fmt.Sprintf("Failed to record %s entry: %v", entry.EventType, err),
		}
		// The primary context may already be expired; the marker gets its
		// own budget.
		mctx, mcancel := context.WithTimeout(context.Background(), w.timeout)
		defer mcancel()
		if err := w.store.AppendLog(mctx, &marker); err != nil {
			slog.Debug("log_error marker write failed", "device_id", entry.DeviceID, "error", err)
		}
	}()
}

// Flush waits for in-flight writes; called on shutdown and by tests.
func (w *Writer) Flush() {
	w.wg.Wait()
}
