package status

import (
	"testing"
	"time"

	"github.com/klubadudel/device-status-central/internal/model"
)

func TestInterpretStatusAliases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want model.DeviceStatus
	}{
		{"exact online", "online", model.StatusOnline},
		{"exact offline", "offline", model.StatusOffline},
		{"upper ON", "ON", model.StatusOnline},
		{"lower on", "on", model.StatusOnline},
		{"mixed Off", "Off", model.StatusOffline},
		{"upper OFF", "OFF", model.StatusOffline},
		{"empty string", "", model.StatusOffline},
		{"garbage", "rebooting", model.StatusOffline},
		{"maintenance is not a realtime value", "maintenance", model.StatusOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret(&model.RealtimePayload{Status: tt.raw})
			if got.Status != tt.want {
				t.Errorf("Interpret(status=%q).Status = %q, want %q", tt.raw, got.Status, tt.want)
			}
		})
	}
}

func TestInterpretNilPayload(t *testing.T) {
	got := Interpret(nil)
	if got.Status != model.StatusOffline {
		t.Errorf("nil payload status = %q, want offline", got.Status)
	}
	if got.LastSeen != nil {
		t.Errorf("nil payload lastSeen = %v, want nil", got.LastSeen)
	}
	if got.Pin.Present {
		t.Error("nil payload must not report a pin update")
	}
}

func TestInterpretLastUpdated(t *testing.T) {
	wantTime := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
		want *time.Time
	}{
		{"valid epoch", "1700000000", &wantTime},
		{"empty", "", nil},
		{"garbage", "yesterday", nil},
		{"float string", "17000.5", nil},
		{"negative", "-1700000000", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret(&model.RealtimePayload{Status: "online", LastUpdated: tt.raw})
			if (got.LastSeen == nil) != (tt.want == nil) {
				t.Fatalf("Interpret(last_updated=%q).LastSeen = %v, want %v", tt.raw, got.LastSeen, tt.want)
			}
			if tt.want != nil && !got.LastSeen.Equal(*tt.want) {
				t.Errorf("Interpret(last_updated=%q).LastSeen = %v, want %v", tt.raw, got.LastSeen, *tt.want)
			}
		})
	}
}

func TestInterpretPinPresence(t *testing.T) {
	five := 5
	tests := []struct {
		name        string
		payload     *model.RealtimePayload
		wantPresent bool
		wantValue   *int
	}{
		{"absent key leaves assignment untouched", &model.RealtimePayload{Status: "online"}, false, nil},
		{"explicit null clears", &model.RealtimePayload{Status: "online", PinSet: true}, true, nil},
		{"numeric value replaces", &model.RealtimePayload{Status: "online", PinSet: true, Pin: &five}, true, &five},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret(tt.payload)
			if got.Pin.Present != tt.wantPresent {
				t.Fatalf("Pin.Present = %v, want %v", got.Pin.Present, tt.wantPresent)
			}
			if (got.Pin.Value == nil) != (tt.wantValue == nil) {
				t.Fatalf("Pin.Value = %v, want %v", got.Pin.Value, tt.wantValue)
			}
			if tt.wantValue != nil && *got.Pin.Value != *tt.wantValue {
				t.Errorf("Pin.Value = %d, want %d", *got.Pin.Value, *tt.wantValue)
			}
		})
	}
}

func TestInterpretFullScenario(t *testing.T) {
	// {"status":"OFF","last_updated":"1700000000","pin":null}
	p := &model.RealtimePayload{Status: "OFF", LastUpdated: "1700000000", PinSet: true}
	got := Interpret(p)
	if got.Status != model.StatusOffline {
		t.Errorf("status = %q, want offline", got.Status)
	}
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if got.LastSeen == nil || !got.LastSeen.Equal(want) {
		t.Errorf("lastSeen = %v, want %v", got.LastSeen, want)
	}
	if !got.Pin.Present || got.Pin.Value != nil {
		t.Errorf("pin = %+v, want present and cleared", got.Pin)
	}
}
