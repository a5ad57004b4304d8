// Package status normalizes raw realtime payloads. Firmware in the field is
// inconsistent about casing and aliases ("ON"/"OFF" vs "online"/"offline")
// and sends timestamps as epoch-second strings, so all of that tolerance is
// isolated here.
package status

import (
	"strconv"
	"strings"
	"time"

	"github.com/klubadudel/device-status-central/internal/model"
)

// PinUpdate reports what a payload said about the GPIO assignment. Present
// distinguishes "the key was there" from "the key was absent": a present nil
// Value clears the assignment, an absent key leaves it untouched.
type PinUpdate struct {
	Present bool
	Value   *int
}

// Reading is the normalized result of interpreting one payload.
type Reading struct {
	Status   model.DeviceStatus
	LastSeen *time.Time
	Pin      PinUpdate
}

// Interpret maps a raw realtime payload to a normalized reading. A nil or
// malformed payload degrades to offline with no timestamp and no pin change;
// it never fails.
func Interpret(p *model.RealtimePayload) Reading {
	r := Reading{Status: model.StatusOffline}
	if p == nil {
		return r
	}
	switch p.Status {
	case "online":
		r.Status = model.StatusOnline
	case "offline":
		r.Status = model.StatusOffline
	default:
		switch strings.ToUpper(p.Status) {
		case "ON":
			r.Status = model.StatusOnline
		case "OFF":
			r.Status = model.StatusOffline
		default:
			// Unknown values are treated as offline rather than surfaced.
			r.Status = model.StatusOffline
		}
	}
	if p.LastUpdated != "" {
		if epoch, err := strconv.ParseInt(strings.TrimSpace(p.LastUpdated), 10, 64); err == nil && epoch >= 0 {
			t := time.Unix(epoch, 0).UTC()
			r.LastSeen = &t
		}
	}
	if p.PinSet {
		r.Pin = PinUpdate{Present: true, Value: p.Pin}
	}
	return r
}
