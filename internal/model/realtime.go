package model

import "encoding/json"

// RealtimePayload is the wire shape embedded clients push per device:
//
//	{"status": "online", "last_updated": "1700000000", "pin": 5}
//
// The pin key carries meaning by presence alone: an explicit null clears the
// assignment while an absent key leaves the prior assignment untouched, so
// decoding has to keep the distinction instead of collapsing both to nil.
type RealtimePayload struct {
	Status      string
	LastUpdated string
	Pin         *int
	PinSet      bool
}

func (p *RealtimePayload) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if v, ok := raw["status"]; ok {
		// Tolerate non-string statuses from misbehaving firmware; the
		// interpreter maps anything unrecognized to offline anyway.
		if err := json.Unmarshal(v, &p.Status); err != nil {
			var n json.Number
			if json.Unmarshal(v, &n) == nil {
				p.Status = n.String()
			}
		}
	}
	if v, ok := raw["last_updated"]; ok {
		if err := json.Unmarshal(v, &p.LastUpdated); err != nil {
			var n json.Number
			if json.Unmarshal(v, &n) == nil {
				p.LastUpdated = n.String()
			}
		}
	}
	if v, ok := raw["pin"]; ok {
		p.PinSet = true
		if string(v) != "null" {
			var n int
			if json.Unmarshal(v, &n) == nil {
				p.Pin = &n
			}
		}
	}
	return nil
}

func (p RealtimePayload) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if p.Status != "" {
		out["status"] = p.Status
	}
	if p.LastUpdated != "" {
		out["last_updated"] = p.LastUpdated
	}
	if p.PinSet {
		if p.Pin != nil {
			out["pin"] = *p.Pin
		} else {
			out["pin"] = nil
		}
	}
	return json.Marshal(out)
}
