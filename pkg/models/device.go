package models

import (
	"encoding/json"
	"time"
)

// Device is the latest known state of one reporting device. There is one row
// per device identifier; ingest replaces the row wholesale rather than
// merging fields.
type Device struct {
	DeviceID    string          `json:"device_id"`
	OrgID       string          `json:"org_id"`
	Hostname    string          `json:"hostname,omitempty"`
	LastSeen    time.Time       `json:"last_seen"`
	LastPayload json.RawMessage `json:"last_payload,omitempty"`
}

// DeviceView is a Device annotated with liveness computed at read time.
// Online is never stored; it is derived from LastSeen against the caller's
// clock on every list call.
type DeviceView struct {
	DeviceID    string          `json:"device_id"`
	Hostname    string          `json:"hostname,omitempty"`
	LastSeen    time.Time       `json:"last_seen"`
	Online      bool            `json:"online"`
	LastPayload json.RawMessage `json:"last_payload,omitempty"`
}

// DeviceReassignment is the audit record written whenever a device changes
// owning organization.
type DeviceReassignment struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	FromOrgID string    `json:"from_org_id"`
	ToOrgID   string    `json:"to_org_id"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
