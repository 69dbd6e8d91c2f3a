package models

import (
	"encoding/json"
	"time"
)

// CommandStatus is the lifecycle state of a queued command.
type CommandStatus string

const (
	// CommandPending means the command has been enqueued and not yet
	// delivered (or its delivery lease has expired).
	CommandPending CommandStatus = "pending"
	// CommandInProgress means a poller holds an unexpired delivery lease.
	CommandInProgress CommandStatus = "in_progress"
	// CommandAcked is terminal. Re-acking an acked command overwrites the
	// recorded result rather than erroring.
	CommandAcked CommandStatus = "acked"
	// CommandExpired is terminal; the command outlived its TTL without ever
	// being acknowledged.
	CommandExpired CommandStatus = "expired"
)

// Command is a unit of work directed at one device, scoped to the
// organization that created it. IDs are assigned at creation and are
// strictly increasing, which defines FIFO delivery order.
type Command struct {
	ID       int64           `json:"id"`
	DeviceID string          `json:"device_id"`
	OrgID    string          `json:"org_id"`
	Name     string          `json:"command"`
	Args     json.RawMessage `json:"args,omitempty"`
	Status   CommandStatus   `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`

	// Result fields are nil until the command is acknowledged.
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`

	// Lease fields are set while a poller holds the command.
	LeaseOwner     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`
}
