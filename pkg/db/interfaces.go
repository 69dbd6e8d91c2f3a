/*
 * Copyright 2026 Wren Systems, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package db persists organizations, users, devices, and commands. Two
// implementations exist: Postgres (production) and an in-memory store used
// by tests and development.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/wrenhq/fleetwatch/pkg/models"
)

var (
	// ErrOrgNotFound is returned when no organization matches the lookup.
	// Token lookups intentionally do not distinguish "unknown token" from
	// "rotated-out token".
	ErrOrgNotFound = errors.New("organization not found")
	// ErrUserNotFound is returned for unknown usernames.
	ErrUserNotFound = errors.New("user not found")
	// ErrDeviceNotFound is returned when a device has never reported.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceOwned is returned when ingest targets a device owned by a
	// different organization and implicit reassignment is disabled.
	ErrDeviceOwned = errors.New("device owned by another organization")
	// ErrCommandNotFound covers both nonexistent commands and commands that
	// belong to a different device or organization. Cross-tenant commands
	// are invisible, not merely unauthorized.
	ErrCommandNotFound = errors.New("command not found")
	// ErrQueueFull is returned when a device's pending queue has reached the
	// configured depth limit.
	ErrQueueFull = errors.New("command queue full")
	// ErrTokenInUse is returned when a rotation would collide with another
	// organization's token.
	ErrTokenInUse = errors.New("token already in use")
)

// Service is the persistence contract. Every mutating call is atomic with
// respect to concurrent callers on the same key; implementations run each
// read-modify-write as one transaction (or one lock hold).
type Service interface {
	// Organizations.
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganizationByToken(ctx context.Context, token string) (*models.Organization, error)
	GetOrganizationByID(ctx context.Context, id string) (*models.Organization, error)
	CountOrganizations(ctx context.Context) (int, error)
	// RotateOrgToken swaps the organization's API token in one atomic write;
	// there is no window where both tokens resolve.
	RotateOrgToken(ctx context.Context, orgID, newToken string) error

	// Users.
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Devices.
	// UpsertDevice fully replaces the device row. When the device exists
	// under a different organization it returns ErrDeviceOwned unless
	// allowReassign is set, in which case ownership silently transfers.
	UpsertDevice(ctx context.Context, device *models.Device, allowReassign bool) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	// ListDevices returns one consistent snapshot of the organization's
	// devices; rows are never mixed across points in time.
	ListDevices(ctx context.Context, orgID string) ([]*models.Device, error)
	// ReassignDevice transfers ownership explicitly and records an audit row.
	ReassignDevice(ctx context.Context, deviceID, toOrgID, actor string) (*models.DeviceReassignment, error)

	// Commands.
	// EnqueueCommand assigns a strictly increasing id. maxPending of zero
	// means unbounded.
	EnqueueCommand(ctx context.Context, cmd *models.Command, maxPending int) (*models.Command, error)
	// NextCommand atomically leases the lowest-id deliverable command for
	// the (device, org) pair: pending commands, plus in-progress commands
	// whose lease has expired as of now. A zero lease duration leaves the
	// command pending (peek-until-acked delivery). Returns nil when the
	// queue is empty.
	NextCommand(ctx context.Context, deviceID, orgID, leaseOwner string, lease time.Duration, now time.Time) (*models.Command, error)
	// AckCommand marks the command acked, recording the result. Acking an
	// already-acked command succeeds and overwrites the prior result.
	AckCommand(ctx context.Context, commandID int64, deviceID, orgID string, success bool, message string, now time.Time) (*models.Command, error)
	// ExpireCommands moves undelivered commands created before cutoff to the
	// terminal expired status and reports how many rows changed.
	ExpireCommands(ctx context.Context, cutoff time.Time) (int64, error)

	Close()
}
