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

// Package core implements the device registry and command queue semantics on
// top of the persistence layer. Handlers in core/api stay thin; every rule
// about liveness, ownership, leases, and queue depth lives here.
package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrenhq/fleetwatch/pkg/db"
	"github.com/wrenhq/fleetwatch/pkg/logger"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

const orgTokenBytes = 32

// Clock abstracts time so liveness and lease tests can pin the present.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Core ties the store to the dispatch rules.
type Core struct {
	config *models.CoreServiceConfig
	store  db.Service
	logger logger.Logger
	clock  Clock

	done      chan struct{}
	closeOnce sync.Once
}

// New creates the core service and seeds bootstrap data. A nil clock
// defaults to the real one.
func New(ctx context.Context, config *models.CoreServiceConfig, store db.Service, clock Clock, log logger.Logger) (*Core, error) {
	if clock == nil {
		clock = realClock{}
	}

	c := &Core{
		config: config,
		store:  store,
		logger: log,
		clock:  clock,
		done:   make(chan struct{}),
	}

	if err := c.bootstrap(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// bootstrap seeds a default organization and the configured local users when
// the organizations table is empty. Re-running against a populated store is
// a no-op.
func (c *Core) bootstrap(ctx context.Context) error {
	count, err := c.store.CountOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if count > 0 {
		return nil
	}

	token := c.config.Auth.DefaultOrgToken
	if token == "" {
		token = randomToken()
	}

	org := &models.Organization{
		ID:       uuid.NewString(),
		Name:     "default",
		APIToken: token,
	}

	if err := c.store.CreateOrganization(ctx, org); err != nil {
		return fmt.Errorf("bootstrap: create default org: %w", err)
	}

	c.logger.Info().Str("org_id", org.ID).Msg("seeded default organization")

	for username, hash := range c.config.Auth.LocalUsers {
		user := &models.User{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: hash,
			OrgID:        org.ID,
		}

		if err := c.store.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("bootstrap: create user %s: %w", username, err)
		}
	}

	return nil
}

// IngestTelemetry replaces the device's snapshot and returns the stored
// last-seen timestamp. The raw body is kept verbatim as the last payload.
// When the device is owned by a different organization the ingest is
// rejected unless implicit reassignment is enabled in config.
func (c *Core) IngestTelemetry(ctx context.Context, orgID string, req *models.IngestRequest, raw json.RawMessage) (time.Time, error) {
	now := c.clock.Now().UTC()

	device := &models.Device{
		DeviceID:    req.DeviceID,
		OrgID:       orgID,
		Hostname:    req.Hostname,
		LastSeen:    now,
		LastPayload: raw,
	}

	if err := c.store.UpsertDevice(ctx, device, c.config.AllowImplicitReassignment); err != nil {
		return time.Time{}, err
	}

	return now, nil
}

// ListDevices returns the organization's devices with liveness computed
// against the current clock. A device seen exactly one liveness window ago
// is still online; one second past the window it is not.
func (c *Core) ListDevices(ctx context.Context, orgID string) ([]*models.DeviceView, error) {
	devices, err := c.store.ListDevices(ctx, orgID)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now().UTC()
	window := time.Duration(c.config.LivenessWindow)

	views := make([]*models.DeviceView, 0, len(devices))

	for _, device := range devices {
		views = append(views, &models.DeviceView{
			DeviceID:    device.DeviceID,
			Hostname:    device.Hostname,
			LastSeen:    device.LastSeen,
			Online:      now.Sub(device.LastSeen) <= window,
			LastPayload: device.LastPayload,
		})
	}

	return views, nil
}

// EnqueueCommand queues a command for a device. The device does not have to
// exist; commands may be queued ahead of a device's first report.
func (c *Core) EnqueueCommand(ctx context.Context, orgID, deviceID, name string, args json.RawMessage) (*models.Command, error) {
	cmd := &models.Command{
		DeviceID:  deviceID,
		OrgID:     orgID,
		Name:      name,
		Args:      args,
		CreatedAt: c.clock.Now().UTC(),
	}

	return c.store.EnqueueCommand(ctx, cmd, c.config.MaxPendingPerDevice)
}

// NextCommand returns the oldest deliverable command for the device, leasing
// it to the caller for the configured lease duration. With leasing disabled
// the command stays pending and repeated polls return it again until acked.
func (c *Core) NextCommand(ctx context.Context, orgID, deviceID, leaseOwner string) (*models.Command, error) {
	return c.store.NextCommand(ctx, deviceID, orgID, leaseOwner,
		time.Duration(c.config.CommandLease), c.clock.Now().UTC())
}

// AckCommand finishes a command. Acking is idempotent: re-acking an acked
// command overwrites the recorded result. A command id that exists under a
// different device or organization is reported as not found.
func (c *Core) AckCommand(ctx context.Context, orgID, deviceID string, commandID int64, success bool, message string) (*models.Command, error) {
	return c.store.AckCommand(ctx, commandID, deviceID, orgID, success, message, c.clock.Now().UTC())
}

// ReassignDevice transfers a device into the caller's organization,
// recording who asked for it.
func (c *Core) ReassignDevice(ctx context.Context, orgID, deviceID, actor string) (*models.DeviceReassignment, error) {
	if _, err := c.store.GetOrganizationByID(ctx, orgID); err != nil {
		return nil, err
	}

	record, err := c.store.ReassignDevice(ctx, deviceID, orgID, actor)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("device_id", deviceID).
		Str("from_org", record.FromOrgID).
		Str("to_org", record.ToOrgID).
		Str("actor", actor).
		Msg("device reassigned")

	return record, nil
}

// RotateOrgToken replaces the organization's API token and returns the new
// value. The swap is atomic; the old token never overlaps the new one.
func (c *Core) RotateOrgToken(ctx context.Context, orgID string) (string, error) {
	token := randomToken()

	if err := c.store.RotateOrgToken(ctx, orgID, token); err != nil {
		return "", err
	}

	c.logger.Info().Str("org_id", orgID).Msg("organization token rotated")

	return token, nil
}

// Start runs the command TTL sweeper until the context is canceled. With no
// TTL configured it just blocks, which keeps Core usable as a lifecycle
// service either way.
func (c *Core) Start(ctx context.Context) error {
	ttl := time.Duration(c.config.CommandTTL)
	if ttl <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		}
	}

	interval := time.Duration(c.config.SweepInterval)
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info().Dur("ttl", ttl).Dur("interval", interval).Msg("starting command sweeper")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-ticker.C:
			cutoff := c.clock.Now().UTC().Add(-ttl)

			expired, err := c.store.ExpireCommands(ctx, cutoff)
			if err != nil {
				c.logger.Error().Err(err).Msg("command sweep failed")
				continue
			}

			if expired > 0 {
				c.logger.Info().Int64("expired", expired).Msg("expired stale commands")
			}
		}
	}
}

// Stop terminates the sweeper loop.
func (c *Core) Stop(_ context.Context) error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	return nil
}

func randomToken() string {
	b := make([]byte, orgTokenBytes)
	_, _ = rand.Read(b)

	return base64.URLEncoding.EncodeToString(b)
}
