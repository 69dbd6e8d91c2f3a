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

package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenhq/fleetwatch/pkg/db"
	"github.com/wrenhq/fleetwatch/pkg/lifecycle"
	"github.com/wrenhq/fleetwatch/pkg/logger"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func testLogger(t *testing.T) logger.Logger {
	t.Helper()

	log, err := lifecycle.CreateLogger(&logger.Config{Level: "disabled"})
	require.NoError(t, err)

	return log
}

func testConfig() *models.CoreServiceConfig {
	return &models.CoreServiceConfig{
		ListenAddr: ":0",
		Database:   &models.DatabaseConfig{Type: models.DatabaseTypeMemory},
		Auth: &models.AuthConfig{
			JWTSecret:       "test-secret",
			DefaultOrgToken: "org-token",
		},
		LivenessWindow: models.Duration(30 * time.Second),
	}
}

func setupCore(t *testing.T, cfg *models.CoreServiceConfig) (*Core, *db.Memory, *fakeClock) {
	t.Helper()

	store := db.NewMemory()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	c, err := New(context.Background(), cfg, store, clock, testLogger(t))
	require.NoError(t, err)

	return c, store, clock
}

func defaultOrgID(t *testing.T, store *db.Memory) string {
	t.Helper()

	org, err := store.GetOrganizationByToken(context.Background(), "org-token")
	require.NoError(t, err)

	return org.ID
}

func TestBootstrapSeedsDefaultOrg(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.LocalUsers = map[string]string{"admin": "$2a$10$hash"}

	_, store, _ := setupCore(t, cfg)
	ctx := context.Background()

	org, err := store.GetOrganizationByToken(ctx, "org-token")
	require.NoError(t, err)
	assert.Equal(t, "default", org.Name)

	user, err := store.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, org.ID, user.OrgID)

	// A second startup against the populated store seeds nothing new.
	_, err = New(ctx, cfg, store, &fakeClock{now: time.Now()}, testLogger(t))
	require.NoError(t, err)

	count, err := store.CountOrganizations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestStoresSnapshot(t *testing.T) {
	c, store, clock := setupCore(t, testConfig())
	ctx := context.Background()
	orgID := defaultOrgID(t, store)

	raw := json.RawMessage(`{"device_id":"dev-1","hostname":"host-1","cpu":12.5}`)

	ts, err := c.IngestTelemetry(ctx, orgID, &models.IngestRequest{
		DeviceID: "dev-1",
		Hostname: "host-1",
		CPU:      12.5,
	}, raw)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UTC(), ts)

	device, err := store.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, orgID, device.OrgID)
	assert.Equal(t, "host-1", device.Hostname)
	assert.JSONEq(t, string(raw), string(device.LastPayload))
}

func TestIngestRejectsForeignDevice(t *testing.T) {
	c, store, _ := setupCore(t, testConfig())
	ctx := context.Background()
	orgID := defaultOrgID(t, store)

	require.NoError(t, store.CreateOrganization(ctx, &models.Organization{
		ID:       "org-b",
		Name:     "org-b",
		APIToken: "token-b",
	}))

	_, err := c.IngestTelemetry(ctx, orgID, &models.IngestRequest{DeviceID: "dev-1"}, nil)
	require.NoError(t, err)

	_, err = c.IngestTelemetry(ctx, "org-b", &models.IngestRequest{DeviceID: "dev-1"}, nil)
	assert.ErrorIs(t, err, db.ErrDeviceOwned)

	device, err := store.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, orgID, device.OrgID)
}

func TestIngestImplicitReassignment(t *testing.T) {
	cfg := testConfig()
	cfg.AllowImplicitReassignment = true

	c, store, _ := setupCore(t, cfg)
	ctx := context.Background()
	orgID := defaultOrgID(t, store)

	_, err := c.IngestTelemetry(ctx, orgID, &models.IngestRequest{DeviceID: "dev-1"}, nil)
	require.NoError(t, err)

	_, err = c.IngestTelemetry(ctx, "org-b", &models.IngestRequest{DeviceID: "dev-1"}, nil)
	require.NoError(t, err)

	device, err := store.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "org-b", device.OrgID)
}

func TestListDevicesLivenessBoundary(t *testing.T) {
	c, store, clock := setupCore(t, testConfig())
	ctx := context.Background()
	orgID := defaultOrgID(t, store)

	_, err := c.IngestTelemetry(ctx, orgID, &models.IngestRequest{DeviceID: "dev-1", Hostname: "h"}, nil)
	require.NoError(t, err)

	// Exactly at the window boundary the device is still online.
	clock.Advance(30 * time.Second)

	views, err := c.ListDevices(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Online)

	// One second past the boundary it is not.
	clock.Advance(time.Second)

	views, err = c.ListDevices(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.False(t, views[0].Online)

	// A fresh report flips it back with no other state change.
	_, err = c.IngestTelemetry(ctx, orgID, &models.IngestRequest{DeviceID: "dev-1", Hostname: "h"}, nil)
	require.NoError(t, err)

	views, err = c.ListDevices(ctx, orgID)
	require.NoError(t, err)
	assert.True(t, views[0].Online)
}

func TestCommandRoundTrip(t *testing.T) {
	c, store, clock := setupCore(t, testConfig())
	ctx := context.Background()
	orgID := defaultOrgID(t, store)

	cmd, err := c.EnqueueCommand(ctx, orgID, "dev-1", "restart", json.RawMessage(`{"force":true}`))
	require.NoError(t, err)
	assert.Equal(t, models.CommandPending, cmd.Status)
	assert.Equal(t, clock.Now().UTC(), cmd.CreatedAt)

	polled, err := c.NextCommand(ctx, orgID, "dev-1", "agent-1")
	require.NoError(t, err)
	require.NotNil(t, polled)
	assert.Equal(t, cmd.ID, polled.ID)

	acked, err := c.AckCommand(ctx, orgID, "dev-1", cmd.ID, true, "done")
	require.NoError(t, err)
	assert.Equal(t, models.CommandAcked, acked.Status)

	polled, err = c.NextCommand(ctx, orgID, "dev-1", "agent-1")
	require.NoError(t, err)
	assert.Nil(t, polled)
}

func TestCommandLeaseFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.CommandLease = models.Duration(30 * time.Second)

	c, store, clock := setupCore(t, cfg)
	ctx := context.Background()
	orgID := defaultOrgID(t, store)

	cmd, err := c.EnqueueCommand(ctx, orgID, "dev-1", "restart", nil)
	require.NoError(t, err)

	polled, err := c.NextCommand(ctx, orgID, "dev-1", "agent-1")
	require.NoError(t, err)
	require.NotNil(t, polled)
	assert.Equal(t, models.CommandInProgress, polled.Status)

	// Inside the lease window the command is invisible.
	clock.Advance(10 * time.Second)

	polled, err = c.NextCommand(ctx, orgID, "dev-1", "agent-2")
	require.NoError(t, err)
	assert.Nil(t, polled)

	// Past the lease expiry it is deliverable again.
	clock.Advance(21 * time.Second)

	polled, err = c.NextCommand(ctx, orgID, "dev-1", "agent-2")
	require.NoError(t, err)
	require.NotNil(t, polled)
	assert.Equal(t, cmd.ID, polled.ID)
}

func TestRotateOrgToken(t *testing.T) {
	c, store, _ := setupCore(t, testConfig())
	ctx := context.Background()
	orgID := defaultOrgID(t, store)

	token, err := c.RotateOrgToken(ctx, orgID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, "org-token", token)

	_, err = store.GetOrganizationByToken(ctx, "org-token")
	assert.ErrorIs(t, err, db.ErrOrgNotFound)

	org, err := store.GetOrganizationByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, orgID, org.ID)
}

func TestReassignDevice(t *testing.T) {
	c, store, _ := setupCore(t, testConfig())
	ctx := context.Background()
	orgID := defaultOrgID(t, store)

	require.NoError(t, store.UpsertDevice(ctx, &models.Device{
		DeviceID: "dev-1",
		OrgID:    "org-b",
		LastSeen: time.Now().UTC(),
	}, false))

	record, err := c.ReassignDevice(ctx, orgID, "dev-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "org-b", record.FromOrgID)
	assert.Equal(t, orgID, record.ToOrgID)

	device, err := store.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, orgID, device.OrgID)
}
