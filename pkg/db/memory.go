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

package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrenhq/fleetwatch/pkg/models"
)

// Memory implements Service with in-process maps. Every operation runs under
// one mutex hold, which gives the same per-call atomicity and snapshot
// consistency the Postgres store gets from transactions. Intended for tests
// and single-node development.
type Memory struct {
	mu sync.Mutex

	orgsByID    map[string]*models.Organization
	orgsByToken map[string]*models.Organization
	users       map[string]*models.User
	devices     map[string]*models.Device
	commands    map[int64]*models.Command

	reassignments []*models.DeviceReassignment

	nextCommandID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orgsByID:      make(map[string]*models.Organization),
		orgsByToken:   make(map[string]*models.Organization),
		users:         make(map[string]*models.User),
		devices:       make(map[string]*models.Device),
		commands:      make(map[int64]*models.Command),
		nextCommandID: 1,
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateOrganization(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orgsByToken[org.APIToken]; exists {
		return ErrTokenInUse
	}

	stored := *org
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	m.orgsByID[stored.ID] = &stored
	m.orgsByToken[stored.APIToken] = &stored

	return nil
}

func (m *Memory) GetOrganizationByToken(_ context.Context, token string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, exists := m.orgsByToken[token]
	if !exists {
		return nil, ErrOrgNotFound
	}

	copied := *org

	return &copied, nil
}

func (m *Memory) GetOrganizationByID(_ context.Context, id string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, exists := m.orgsByID[id]
	if !exists {
		return nil, ErrOrgNotFound
	}

	copied := *org

	return &copied, nil
}

func (m *Memory) CountOrganizations(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.orgsByID), nil
}

// RotateOrgToken swaps both indexes under one lock hold; there is no window
// where the old and new tokens both resolve.
func (m *Memory) RotateOrgToken(_ context.Context, orgID, newToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, exists := m.orgsByID[orgID]
	if !exists {
		return ErrOrgNotFound
	}

	if other, taken := m.orgsByToken[newToken]; taken && other.ID != orgID {
		return ErrTokenInUse
	}

	delete(m.orgsByToken, org.APIToken)
	org.APIToken = newToken
	org.UpdatedAt = time.Now().UTC()
	m.orgsByToken[newToken] = org

	return nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *user
	stored.CreatedAt = time.Now().UTC()
	m.users[stored.Username] = &stored

	return nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.users[username]
	if !exists {
		return nil, ErrUserNotFound
	}

	copied := *user

	return &copied, nil
}

func (m *Memory) UpsertDevice(_ context.Context, device *models.Device, allowReassign bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.devices[device.DeviceID]; exists {
		if existing.OrgID != device.OrgID && !allowReassign {
			return ErrDeviceOwned
		}
	}

	stored := *device
	m.devices[stored.DeviceID] = &stored

	return nil
}

func (m *Memory) GetDevice(_ context.Context, deviceID string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, exists := m.devices[deviceID]
	if !exists {
		return nil, ErrDeviceNotFound
	}

	copied := *device

	return &copied, nil
}

func (m *Memory) ListDevices(_ context.Context, orgID string) ([]*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []*models.Device

	for _, device := range m.devices {
		if device.OrgID != orgID {
			continue
		}

		copied := *device
		devices = append(devices, &copied)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID < devices[j].DeviceID
	})

	return devices, nil
}

func (m *Memory) ReassignDevice(_ context.Context, deviceID, toOrgID, actor string) (*models.DeviceReassignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, exists := m.devices[deviceID]
	if !exists {
		return nil, ErrDeviceNotFound
	}

	record := &models.DeviceReassignment{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		FromOrgID: device.OrgID,
		ToOrgID:   toOrgID,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}

	device.OrgID = toOrgID
	m.reassignments = append(m.reassignments, record)

	copied := *record

	return &copied, nil
}

func (m *Memory) EnqueueCommand(_ context.Context, cmd *models.Command, maxPending int) (*models.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxPending > 0 {
		undelivered := 0

		for _, existing := range m.commands {
			if existing.DeviceID == cmd.DeviceID && existing.OrgID == cmd.OrgID &&
				(existing.Status == models.CommandPending || existing.Status == models.CommandInProgress) {
				undelivered++
			}
		}

		if undelivered >= maxPending {
			return nil, ErrQueueFull
		}
	}

	stored := *cmd
	stored.ID = m.nextCommandID
	m.nextCommandID++
	stored.Status = models.CommandPending

	m.commands[stored.ID] = &stored

	copied := stored

	return &copied, nil
}

func (m *Memory) NextCommand(_ context.Context, deviceID, orgID, leaseOwner string, lease time.Duration, now time.Time) (*models.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *models.Command

	for _, cmd := range m.commands {
		if cmd.DeviceID != deviceID || cmd.OrgID != orgID {
			continue
		}

		if !deliverable(cmd, now) {
			continue
		}

		if next == nil || cmd.ID < next.ID {
			next = cmd
		}
	}

	if next == nil {
		return nil, nil
	}

	if lease > 0 {
		next.Status = models.CommandInProgress
		next.LeaseOwner = leaseOwner
		expiry := now.Add(lease)
		next.LeaseExpiresAt = &expiry
	}

	copied := *next

	return &copied, nil
}

func deliverable(cmd *models.Command, now time.Time) bool {
	switch cmd.Status {
	case models.CommandPending:
		return true
	case models.CommandInProgress:
		return cmd.LeaseExpiresAt != nil && !cmd.LeaseExpiresAt.After(now)
	default:
		return false
	}
}

func (m *Memory) AckCommand(_ context.Context, commandID int64, deviceID, orgID string, success bool, message string, now time.Time) (*models.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd, exists := m.commands[commandID]
	if !exists || cmd.DeviceID != deviceID || cmd.OrgID != orgID {
		return nil, ErrCommandNotFound
	}

	if cmd.Status == models.CommandExpired {
		return nil, ErrCommandNotFound
	}

	cmd.Status = models.CommandAcked
	ackedAt := now
	cmd.AckedAt = &ackedAt
	ok := success
	cmd.Success = &ok
	cmd.Message = message
	cmd.LeaseOwner = ""
	cmd.LeaseExpiresAt = nil

	copied := *cmd

	return &copied, nil
}

func (m *Memory) ExpireCommands(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired int64

	for _, cmd := range m.commands {
		if cmd.Status == models.CommandPending && cmd.CreatedAt.Before(cutoff) {
			cmd.Status = models.CommandExpired
			expired++
		}
	}

	return expired, nil
}
