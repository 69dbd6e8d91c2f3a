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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wrenhq/fleetwatch/pkg/models"
)

const (
	selectDeviceOrgForUpdateSQL = `
SELECT org_id FROM devices WHERE device_id = $1 FOR UPDATE`

	insertDeviceSQL = `
INSERT INTO devices (device_id, org_id, hostname, last_seen, last_payload)
VALUES ($1, $2, $3, $4, $5)`

	replaceDeviceSQL = `
UPDATE devices
SET org_id = $2, hostname = $3, last_seen = $4, last_payload = $5
WHERE device_id = $1`

	selectDeviceSQL = `
SELECT device_id, org_id, hostname, last_seen, last_payload
FROM devices
WHERE device_id = $1`

	selectDevicesByOrgSQL = `
SELECT device_id, org_id, hostname, last_seen, last_payload
FROM devices
WHERE org_id = $1
ORDER BY device_id`

	updateDeviceOrgSQL = `
UPDATE devices SET org_id = $2 WHERE device_id = $1`

	insertReassignmentSQL = `
INSERT INTO device_reassignments (id, device_id, from_org_id, to_org_id, actor, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING created_at`
)

// UpsertDevice fully replaces the device row inside one transaction. The row
// lock on the existing device serializes concurrent ingests for the same
// identifier.
func (p *Postgres) UpsertDevice(ctx context.Context, device *models.Device, allowReassign bool) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upsert device: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var currentOrg string

	err = tx.QueryRow(ctx, selectDeviceOrgForUpdateSQL, device.DeviceID).Scan(&currentOrg)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, insertDeviceSQL,
			device.DeviceID, device.OrgID, device.Hostname, device.LastSeen, device.LastPayload)
	case err != nil:
		return fmt.Errorf("upsert device: lock row: %w", err)
	case currentOrg != device.OrgID && !allowReassign:
		return ErrDeviceOwned
	default:
		_, err = tx.Exec(ctx, replaceDeviceSQL,
			device.DeviceID, device.OrgID, device.Hostname, device.LastSeen, device.LastPayload)
	}

	if err != nil {
		return fmt.Errorf("upsert device: write: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	device := &models.Device{}

	err := p.pool.QueryRow(ctx, selectDeviceSQL, deviceID).
		Scan(&device.DeviceID, &device.OrgID, &device.Hostname, &device.LastSeen, &device.LastPayload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}

		return nil, fmt.Errorf("get device: %w", err)
	}

	return device, nil
}

// ListDevices is a single SELECT, which gives the caller one consistent
// point-in-time snapshot even under concurrent ingests.
func (p *Postgres) ListDevices(ctx context.Context, orgID string) ([]*models.Device, error) {
	rows, err := p.pool.Query(ctx, selectDevicesByOrgSQL, orgID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device

	for rows.Next() {
		device := &models.Device{}

		if err := rows.Scan(&device.DeviceID, &device.OrgID, &device.Hostname,
			&device.LastSeen, &device.LastPayload); err != nil {
			return nil, fmt.Errorf("list devices: scan: %w", err)
		}

		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list devices: iterate: %w", err)
	}

	return devices, nil
}

func (p *Postgres) ReassignDevice(ctx context.Context, deviceID, toOrgID, actor string) (*models.DeviceReassignment, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reassign device: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fromOrg string

	err = tx.QueryRow(ctx, selectDeviceOrgForUpdateSQL, deviceID).Scan(&fromOrg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}

		return nil, fmt.Errorf("reassign device: lock row: %w", err)
	}

	if _, err := tx.Exec(ctx, updateDeviceOrgSQL, deviceID, toOrgID); err != nil {
		return nil, fmt.Errorf("reassign device: update: %w", err)
	}

	record := &models.DeviceReassignment{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		FromOrgID: fromOrg,
		ToOrgID:   toOrgID,
		Actor:     actor,
	}

	err = tx.QueryRow(ctx, insertReassignmentSQL,
		record.ID, record.DeviceID, record.FromOrgID, record.ToOrgID, record.Actor).
		Scan(&record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("reassign device: audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reassign device: commit: %w", err)
	}

	return record, nil
}
