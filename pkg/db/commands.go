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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wrenhq/fleetwatch/pkg/models"
)

const commandColumns = `
id, device_id, org_id, command, args, status, created_at, acked_at,
success, message, lease_owner, lease_expires_at`

const (
	// Serializes enqueues per (device, org) so the depth check and the
	// insert see the same queue.
	enqueueAdvisoryLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1 || '/' || $2, 0))`

	countUndeliveredSQL = `
SELECT count(*) FROM commands
WHERE device_id = $1 AND org_id = $2 AND status IN ('pending', 'in_progress')`

	insertCommandSQL = `
INSERT INTO commands (device_id, org_id, command, args, status, created_at)
VALUES ($1, $2, $3, $4, 'pending', $5)
RETURNING id, created_at`

	// The subquery picks the lowest-id deliverable command: pending rows and
	// in-progress rows whose lease has lapsed. SKIP LOCKED keeps concurrent
	// pollers from serializing on each other.
	leaseNextCommandSQL = `
UPDATE commands
SET status = 'in_progress', lease_owner = $3, lease_expires_at = $4
WHERE id = (
	SELECT id FROM commands
	WHERE device_id = $1 AND org_id = $2
	  AND (status = 'pending' OR (status = 'in_progress' AND lease_expires_at <= $5))
	ORDER BY id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + commandColumns

	peekNextCommandSQL = `
SELECT ` + commandColumns + `
FROM commands
WHERE device_id = $1 AND org_id = $2
  AND (status = 'pending' OR (status = 'in_progress' AND lease_expires_at <= $3))
ORDER BY id
LIMIT 1`

	ackCommandSQL = `
UPDATE commands
SET status = 'acked', acked_at = $4, success = $5, message = $6,
    lease_owner = NULL, lease_expires_at = NULL
WHERE id = $1 AND device_id = $2 AND org_id = $3
  AND status IN ('pending', 'in_progress', 'acked')
RETURNING ` + commandColumns

	expireCommandsSQL = `
UPDATE commands
SET status = 'expired'
WHERE status = 'pending' AND created_at < $1`
)

func (p *Postgres) EnqueueCommand(ctx context.Context, cmd *models.Command, maxPending int) (*models.Command, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("enqueue command: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if maxPending > 0 {
		if _, err := tx.Exec(ctx, enqueueAdvisoryLockSQL, cmd.DeviceID, cmd.OrgID); err != nil {
			return nil, fmt.Errorf("enqueue command: lock queue: %w", err)
		}

		var undelivered int
		if err := tx.QueryRow(ctx, countUndeliveredSQL, cmd.DeviceID, cmd.OrgID).Scan(&undelivered); err != nil {
			return nil, fmt.Errorf("enqueue command: count: %w", err)
		}

		if undelivered >= maxPending {
			return nil, ErrQueueFull
		}
	}

	err = tx.QueryRow(ctx, insertCommandSQL,
		cmd.DeviceID, cmd.OrgID, cmd.Name, cmd.Args, cmd.CreatedAt).
		Scan(&cmd.ID, &cmd.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue command: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("enqueue command: commit: %w", err)
	}

	cmd.Status = models.CommandPending

	return cmd, nil
}

func (p *Postgres) NextCommand(ctx context.Context, deviceID, orgID, leaseOwner string, lease time.Duration, now time.Time) (*models.Command, error) {
	var row pgx.Row

	if lease > 0 {
		row = p.pool.QueryRow(ctx, leaseNextCommandSQL, deviceID, orgID, leaseOwner, now.Add(lease), now)
	} else {
		row = p.pool.QueryRow(ctx, peekNextCommandSQL, deviceID, orgID, now)
	}

	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("next command: %w", err)
	}

	return cmd, nil
}

func (p *Postgres) AckCommand(ctx context.Context, commandID int64, deviceID, orgID string, success bool, message string, now time.Time) (*models.Command, error) {
	row := p.pool.QueryRow(ctx, ackCommandSQL, commandID, deviceID, orgID, now, success, message)

	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommandNotFound
		}

		return nil, fmt.Errorf("ack command: %w", err)
	}

	return cmd, nil
}

func (p *Postgres) ExpireCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, expireCommandsSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire commands: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanCommand(row pgx.Row) (*models.Command, error) {
	cmd := &models.Command{}

	var (
		message    *string
		leaseOwner *string
		status     string
	)

	err := row.Scan(&cmd.ID, &cmd.DeviceID, &cmd.OrgID, &cmd.Name, &cmd.Args,
		&status, &cmd.CreatedAt, &cmd.AckedAt, &cmd.Success, &message,
		&leaseOwner, &cmd.LeaseExpiresAt)
	if err != nil {
		return nil, err
	}

	cmd.Status = models.CommandStatus(status)
	if message != nil {
		cmd.Message = *message
	}

	if leaseOwner != nil {
		cmd.LeaseOwner = *leaseOwner
	}

	return cmd, nil
}
