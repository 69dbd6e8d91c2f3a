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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenhq/fleetwatch/pkg/logger"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

const pgUniqueViolation = "23505"

const (
	insertOrganizationSQL = `
INSERT INTO organizations (id, name, api_token, created_at, updated_at)
VALUES ($1, $2, $3, now(), now())`

	selectOrganizationByTokenSQL = `
SELECT id, name, api_token, created_at, updated_at
FROM organizations
WHERE api_token = $1`

	selectOrganizationByIDSQL = `
SELECT id, name, api_token, created_at, updated_at
FROM organizations
WHERE id = $1`

	countOrganizationsSQL = `SELECT count(*) FROM organizations`

	rotateOrgTokenSQL = `
UPDATE organizations
SET api_token = $2, updated_at = now()
WHERE id = $1`

	insertUserSQL = `
INSERT INTO users (id, username, password_hash, org_id, created_at)
VALUES ($1, $2, $3, $4, now())`

	selectUserByUsernameSQL = `
SELECT id, username, password_hash, org_id, created_at
FROM users
WHERE username = $1`
)

// Postgres implements Service on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewPostgres connects, runs migrations, and returns the store.
func NewPostgres(ctx context.Context, cfg *models.DatabaseConfig, log logger.Logger) (*Postgres, error) {
	pool, err := NewPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, pool, log); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := p.pool.Exec(ctx, insertOrganizationSQL, org.ID, org.Name, org.APIToken)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenInUse
		}

		return fmt.Errorf("create organization: %w", err)
	}

	return nil
}

func (p *Postgres) GetOrganizationByToken(ctx context.Context, token string) (*models.Organization, error) {
	return p.scanOrganization(p.pool.QueryRow(ctx, selectOrganizationByTokenSQL, token))
}

func (p *Postgres) GetOrganizationByID(ctx context.Context, id string) (*models.Organization, error) {
	return p.scanOrganization(p.pool.QueryRow(ctx, selectOrganizationByIDSQL, id))
}

func (p *Postgres) CountOrganizations(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, countOrganizationsSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count organizations: %w", err)
	}

	return count, nil
}

// RotateOrgToken is a single UPDATE, so the old token stops resolving in the
// same instant the new one starts.
func (p *Postgres) RotateOrgToken(ctx context.Context, orgID, newToken string) error {
	tag, err := p.pool.Exec(ctx, rotateOrgTokenSQL, orgID, newToken)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenInUse
		}

		return fmt.Errorf("rotate org token: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrOrgNotFound
	}

	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	_, err := p.pool.Exec(ctx, insertUserSQL, user.ID, user.Username, user.PasswordHash, user.OrgID)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}

	err := p.pool.QueryRow(ctx, selectUserByUsernameSQL, username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.OrgID, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}

		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func (p *Postgres) scanOrganization(row pgx.Row) (*models.Organization, error) {
	org := &models.Organization{}

	err := row.Scan(&org.ID, &org.Name, &org.APIToken, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}

		return nil, fmt.Errorf("get organization: %w", err)
	}

	return org, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
