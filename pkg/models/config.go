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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wrenhq/fleetwatch/pkg/logger"
)

var (
	errInvalidDuration         = errors.New("invalid duration")
	errListenAddrRequired      = errors.New("listen_addr is required")
	errDatabaseConfigRequired  = errors.New("database configuration is required")
	errAuthConfigRequired      = errors.New("auth configuration is required")
	errServerURLRequired       = errors.New("server_url is required")
	errDeviceIDRequired        = errors.New("device_id is required")
	errAuthTokenRequired       = errors.New("auth_token is required")
	errJWTSecretRequired       = errors.New("jwt_secret is required")
	errUnknownDatabaseType     = errors.New("database type must be \"postgres\" or \"memory\"")
	errNonPositiveLeaseEnabled = errors.New("command_lease must not be negative")
)

// Duration wraps time.Duration so JSON configs can use either plain
// nanosecond numbers or strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

const (
	DatabaseTypePostgres = "postgres"
	DatabaseTypeMemory   = "memory"
)

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	// Type is "postgres" or "memory". The memory store is intended for
	// development and tests only.
	Type            string   `json:"type"`
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Database        string   `json:"database"`
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	SSLMode         string   `json:"ssl_mode"`
	ApplicationName string   `json:"application_name"`
	MaxConnections  int32    `json:"max_connections"`
	MinConnections  int32    `json:"min_connections"`
	MaxConnLifetime Duration `json:"max_conn_lifetime"`
}

// AuthConfig configures the org token and session token paths.
type AuthConfig struct {
	JWTSecret     string   `json:"jwt_secret"`
	JWTExpiration Duration `json:"jwt_expiration"`
	// DefaultOrgToken seeds the bootstrap organization's shared token when
	// the organizations table is empty.
	DefaultOrgToken string `json:"default_org_token"`
	// LocalUsers maps usernames to bcrypt password hashes. Users are seeded
	// into the default organization at bootstrap.
	LocalUsers map[string]string `json:"local_users"`
}

// CoreServiceConfig is the top-level config for the dispatch server.
type CoreServiceConfig struct {
	ListenAddr string          `json:"listen_addr"`
	Database   *DatabaseConfig `json:"database"`
	Auth       *AuthConfig     `json:"auth"`

	// LivenessWindow is how long after its last report a device is still
	// considered online. Defaults to 30s.
	LivenessWindow Duration `json:"liveness_window"`

	// CommandLease is how long a polled command stays invisible to other
	// pollers before it becomes deliverable again. Zero disables leasing and
	// restores peek-until-acked delivery.
	CommandLease Duration `json:"command_lease"`

	// MaxPendingPerDevice rejects enqueues once a device has this many
	// undelivered commands. Zero means unbounded.
	MaxPendingPerDevice int `json:"max_pending_per_device"`

	// CommandTTL expires commands that were never acknowledged. Zero
	// disables the sweeper.
	CommandTTL    Duration `json:"command_ttl"`
	SweepInterval Duration `json:"sweep_interval"`

	// AllowImplicitReassignment restores the legacy behavior where an ingest
	// under a different org token silently transfers device ownership.
	AllowImplicitReassignment bool `json:"allow_implicit_reassignment"`

	CORS    CORSConfig     `json:"cors"`
	Logging *logger.Config `json:"logging"`
}

const (
	DefaultLivenessWindow = 30 * time.Second
	DefaultSweepInterval  = time.Minute
)

func (c *CoreServiceConfig) Validate() error {
	if c.ListenAddr == "" {
		return errListenAddrRequired
	}

	if c.Database == nil {
		return errDatabaseConfigRequired
	}

	if c.Database.Type != DatabaseTypePostgres && c.Database.Type != DatabaseTypeMemory {
		return errUnknownDatabaseType
	}

	if c.Auth == nil {
		return errAuthConfigRequired
	}

	if c.Auth.JWTSecret == "" {
		return errJWTSecretRequired
	}

	if c.CommandLease < 0 {
		return errNonPositiveLeaseEnabled
	}

	if c.LivenessWindow == 0 {
		c.LivenessWindow = Duration(DefaultLivenessWindow)
	}

	if c.CommandTTL > 0 && c.SweepInterval == 0 {
		c.SweepInterval = Duration(DefaultSweepInterval)
	}

	return nil
}

// CORSConfig controls the Access-Control headers emitted by the API.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// AgentConfig is the top-level config for the reporting agent.
type AgentConfig struct {
	DeviceID  string `json:"device_id"`
	ServerURL string `json:"server_url"`
	AuthToken string `json:"auth_token"`

	// ReportInterval is the telemetry post cadence; PollInterval is the
	// command poll cadence. The two loops are scheduled independently.
	ReportInterval Duration `json:"report_interval"`
	PollInterval   Duration `json:"poll_interval"`
	RequestTimeout Duration `json:"request_timeout"`

	Logging *logger.Config `json:"logging"`
}

const (
	DefaultReportInterval = 10 * time.Second
	DefaultPollInterval   = 5 * time.Second
	DefaultRequestTimeout = 5 * time.Second
)

func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return errServerURLRequired
	}

	if c.DeviceID == "" {
		return errDeviceIDRequired
	}

	if c.AuthToken == "" {
		return errAuthTokenRequired
	}

	if c.ReportInterval == 0 {
		c.ReportInterval = Duration(DefaultReportInterval)
	}

	if c.PollInterval == 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}

	return nil
}
