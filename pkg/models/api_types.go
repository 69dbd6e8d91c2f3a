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
	"time"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	// Error message
	Message string `json:"message" example:"Invalid request parameters"`
	// HTTP status code
	Status int `json:"status" example:"400"`
}

// IngestRequest is the telemetry payload posted by the agent. Beyond the
// fields named here the payload is treated as opaque; the server stores the
// full body it received as the device's last payload.
type IngestRequest struct {
	DeviceID     string  `json:"device_id"`
	Hostname     string  `json:"hostname"`
	CPU          float64 `json:"cpu"`
	RAM          float64 `json:"ram"`
	Disk         float64 `json:"disk"`
	UptimeSec    int64   `json:"uptime_sec"`
	AgentVersion string  `json:"agent_version,omitempty"`
	Status       string  `json:"status,omitempty"`
	LastError    string  `json:"last_error,omitempty"`
}

// IngestResponse echoes the stored last-seen timestamp.
type IngestResponse struct {
	OK    bool      `json:"ok"`
	TSUTC time.Time `json:"ts_utc"`
}

// EnqueueCommandRequest queues a command for a device. Args is passed
// through to the agent untouched.
type EnqueueCommandRequest struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// EnqueueCommandResponse reports the assigned command id.
type EnqueueCommandResponse struct {
	OK        bool      `json:"ok"`
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// AckCommandRequest records the agent-side outcome of a command.
type AckCommandRequest struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// AckCommandResponse confirms the acknowledgment.
type AckCommandResponse struct {
	OK      bool      `json:"ok"`
	AckedAt time.Time `json:"acked_at"`
}

// LoginRequest authenticates a local operator.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RotateTokenResponse carries the organization's replacement API token. The
// prior token stops resolving the moment this call commits.
type RotateTokenResponse struct {
	OK       bool   `json:"ok"`
	APIToken string `json:"api_token"`
}

// ReassignDeviceResponse confirms an explicit ownership transfer.
type ReassignDeviceResponse struct {
	OK       bool   `json:"ok"`
	DeviceID string `json:"device_id"`
	OrgID    string `json:"org_id"`
}

// HealthResponse is the unauthenticated liveness probe body.
type HealthResponse struct {
	OK bool `json:"ok"`
}
