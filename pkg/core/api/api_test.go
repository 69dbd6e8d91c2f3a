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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wrenhq/fleetwatch/pkg/core"
	"github.com/wrenhq/fleetwatch/pkg/core/auth"
	"github.com/wrenhq/fleetwatch/pkg/db"
	"github.com/wrenhq/fleetwatch/pkg/lifecycle"
	"github.com/wrenhq/fleetwatch/pkg/logger"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

const (
	testOrgToken = "org-token"
	testPassword = "correct horse"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

type testEnv struct {
	server *httptest.Server
	store  *db.Memory
	clock  *fakeClock
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &models.CoreServiceConfig{
		ListenAddr: ":0",
		Database:   &models.DatabaseConfig{Type: models.DatabaseTypeMemory},
		Auth: &models.AuthConfig{
			JWTSecret:       "test-secret",
			DefaultOrgToken: testOrgToken,
			LocalUsers:      map[string]string{"alice": string(hash)},
		},
		LivenessWindow: models.Duration(30 * time.Second),
	}

	log, err := lifecycle.CreateLogger(&logger.Config{Level: "disabled"})
	require.NoError(t, err)

	store := db.NewMemory()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	coreService, err := core.New(context.Background(), cfg, store, clock, log)
	require.NoError(t, err)

	apiServer := NewAPIServer(cfg, coreService, auth.NewAuth(cfg.Auth, store), log)

	server := httptest.NewServer(apiServer.Router())
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: store, clock: clock}
}

type request struct {
	method   string
	path     string
	orgToken string
	bearer   string
	body     interface{}
}

func (e *testEnv) do(t *testing.T, r request) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if r.body != nil {
		encoded, err := json.Marshal(r.body)
		require.NoError(t, err)

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(r.method, e.server.URL+r.path, reader)
	require.NoError(t, err)

	if r.orgToken != "" {
		req.Header.Set("X-Auth-Token", r.orgToken)
	}

	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, body
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()

	resp, body := e.do(t, request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   &models.LoginRequest{Username: "alice", Password: testPassword},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var token models.Token
	require.NoError(t, json.Unmarshal(body, &token))

	return token.AccessToken
}

func (e *testEnv) ingest(t *testing.T, orgToken, deviceID string) {
	t.Helper()

	resp, _ := e.do(t, request{
		method:   http.MethodPost,
		path:     "/ingest",
		orgToken: orgToken,
		body:     &models.IngestRequest{DeviceID: deviceID, Hostname: "host-" + deviceID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthNoAuth(t *testing.T) {
	env := setupEnv(t)

	resp, body := env.do(t, request{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok": true}`, string(body))
}

func TestUniformUnauthorized(t *testing.T) {
	env := setupEnv(t)

	tests := []struct {
		name string
		req  request
	}{
		{"no credentials", request{method: http.MethodGet, path: "/devices"}},
		{"bad org token", request{method: http.MethodPost, path: "/ingest", orgToken: "nope", body: &models.IngestRequest{DeviceID: "d"}}},
		{"bad bearer", request{method: http.MethodGet, path: "/devices", bearer: "nope"}},
	}

	var bodies []string

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.req)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			bodies = append(bodies, string(body))
		})
	}

	// Every rejection carries the identical body; nothing leaks which
	// check failed.
	for _, body := range bodies {
		assert.JSONEq(t, bodies[0], body)
	}
}

func TestIngestAndListDevices(t *testing.T) {
	env := setupEnv(t)

	env.ingest(t, testOrgToken, "dev-1")

	// Listing requires a session, not the shared org token.
	resp, _ := env.do(t, request{method: http.MethodGet, path: "/devices", orgToken: testOrgToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	session := env.login(t)

	resp, body := env.do(t, request{method: http.MethodGet, path: "/devices", bearer: session})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []models.DeviceView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "dev-1", views[0].DeviceID)
	assert.Equal(t, "host-dev-1", views[0].Hostname)
	assert.True(t, views[0].Online)
}

func TestCommandLifecycle(t *testing.T) {
	env := setupEnv(t)
	session := env.login(t)

	// Enqueue ahead of the device's first report.
	resp, body := env.do(t, request{
		method: http.MethodPost,
		path:   "/devices/dev-1/commands",
		bearer: session,
		body:   &models.EnqueueCommandRequest{Command: "restart", Args: json.RawMessage(`{"force":true}`)},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var enqueued models.EnqueueCommandResponse
	require.NoError(t, json.Unmarshal(body, &enqueued))
	assert.True(t, enqueued.OK)
	assert.Positive(t, enqueued.ID)

	resp, body = env.do(t, request{
		method:   http.MethodGet,
		path:     "/devices/dev-1/commands/next",
		orgToken: testOrgToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cmd models.Command
	require.NoError(t, json.Unmarshal(body, &cmd))
	assert.Equal(t, enqueued.ID, cmd.ID)
	assert.Equal(t, "restart", cmd.Name)

	resp, body = env.do(t, request{
		method:   http.MethodPost,
		path:     fmt.Sprintf("/devices/dev-1/commands/%d/ack", cmd.ID),
		orgToken: testOrgToken,
		body:     &models.AckCommandRequest{Success: true, Message: "done"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var acked models.AckCommandResponse
	require.NoError(t, json.Unmarshal(body, &acked))
	assert.True(t, acked.OK)
	assert.False(t, acked.AckedAt.IsZero())

	// Queue drained: the poll body is a JSON null.
	resp, body = env.do(t, request{
		method:   http.MethodGet,
		path:     "/devices/dev-1/commands/next",
		orgToken: testOrgToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(bytes.TrimSpace(body)))
}

func TestAckUnknownCommand(t *testing.T) {
	env := setupEnv(t)

	resp, _ := env.do(t, request{
		method:   http.MethodPost,
		path:     "/devices/dev-1/commands/9999/ack",
		orgToken: testOrgToken,
		body:     &models.AckCommandRequest{Success: true},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, request{
		method:   http.MethodPost,
		path:     "/devices/dev-1/commands/not-a-number/ack",
		orgToken: testOrgToken,
		body:     &models.AckCommandRequest{Success: true},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCrossTenantCommandInvisible(t *testing.T) {
	env := setupEnv(t)
	session := env.login(t)

	require.NoError(t, env.store.CreateOrganization(context.Background(), &models.Organization{
		ID:       "org-b",
		Name:     "org-b",
		APIToken: "token-b",
	}))

	resp, body := env.do(t, request{
		method: http.MethodPost,
		path:   "/devices/dev-1/commands",
		bearer: session,
		body:   &models.EnqueueCommandRequest{Command: "restart"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var enqueued models.EnqueueCommandResponse
	require.NoError(t, json.Unmarshal(body, &enqueued))

	// The other org polls nothing and cannot ack: the command does not
	// exist from its point of view.
	resp, body = env.do(t, request{
		method:   http.MethodGet,
		path:     "/devices/dev-1/commands/next",
		orgToken: "token-b",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(bytes.TrimSpace(body)))

	resp, _ = env.do(t, request{
		method:   http.MethodPost,
		path:     fmt.Sprintf("/devices/dev-1/commands/%d/ack", enqueued.ID),
		orgToken: "token-b",
		body:     &models.AckCommandRequest{Success: true},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestConflictForOwnedDevice(t *testing.T) {
	env := setupEnv(t)

	require.NoError(t, env.store.CreateOrganization(context.Background(), &models.Organization{
		ID:       "org-b",
		Name:     "org-b",
		APIToken: "token-b",
	}))

	env.ingest(t, testOrgToken, "dev-1")

	resp, _ := env.do(t, request{
		method:   http.MethodPost,
		path:     "/ingest",
		orgToken: "token-b",
		body:     &models.IngestRequest{DeviceID: "dev-1"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRotateTokenInvalidatesOldToken(t *testing.T) {
	env := setupEnv(t)
	session := env.login(t)

	resp, body := env.do(t, request{
		method: http.MethodPost,
		path:   "/auth/rotate-token",
		bearer: session,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rotated models.RotateTokenResponse
	require.NoError(t, json.Unmarshal(body, &rotated))
	require.NotEmpty(t, rotated.APIToken)

	// The old shared token stops working immediately.
	resp, _ = env.do(t, request{
		method:   http.MethodPost,
		path:     "/ingest",
		orgToken: testOrgToken,
		body:     &models.IngestRequest{DeviceID: "dev-1"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.ingest(t, rotated.APIToken, "dev-1")
}

func TestReassignDevice(t *testing.T) {
	env := setupEnv(t)
	session := env.login(t)

	require.NoError(t, env.store.UpsertDevice(context.Background(), &models.Device{
		DeviceID: "dev-1",
		OrgID:    "org-b",
		LastSeen: time.Now().UTC(),
	}, false))

	// Org-token callers cannot reassign.
	resp, _ := env.do(t, request{
		method:   http.MethodPost,
		path:     "/devices/dev-1/reassign",
		orgToken: testOrgToken,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, request{
		method: http.MethodPost,
		path:   "/devices/dev-1/reassign",
		bearer: session,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reassigned models.ReassignDeviceResponse
	require.NoError(t, json.Unmarshal(body, &reassigned))
	assert.True(t, reassigned.OK)
	assert.Equal(t, "dev-1", reassigned.DeviceID)

	resp, _ = env.do(t, request{
		method: http.MethodPost,
		path:   "/devices/missing/reassign",
		bearer: session,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueueDepthLimit(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &models.CoreServiceConfig{
		ListenAddr: ":0",
		Database:   &models.DatabaseConfig{Type: models.DatabaseTypeMemory},
		Auth: &models.AuthConfig{
			JWTSecret:       "test-secret",
			DefaultOrgToken: testOrgToken,
			LocalUsers:      map[string]string{"alice": string(hash)},
		},
		LivenessWindow:      models.Duration(30 * time.Second),
		MaxPendingPerDevice: 2,
	}

	log, err := lifecycle.CreateLogger(&logger.Config{Level: "disabled"})
	require.NoError(t, err)

	store := db.NewMemory()

	coreService, err := core.New(context.Background(), cfg, store, &fakeClock{now: time.Now().UTC()}, log)
	require.NoError(t, err)

	apiServer := NewAPIServer(cfg, coreService, auth.NewAuth(cfg.Auth, store), log)
	server := httptest.NewServer(apiServer.Router())
	t.Cleanup(server.Close)

	env := &testEnv{server: server, store: store}

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, request{
			method:   http.MethodPost,
			path:     "/devices/dev-1/commands",
			orgToken: testOrgToken,
			body:     &models.EnqueueCommandRequest{Command: "restart"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ := env.do(t, request{
		method:   http.MethodPost,
		path:     "/devices/dev-1/commands",
		orgToken: testOrgToken,
		body:     &models.EnqueueCommandRequest{Command: "restart"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
