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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wrenhq/fleetwatch/pkg/db"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

const maxRequestBody = 1 << 20 // 1 MiB

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, &models.ErrorResponse{
		Message: message,
		Status:  status,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}

	return body, true
}

// storeError maps persistence failures onto the shared HTTP vocabulary.
// Cross-tenant lookups surface as 404, never 403, so callers cannot learn
// what exists outside their organization.
func (s *APIServer) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrCommandNotFound), errors.Is(err, db.ErrDeviceNotFound),
		errors.Is(err, db.ErrOrgNotFound):
		writeError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, db.ErrDeviceOwned):
		writeError(w, "Device registered to another organization", http.StatusConflict)
	case errors.Is(err, db.ErrQueueFull):
		writeError(w, "Command queue full for device", http.StatusConflict)
	case errors.Is(err, db.ErrTokenInUse):
		writeError(w, "Token rotation conflict", http.StatusConflict)
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (*APIServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &models.HealthResponse{OK: true})
}

func (s *APIServer) postLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}

	token, err := s.auth.LoginLocal(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token.AccessToken,
		Path:     "/",
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, token)
}

func (s *APIServer) postIngest(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var req models.IngestRequest

	raw, ok := decodeBody(w, r, &req)
	if !ok {
		return
	}

	if req.DeviceID == "" {
		writeError(w, "device_id is required", http.StatusBadRequest)
		return
	}

	ts, err := s.core.IngestTelemetry(r.Context(), principal.OrgID, &req, raw)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &models.IngestResponse{OK: true, TSUTC: ts})
}

func (s *APIServer) getDevices(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if principal.UserID == "" {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	devices, err := s.core.ListDevices(r.Context(), principal.OrgID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

func (s *APIServer) postCommand(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	deviceID := mux.Vars(r)["device_id"]

	var req models.EnqueueCommandRequest
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}

	if req.Command == "" {
		writeError(w, "command is required", http.StatusBadRequest)
		return
	}

	cmd, err := s.core.EnqueueCommand(r.Context(), principal.OrgID, deviceID, req.Command, req.Args)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &models.EnqueueCommandResponse{
		OK:        true,
		ID:        cmd.ID,
		CreatedAt: cmd.CreatedAt,
	})
}

func (s *APIServer) getNextCommand(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	deviceID := mux.Vars(r)["device_id"]

	cmd, err := s.core.NextCommand(r.Context(), principal.OrgID, deviceID, r.RemoteAddr)
	if err != nil {
		s.storeError(w, err)
		return
	}

	// An empty queue is a normal poll result: the body is a JSON null.
	writeJSON(w, http.StatusOK, cmd)
}

func (s *APIServer) postAck(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	vars := mux.Vars(r)

	commandID, err := strconv.ParseInt(vars["command_id"], 10, 64)
	if err != nil {
		writeError(w, "Invalid command id", http.StatusBadRequest)
		return
	}

	var req models.AckCommandRequest
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}

	cmd, err := s.core.AckCommand(r.Context(), principal.OrgID, vars["device_id"], commandID, req.Success, req.Message)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &models.AckCommandResponse{OK: true, AckedAt: *cmd.AckedAt})
}

func (s *APIServer) postReassign(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if principal.UserID == "" {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID := mux.Vars(r)["device_id"]

	record, err := s.core.ReassignDevice(r.Context(), principal.OrgID, deviceID, principal.Username)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &models.ReassignDeviceResponse{
		OK:       true,
		DeviceID: record.DeviceID,
		OrgID:    record.ToOrgID,
	})
}

func (s *APIServer) postRotateToken(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	if principal.UserID == "" {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := s.core.RotateOrgToken(r.Context(), principal.OrgID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &models.RotateTokenResponse{OK: true, APIToken: token})
}
