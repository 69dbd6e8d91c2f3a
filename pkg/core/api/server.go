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

// Package api exposes the dispatch service over HTTP. Routing is gorilla/mux
// with an auth middleware on every route except /auth/login and /health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wrenhq/fleetwatch/pkg/core"
	"github.com/wrenhq/fleetwatch/pkg/core/auth"
	srHTTP "github.com/wrenhq/fleetwatch/pkg/http"
	"github.com/wrenhq/fleetwatch/pkg/logger"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// APIServer handles HTTP requests for the dispatch service.
type APIServer struct {
	core       *core.Core
	auth       *auth.Auth
	config     *models.CoreServiceConfig
	router     *mux.Router
	httpServer *http.Server
	logger     logger.Logger
}

func NewAPIServer(config *models.CoreServiceConfig, c *core.Core, a *auth.Auth, log logger.Logger) *APIServer {
	s := &APIServer{
		core:   c,
		auth:   a,
		config: config,
		router: mux.NewRouter(),
		logger: log,
	}

	s.setupRoutes()

	return s
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/auth/login", s.postLogin).Methods(http.MethodPost)

	protected := s.router.PathPrefix("/").Subrouter()
	protected.Use(s.authMiddleware)

	protected.HandleFunc("/ingest", s.postIngest).Methods(http.MethodPost)
	protected.HandleFunc("/devices", s.getDevices).Methods(http.MethodGet)
	protected.HandleFunc("/devices/{device_id}/commands", s.postCommand).Methods(http.MethodPost)
	protected.HandleFunc("/devices/{device_id}/commands/next", s.getNextCommand).Methods(http.MethodGet)
	protected.HandleFunc("/devices/{device_id}/commands/{command_id}/ack", s.postAck).Methods(http.MethodPost)
	protected.HandleFunc("/devices/{device_id}/reassign", s.postReassign).Methods(http.MethodPost)
	protected.HandleFunc("/auth/rotate-token", s.postRotateToken).Methods(http.MethodPost)
}

// Router returns the handler with the common middleware applied; exposed so
// tests can drive the full stack through httptest.
func (s *APIServer) Router() http.Handler {
	return srHTTP.CommonMiddleware(s.router, s.config.CORS, s.logger)
}

// Start begins serving and blocks until the listener fails or Stop is
// called. It satisfies lifecycle.Service.
func (s *APIServer) Start(context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("starting HTTP API server")

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *APIServer) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}
