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

// Package agent runs on managed devices. It reports telemetry and polls for
// commands on two independent timers; a failure in either loop is logged
// and the next tick proceeds normally.
package agent

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wrenhq/fleetwatch/pkg/logger"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

// Version is stamped into every telemetry payload.
const Version = "1.0.0"

// Agent reports telemetry and executes dispatched commands.
type Agent struct {
	config    *models.AgentConfig
	client    *Client
	collector Collector
	runner    Runner
	clock     Clock
	logger    logger.Logger

	mu       sync.Mutex
	lastErr  string
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an agent. A nil clock, collector, or runner falls back to the
// real implementations.
func New(config *models.AgentConfig, clock Clock, collector Collector, runner Runner, log logger.Logger) *Agent {
	if clock == nil {
		clock = realClock{}
	}

	if collector == nil {
		collector = NewSystemCollector()
	}

	if runner == nil {
		runner = NewLogRunner(log)
	}

	return &Agent{
		config:    config,
		client:    NewClient(config.ServerURL, config.AuthToken, time.Duration(config.RequestTimeout)),
		collector: collector,
		runner:    runner,
		clock:     clock,
		logger:    log,
		done:      make(chan struct{}),
	}
}

// Start runs the report and poll loops until the context is canceled or
// Stop is called. It satisfies lifecycle.Service.
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info().
		Str("device_id", a.config.DeviceID).
		Str("server_url", a.config.ServerURL).
		Dur("report_interval", time.Duration(a.config.ReportInterval)).
		Dur("poll_interval", time.Duration(a.config.PollInterval)).
		Str("version", Version).
		Msg("starting agent")

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return a.reportLoop(ctx) })
	group.Go(func() error { return a.pollLoop(ctx) })

	return group.Wait()
}

// Stop terminates both loops.
func (a *Agent) Stop(_ context.Context) error {
	a.stopOnce.Do(func() {
		close(a.done)
	})

	return nil
}

func (a *Agent) reportLoop(ctx context.Context) error {
	ticker := a.clock.Ticker(time.Duration(a.config.ReportInterval))
	defer ticker.Stop()

	a.report(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return nil
		case <-ticker.Chan():
			a.report(ctx)
		}
	}
}

func (a *Agent) pollLoop(ctx context.Context) error {
	ticker := a.clock.Ticker(time.Duration(a.config.PollInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return nil
		case <-ticker.Chan():
			a.pollOnce(ctx)
		}
	}
}

// report collects a snapshot and sends it. Collection failures degrade the
// payload rather than skipping the report; send failures are carried into
// the next payload's last_error.
func (a *Agent) report(ctx context.Context) {
	snapshot, err := a.collector.Collect(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("partial telemetry collection")
	}

	snapshot.DeviceID = a.config.DeviceID
	snapshot.AgentVersion = Version
	snapshot.Status = "ok"
	snapshot.LastError = a.takeLastError()

	if err != nil {
		snapshot.Status = "error"
		snapshot.LastError = err.Error()
	}

	if _, err := a.client.Ingest(ctx, snapshot); err != nil {
		a.logger.Error().Err(err).Msg("telemetry report failed")
		a.setLastError(err.Error())
	}
}

// pollOnce fetches at most one command and acks its result. An empty queue
// is not an error.
func (a *Agent) pollOnce(ctx context.Context) {
	cmd, err := a.client.NextCommand(ctx, a.config.DeviceID)
	if err != nil {
		a.logger.Error().Err(err).Msg("command poll failed")
		a.setLastError(err.Error())

		return
	}

	if cmd == nil {
		return
	}

	success, message := a.runner.Run(ctx, cmd)

	if err := a.client.AckCommand(ctx, a.config.DeviceID, cmd.ID, success, message); err != nil {
		a.logger.Error().Err(err).Int64("command_id", cmd.ID).Msg("command ack failed")
		a.setLastError(err.Error())

		return
	}

	a.logger.Info().Int64("command_id", cmd.ID).Bool("success", success).Msg("command acknowledged")
}

func (a *Agent) setLastError(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastErr = message
}

// takeLastError returns the previous cycle's failure and clears it, so each
// report carries the failure at most once.
func (a *Agent) takeLastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	lastErr := a.lastErr
	a.lastErr = ""

	return lastErr
}
