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

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wrenhq/fleetwatch/pkg/models"
)

// Client talks to the core dispatch API with the organization's shared
// token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("X-Auth-Token", c.token)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// Ingest reports one telemetry snapshot.
func (c *Client) Ingest(ctx context.Context, payload *models.IngestRequest) (*models.IngestResponse, error) {
	var resp models.IngestResponse

	if err := c.do(ctx, http.MethodPost, "/ingest", payload, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// NextCommand polls for the oldest deliverable command. A nil command with
// a nil error means the queue is empty.
func (c *Client) NextCommand(ctx context.Context, deviceID string) (*models.Command, error) {
	var cmd *models.Command

	path := fmt.Sprintf("/devices/%s/commands/next", url.PathEscape(deviceID))

	if err := c.do(ctx, http.MethodGet, path, nil, &cmd); err != nil {
		return nil, err
	}

	return cmd, nil
}

// AckCommand reports the result of an executed command.
func (c *Client) AckCommand(ctx context.Context, deviceID string, commandID int64, success bool, message string) error {
	path := fmt.Sprintf("/devices/%s/commands/%s/ack",
		url.PathEscape(deviceID), strconv.FormatInt(commandID, 10))

	req := &models.AckCommandRequest{Success: success, Message: message}

	return c.do(ctx, http.MethodPost, path, req, nil)
}
