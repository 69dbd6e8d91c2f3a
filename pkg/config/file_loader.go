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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileConfigLoader loads configuration from a local JSON file.
type FileConfigLoader struct{}

// Load implements ConfigLoader by reading and unmarshaling a JSON file.
func (*FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	err = json.Unmarshal(data, dst)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}

// EnvConfigLoader loads a complete JSON config from the CONFIG_JSON
// environment variable, for deployments that inject config without a file.
type EnvConfigLoader struct{}

// Load implements ConfigLoader by unmarshaling CONFIG_JSON.
func (*EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	if err := json.Unmarshal([]byte(os.Getenv("CONFIG_JSON")), dst); err != nil {
		return fmt.Errorf("failed to unmarshal CONFIG_JSON: %w", err)
	}

	return nil
}
