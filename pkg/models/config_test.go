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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "string form", input: `"30s"`, want: 30 * time.Second},
		{name: "compound string", input: `"1h30m"`, want: 90 * time.Minute},
		{name: "nanoseconds number", input: `5000000000`, want: 5 * time.Second},
		{name: "bad string", input: `"soon"`, wantErr: true},
		{name: "bad type", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(d))
		})
	}
}

func TestDurationMarshal(t *testing.T) {
	out, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))
}

func TestCoreServiceConfigValidate(t *testing.T) {
	valid := func() *CoreServiceConfig {
		return &CoreServiceConfig{
			ListenAddr: ":8000",
			Database:   &DatabaseConfig{Type: DatabaseTypeMemory},
			Auth:       &AuthConfig{JWTSecret: "secret"},
		}
	}

	t.Run("fills defaults", func(t *testing.T) {
		cfg := valid()
		cfg.CommandTTL = Duration(time.Hour)

		require.NoError(t, cfg.Validate())
		assert.Equal(t, DefaultLivenessWindow, time.Duration(cfg.LivenessWindow))
		assert.Equal(t, DefaultSweepInterval, time.Duration(cfg.SweepInterval))
	})

	t.Run("missing listen addr", func(t *testing.T) {
		cfg := valid()
		cfg.ListenAddr = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing database", func(t *testing.T) {
		cfg := valid()
		cfg.Database = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := valid()
		cfg.Database.Type = "sqlite"
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing jwt secret", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.JWTSecret = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative lease", func(t *testing.T) {
		cfg := valid()
		cfg.CommandLease = Duration(-time.Second)
		assert.Error(t, cfg.Validate())
	})
}

func TestAgentConfigValidate(t *testing.T) {
	cfg := &AgentConfig{
		DeviceID:  "dev-1",
		ServerURL: "http://localhost:8000",
		AuthToken: "tok",
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultReportInterval, time.Duration(cfg.ReportInterval))
	assert.Equal(t, DefaultPollInterval, time.Duration(cfg.PollInterval))
	assert.Equal(t, DefaultRequestTimeout, time.Duration(cfg.RequestTimeout))

	missing := &AgentConfig{ServerURL: "http://localhost:8000", AuthToken: "tok"}
	assert.Error(t, missing.Validate())
}
