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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/wrenhq/fleetwatch/pkg/agent"
	"github.com/wrenhq/fleetwatch/pkg/config"
	"github.com/wrenhq/fleetwatch/pkg/lifecycle"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fleetwatch/agent.json", "Path to agent config file")
	flag.Parse()

	ctx := context.Background()

	var cfg models.AgentConfig
	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := lifecycle.CreateComponentLogger("agent", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a := agent.New(&cfg, nil, nil, nil, logger)

	return lifecycle.Run(ctx, logger, a)
}
