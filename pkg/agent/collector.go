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
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wrenhq/fleetwatch/pkg/models"
)

// SystemCollector reads host metrics through gopsutil.
type SystemCollector struct {
	rootPath string
}

func NewSystemCollector() *SystemCollector {
	return &SystemCollector{rootPath: "/"}
}

// Collect gathers cpu, memory, disk, and uptime for the current host. A
// partially failed read still produces a snapshot; absent values stay zero
// and the error reports what was skipped.
func (c *SystemCollector) Collect(ctx context.Context) (*models.IngestRequest, error) {
	snapshot := &models.IngestRequest{}

	var firstErr error

	if hostname, err := os.Hostname(); err == nil {
		snapshot.Hostname = hostname
	} else if firstErr == nil {
		firstErr = fmt.Errorf("hostname: %w", err)
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snapshot.CPU = percents[0]
	} else if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("cpu: %w", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snapshot.RAM = vm.UsedPercent
	} else if firstErr == nil {
		firstErr = fmt.Errorf("memory: %w", err)
	}

	if usage, err := disk.UsageWithContext(ctx, c.rootPath); err == nil {
		snapshot.Disk = usage.UsedPercent
	} else if firstErr == nil {
		firstErr = fmt.Errorf("disk: %w", err)
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		snapshot.UptimeSec = int64(uptime)
	} else if firstErr == nil {
		firstErr = fmt.Errorf("uptime: %w", err)
	}

	return snapshot, firstErr
}
