// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package collector

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// HeapStats is a point-in-time memory reading in bytes.
type HeapStats struct {
	Used  uint64
	Total uint64
}

// HeapSampler pulls the current memory usage from the host.
type HeapSampler interface {
	Sample() (HeapStats, error)
}

// RuntimeHeap samples the Go runtime heap: bytes of allocated heap
// objects against heap memory obtained from the OS.
type RuntimeHeap struct{}

func (RuntimeHeap) Sample() (HeapStats, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return HeapStats{Used: m.HeapAlloc, Total: m.HeapSys}, nil
}

// ProcessMemory samples the resident set size of a process against the
// total memory of the machine.
type ProcessMemory struct {
	pid int32
}

// NewProcessMemory returns a sampler for the current process.
func NewProcessMemory() *ProcessMemory {
	return &ProcessMemory{pid: int32(os.Getpid())} //nolint:gosec
}

func (p *ProcessMemory) Sample() (HeapStats, error) {
	proc, err := process.NewProcess(p.pid)
	if err != nil {
		return HeapStats{}, fmt.Errorf("failed to open process %d: %w", p.pid, err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return HeapStats{}, fmt.Errorf("failed to read process memory: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return HeapStats{}, fmt.Errorf("failed to read system memory: %w", err)
	}
	return HeapStats{Used: info.RSS, Total: vm.Total}, nil
}
