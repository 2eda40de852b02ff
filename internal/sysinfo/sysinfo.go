// Package sysinfo detects the capabilities a worker reports at
// registration.
package sysinfo

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/geoforge/chunkplane/internal/protocol"
)

// Platform is the detected host profile.
type Platform struct {
	OS          string
	Arch        string
	LogicalCPUs int
	MemoryGB    int
}

// Detect inspects the host. Memory detection is best effort; zero means
// unknown.
func Detect() Platform {
	return Platform{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		LogicalCPUs: runtime.NumCPU(),
		MemoryGB:    totalMemoryGB(),
	}
}

// Capabilities applies the WORKER_CPUS and WORKER_MEMORY_GB overrides and
// converts to the wire shape. Overrides only shrink the detected values:
// advertising more hardware than exists just causes oversized assignments.
func (p Platform) Capabilities() protocol.WorkerCapabilities {
	cpus := p.LogicalCPUs
	if v := envInt("WORKER_CPUS"); v > 0 && v < cpus {
		cpus = v
	}
	mem := p.MemoryGB
	if v := envInt("WORKER_MEMORY_GB"); v > 0 && (mem == 0 || v < mem) {
		mem = v
	}
	return protocol.WorkerCapabilities{
		OS:       p.OS,
		CPUCores: cpus,
		MemoryGB: mem,
	}
}

func envInt(k string) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func totalMemoryGB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return int(kb / (1024 * 1024))
	}
	return 0
}
