package sysinfo

import (
	"runtime"
	"testing"
)

func TestDetect(t *testing.T) {
	p := Detect()
	if p.OS != runtime.GOOS {
		t.Fatalf("os = %q", p.OS)
	}
	if p.LogicalCPUs < 1 {
		t.Fatalf("cpus = %d", p.LogicalCPUs)
	}
	if p.MemoryGB < 0 {
		t.Fatalf("memory = %d", p.MemoryGB)
	}
}

func TestCapabilities_OverridesOnlyShrink(t *testing.T) {
	p := Platform{OS: "linux", Arch: "amd64", LogicalCPUs: 8, MemoryGB: 16}

	t.Setenv("WORKER_CPUS", "4")
	t.Setenv("WORKER_MEMORY_GB", "8")
	caps := p.Capabilities()
	if caps.CPUCores != 4 || caps.MemoryGB != 8 {
		t.Fatalf("caps = %+v", caps)
	}

	// Larger than detected is ignored.
	t.Setenv("WORKER_CPUS", "64")
	t.Setenv("WORKER_MEMORY_GB", "256")
	caps = p.Capabilities()
	if caps.CPUCores != 8 || caps.MemoryGB != 16 {
		t.Fatalf("oversized override applied: %+v", caps)
	}

	// Garbage falls back to detected.
	t.Setenv("WORKER_CPUS", "lots")
	caps = p.Capabilities()
	if caps.CPUCores != 8 {
		t.Fatalf("caps = %+v", caps)
	}
}

func TestCapabilities_UnknownMemory(t *testing.T) {
	p := Platform{OS: "linux", LogicalCPUs: 2}
	t.Setenv("WORKER_MEMORY_GB", "4")
	caps := p.Capabilities()
	if caps.MemoryGB != 4 {
		t.Fatalf("override should fill unknown memory, got %+v", caps)
	}
}
