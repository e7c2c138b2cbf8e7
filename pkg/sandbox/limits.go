package sandbox

import "time"

// Limits is the resource limit table for one isolation profile (§4.1).
// Enforcement happens in the runtime (rlimits, context deadlines, capped
// writers), never as an advisory check inside the executed command.
type Limits struct {
	PerCommandWallTime time.Duration
	RequestBudget      time.Duration
	CPUQuotaVCPU       float64
	MemoryMB           int64
	MaxProcesses       int
	OutputCapBytes     int64
	ScratchDiskCapMB   int64
}

// Balanced is the resource limit table for the rootless-process profile.
var Balanced = Limits{
	PerCommandWallTime: 45 * time.Second,
	RequestBudget:      180 * time.Second,
	CPUQuotaVCPU:       2,
	MemoryMB:           1024,
	MaxProcesses:       256,
	OutputCapBytes:     10 * 1024 * 1024,
	ScratchDiskCapMB:   512,
}

// Strict is the resource limit table for the microVM profile.
var Strict = Limits{
	PerCommandWallTime: 60 * time.Second,
	RequestBudget:      240 * time.Second,
	CPUQuotaVCPU:       2,
	MemoryMB:           1536,
	MaxProcesses:       128,
	OutputCapBytes:     10 * 1024 * 1024,
	ScratchDiskCapMB:   512,
}

// ForMode returns the limit table for a mode. ModeFast maps to Balanced's
// limits — "fast" is a scheduling hint at the API layer, not a distinct
// isolation profile.
func ForMode(mode string) Limits {
	if mode == "strict" {
		return Strict
	}
	return Balanced
}
