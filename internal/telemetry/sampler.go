package telemetry

import (
	"github.com/shirou/gopsutil/v3/mem"

	"simdeck/internal/core"
)

// Sampler fills in memory statistics when the engine omits them from a
// telemetry snapshot. Engine-reported values always win.
type Sampler struct{}

// NewSampler creates a memory sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Enrich returns the snapshot with memory fields populated from the local
// host when missing. Sampling failures leave the snapshot untouched.
func (s *Sampler) Enrich(snap core.TelemetrySnapshot) core.TelemetrySnapshot {
	if snap.MemoryMB > 0 && snap.MemoryPressure != "" {
		return snap
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return snap
	}

	if snap.MemoryMB == 0 {
		snap.MemoryMB = float64(vm.Used) / (1 << 20)
	}
	if snap.MemoryPressure == "" {
		snap.MemoryPressure = classifyPressure(vm.UsedPercent)
	}
	return snap
}

func classifyPressure(usedPercent float64) core.MemoryPressure {
	switch {
	case usedPercent < 60:
		return core.MemoryPressureLow
	case usedPercent < 75:
		return core.MemoryPressureModerate
	case usedPercent < 90:
		return core.MemoryPressureHigh
	default:
		return core.MemoryPressureCritical
	}
}
