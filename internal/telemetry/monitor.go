/*
PURPOSE:
  Best-effort host telemetry sampled around each measured run:
  CPU utilisation, RAM utilisation, CPU temperature and GPU utilisation.

REQUIREMENTS:
  User-specified:
  - Telemetry decorates samples; its absence never fails a run.

  Implementation-discovered:
  - gopsutil covers CPU/RAM/sensors portably.
  - GPU utilisation has no portable source; shell out to nvidia-smi
    when present and silently skip otherwise (Jetson boxes expose it
    through tegrastats, desktop boxes through nvidia-smi).

ARCHITECTURE INTEGRATION:
  - Implements: internal/engine.TelemetrySampler
  - Called by: internal/engine/runner.go

ERROR HANDLING:
  - Every probe degrades independently; a snapshot with only CPU/RAM
    populated is still a snapshot.

IMPLEMENTATION RULES:
  - Bound the nvidia-smi call with a short context timeout.
  - cpu.Percent with zero interval compares against the previous call,
    which is exactly the "utilisation since the last run" we want.

USAGE:
  s := telemetry.NewSampler()
  snap, err := s.Snapshot(ctx)

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/runner.go

MAINTENANCE:
  - Add tegrastats parsing if Jetson sweeps need GPU numbers.
*/

package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/mcabrer/ollama-sweep/internal/model"
)

// Sampler takes point-in-time host snapshots.
type Sampler struct {
	gpuProbe func(ctx context.Context) (float64, error)
}

// NewSampler returns a sampler using gopsutil plus nvidia-smi (if present).
func NewSampler() *Sampler {
	return &Sampler{gpuProbe: nvidiaSMIUtilisation}
}

// Snapshot captures one telemetry snapshot. CPU and RAM are required for
// a usable snapshot; GPU and temperature are filled in opportunistically.
func (s *Sampler) Snapshot(ctx context.Context) (*model.TelemetrySnapshot, error) {
	snap := &model.TelemetrySnapshot{}

	cpuPcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(cpuPcts) == 0 {
		return nil, fmt.Errorf("cpu probe failed: %w", err)
	}
	snap.CPUPercent = cpuPcts[0]

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory probe failed: %w", err)
	}
	snap.RAMPercent = vm.UsedPercent

	if temps, err := sensors.TemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			key := strings.ToLower(t.SensorKey)
			if strings.Contains(key, "cpu") || strings.Contains(key, "core") || strings.Contains(key, "thermal") {
				snap.CPUTempC = t.Temperature
				break
			}
		}
	}

	if s.gpuProbe != nil {
		if gpu, err := s.gpuProbe(ctx); err == nil {
			snap.GPUPercent = gpu
		}
	}

	return snap, nil
}

// nvidiaSMIUtilisation asks nvidia-smi for current GPU utilisation.
func nvidiaSMIUtilisation(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, err
	}

	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	return strconv.ParseFloat(line, 64)
}
