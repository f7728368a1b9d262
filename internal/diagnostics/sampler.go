package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler takes one resource sample. Implementations block for window while
// measuring CPU utilization so each sample covers a whole interval.
type Sampler interface {
	Sample(ctx context.Context, window time.Duration) (ResourceSample, error)
}

// HostSampler samples the local machine with gopsutil.
type HostSampler struct{}

// NewHostSampler returns a sampler for the local machine.
func NewHostSampler() *HostSampler {
	return &HostSampler{}
}

// Sample measures per-core CPU over window, then reads memory usage.
func (HostSampler) Sample(ctx context.Context, window time.Duration) (ResourceSample, error) {
	perCore, err := cpu.PercentWithContext(ctx, window, true)
	if err != nil {
		return ResourceSample{}, fmt.Errorf("sampling cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return ResourceSample{}, fmt.Errorf("sampling memory: %w", err)
	}
	return ResourceSample{
		Timestamp:  time.Now(),
		CPUPerCore: perCore,
		MemPercent: vm.UsedPercent,
	}, nil
}
