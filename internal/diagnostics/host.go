package diagnostics

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// GPUInfo holds GPU information (best-effort).
type GPUInfo struct {
	Name       string
	MemTotalMB float64
	MemValid   bool
}

// HostInfo describes the machine a job ran on.
type HostInfo struct {
	Hostname   string
	Platform   string
	CPUModel   string
	CPUCores   int
	CPUThreads int
	MemTotalMB float64
	GPUs       []GPUInfo
}

// Hostname returns the machine name, or "unknown-host".
func Hostname() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	return "unknown-host"
}

// CollectHostInfo gathers host details. Every probe is optional; missing
// values are left zero.
func CollectHostInfo(ctx context.Context) HostInfo {
	info := HostInfo{Hostname: Hostname()}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Platform = strings.TrimSpace(fmt.Sprintf("%s %s (%s/%s)",
			h.Platform, h.PlatformVersion, h.OS, h.KernelArch))
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		info.CPUModel = strings.TrimSpace(infos[0].ModelName)
	}
	if cores, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.CPUCores = cores
	}
	if threads, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUThreads = threads
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemTotalMB = float64(vm.Total) / 1024 / 1024
	}
	info.GPUs = queryGPUInfo(ctx)
	return info
}

// Lines renders the host details as "key: value" lines for a message body.
func (h HostInfo) Lines() []string {
	var lines []string
	if h.Platform != "" {
		lines = append(lines, "platform: "+h.Platform)
	}
	if h.CPUModel != "" {
		lines = append(lines, fmt.Sprintf("cpu: %s (%d cores, %d threads)", h.CPUModel, h.CPUCores, h.CPUThreads))
	}
	if h.MemTotalMB > 0 {
		lines = append(lines, fmt.Sprintf("memory: %.0f MB", h.MemTotalMB))
	}
	for _, g := range h.GPUs {
		if g.MemValid {
			lines = append(lines, fmt.Sprintf("gpu: %s (%.0f MB)", g.Name, g.MemTotalMB))
		} else {
			lines = append(lines, "gpu: "+g.Name)
		}
	}
	return lines
}

func queryGPUInfo(ctx context.Context) []GPUInfo {
	if gpus := queryNvidiaSMI(ctx); len(gpus) > 0 {
		return gpus
	}
	return queryGhwGPU()
}

func queryNvidiaSMI(ctx context.Context) []GPUInfo {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil
	}
	return parseNvidiaCSV(string(out))
}

func parseNvidiaCSV(out string) []GPUInfo {
	var gpus []GPUInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 2 || strings.TrimSpace(fields[0]) == "" {
			continue
		}
		total, ok := parseFloatField(fields[1])
		gpus = append(gpus, GPUInfo{
			Name:       strings.TrimSpace(fields[0]),
			MemTotalMB: total,
			MemValid:   ok,
		})
	}
	return gpus
}

func queryGhwGPU() []GPUInfo {
	info, err := ghw.GPU()
	if err != nil || info == nil || len(info.GraphicsCards) == 0 {
		return nil
	}

	gpus := make([]GPUInfo, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		name := ""
		if card.DeviceInfo != nil {
			if card.DeviceInfo.Vendor != nil && card.DeviceInfo.Product != nil {
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name + " " + card.DeviceInfo.Product.Name)
			} else if card.DeviceInfo.Product != nil {
				name = strings.TrimSpace(card.DeviceInfo.Product.Name)
			}
		}
		if name == "" {
			name = fmt.Sprintf("GPU %d", card.Index)
		}
		gpus = append(gpus, GPUInfo{Name: name})
	}
	return gpus
}

func parseFloatField(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
