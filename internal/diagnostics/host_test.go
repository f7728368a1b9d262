package diagnostics

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNvidiaCSV(t *testing.T) {
	gpus := parseNvidiaCSV("NVIDIA A100-SXM4-40GB, 40960\nTesla T4, [N/A]\n\n")
	require.Len(t, gpus, 2)
	assert.Equal(t, GPUInfo{Name: "NVIDIA A100-SXM4-40GB", MemTotalMB: 40960, MemValid: true}, gpus[0])
	assert.Equal(t, "Tesla T4", gpus[1].Name)
	assert.False(t, gpus[1].MemValid)
}

func TestHostInfo_Lines(t *testing.T) {
	h := HostInfo{
		Hostname:   "box",
		Platform:   "ubuntu 22.04 (linux/x86_64)",
		CPUModel:   "Xeon",
		CPUCores:   8,
		CPUThreads: 16,
		MemTotalMB: 32768,
		GPUs:       []GPUInfo{{Name: "A100", MemTotalMB: 40960, MemValid: true}, {Name: "GPU 1"}},
	}
	assert.Equal(t, []string{
		"platform: ubuntu 22.04 (linux/x86_64)",
		"cpu: Xeon (8 cores, 16 threads)",
		"memory: 32768 MB",
		"gpu: A100 (40960 MB)",
		"gpu: GPU 1",
	}, h.Lines())
	assert.Empty(t, HostInfo{}.Lines())
}

func TestHostname(t *testing.T) {
	assert.NotEmpty(t, Hostname())
}

func TestCollectHostInfo(t *testing.T) {
	info := CollectHostInfo(t.Context())
	assert.NotEmpty(t, info.Hostname)
}

func TestPanicReport(t *testing.T) {
	var report *PanicReport
	func() {
		defer func() {
			if r := recover(); r != nil {
				report = NewPanicReport(r).WithResources([]Rollup{{CPUAvg: 12.346, MemAvg: 50}})
			}
		}()
		panic(errors.New("boom"))
	}()
	require.NotNil(t, report)

	var buf bytes.Buffer
	n, err := report.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	out := buf.String()
	assert.Contains(t, out, "PANIC at ")
	assert.Contains(t, out, ": boom\n")
	assert.Contains(t, out, "last rollup: cpu 12.35%, mem 50%")
	assert.Contains(t, out, "goroutine")
}

func TestPanicReport_NoRollups(t *testing.T) {
	r := NewPanicReport("x").WithResources(nil)
	assert.Nil(t, r.Resources)
}
