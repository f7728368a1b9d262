package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// MonitorState is the lifecycle position of a ResourceMonitor.
type MonitorState int32

const (
	StateIdle MonitorState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s MonitorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("MonitorState(%d)", int32(s))
	}
}

// ResourceMonitor samples host resources in the background and appends
// rollups to a report file.
type ResourceMonitor struct {
	reportPath     string
	sampler        Sampler
	sampleInterval time.Duration
	reportInterval time.Duration
	logger         *slog.Logger
	now            func() time.Time

	rollups []Rollup
	summary *Summary
	mu      sync.RWMutex

	// Control
	state   atomic.Int32
	stopCh  chan struct{}
	stopped atomic.Bool
	done    chan struct{}
}

// NewResourceMonitor creates a monitor writing to reportPath. Non-positive
// intervals fall back to 5s sampling and 300s rollups.
func NewResourceMonitor(
	reportPath string,
	sampler Sampler,
	sampleInterval time.Duration,
	reportInterval time.Duration,
	logger *slog.Logger,
) *ResourceMonitor {
	if sampleInterval <= 0 {
		sampleInterval = 5 * time.Second
	}
	if reportInterval <= 0 {
		reportInterval = 300 * time.Second
	}
	if sampler == nil {
		sampler = NewHostSampler()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &ResourceMonitor{
		reportPath:     reportPath,
		sampler:        sampler,
		sampleInterval: sampleInterval,
		reportInterval: reportInterval,
		logger:         logger,
		now:            time.Now,
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start writes the report header and launches the sampling loop.
// A monitor can be started at most once.
func (m *ResourceMonitor) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("resource monitor is %s", m.State())
	}

	f, err := os.OpenFile(m.reportPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		err = writeHeader(f, m.now(), m.sampleInterval, m.reportInterval)
		if err != nil {
			_ = f.Close()
		}
	}
	if err != nil {
		m.state.Store(int32(StateStopped))
		close(m.done)
		return fmt.Errorf("opening resource report: %w", err)
	}

	m.logger.Debug("resource monitor started",
		"sample_interval", m.sampleInterval,
		"report_interval", m.reportInterval,
	)
	go m.run(ctx, f)
	return nil
}

// Stop signals the loop and waits for it to write the final rollup and
// footer. Calling Stop again, or before Start, is a no-op apart from waiting.
func (m *ResourceMonitor) Stop() {
	if m.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		m.stopped.Store(true)
		close(m.done)
		return
	}
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stopCh)
		m.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	}
	<-m.done
}

// Done is closed once the loop has exited.
func (m *ResourceMonitor) Done() <-chan struct{} {
	return m.done
}

// State returns the current lifecycle state.
func (m *ResourceMonitor) State() MonitorState {
	return MonitorState(m.state.Load())
}

// Rollups returns the rollups written so far.
func (m *ResourceMonitor) Rollups() []Rollup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Rollup, len(m.rollups))
	copy(result, m.rollups)
	return result
}

// Summary returns the footer values once the monitor has stopped.
func (m *ResourceMonitor) Summary() (Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.summary == nil {
		return Summary{}, false
	}
	return *m.summary, true
}

func (m *ResourceMonitor) run(ctx context.Context, f *os.File) {
	defer close(m.done)
	defer func() { _ = f.Close() }()

	windowStart := m.now()
	var window []ResourceSample
	var elapsed time.Duration

	for {
		sample, err := m.sampler.Sample(ctx, m.sampleInterval)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			m.logger.Warn("resource sample failed", "error", err)
			if !m.pause(ctx) {
				break
			}
			continue
		}
		window = append(window, sample)
		elapsed += m.sampleInterval

		if m.stopRequested() || ctx.Err() != nil {
			break
		}
		if elapsed >= m.reportInterval {
			m.flush(f, window, windowStart)
			window = nil
			elapsed = 0
			windowStart = m.now()
		}
	}

	m.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	m.flush(f, window, windowStart)

	summary := Summarize(m.Rollups())
	if err := writeFooter(f, m.now(), summary); err != nil {
		m.logger.Warn("writing resource footer failed", "error", err)
	}
	if err := f.Sync(); err != nil {
		m.logger.Warn("syncing resource report failed", "error", err)
	}

	m.mu.Lock()
	m.summary = &summary
	m.mu.Unlock()
	m.state.Store(int32(StateStopped))
	m.logger.Debug("resource monitor stopped", "rollups", summary.Rollups)
}

func (m *ResourceMonitor) flush(f *os.File, window []ResourceSample, start time.Time) {
	r, ok := Aggregate(window, start)
	if !ok {
		return
	}
	m.mu.Lock()
	m.rollups = append(m.rollups, r)
	m.mu.Unlock()
	if err := writeRollup(f, r); err != nil {
		m.logger.Warn("writing resource rollup failed", "error", err)
	}
}

func (m *ResourceMonitor) stopRequested() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// pause waits one sampling interval after a failed sample. It returns false
// when the monitor should exit instead.
func (m *ResourceMonitor) pause(ctx context.Context) bool {
	timer := time.NewTimer(m.sampleInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
