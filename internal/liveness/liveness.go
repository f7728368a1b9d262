// Package liveness detects when the observed job has finished and hands off
// to the finalize pipeline exactly once.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/lsqqqq/notifyemail/internal/core"
)

// Probe reports whether the observed unit of work is still running.
type Probe interface {
	Alive(ctx context.Context) (bool, error)
}

// Signaler is implemented by probes that can wake the detector as soon as
// the job ends instead of waiting for the next poll.
type Signaler interface {
	Signal() <-chan struct{}
}

// DoneProbe observes a completion channel closed by the job wrapper.
type DoneProbe struct {
	done <-chan struct{}
}

// NewDoneProbe returns a probe that reports dead once done is closed.
func NewDoneProbe(done <-chan struct{}) *DoneProbe {
	return &DoneProbe{done: done}
}

// Alive reports whether done is still open.
func (p *DoneProbe) Alive(context.Context) (bool, error) {
	select {
	case <-p.done:
		return false, nil
	default:
		return true, nil
	}
}

// Signal returns the completion channel.
func (p *DoneProbe) Signal() <-chan struct{} {
	return p.done
}

// PIDProbe observes an external process by PID. A zombie counts as dead.
type PIDProbe struct {
	pid int32
}

// NewPIDProbe verifies pid exists. A PID that cannot be found is a liveness
// error: there is nothing to observe, so nothing should be sent.
func NewPIDProbe(ctx context.Context, pid int) (*PIDProbe, error) {
	if pid <= 0 {
		return nil, core.ErrLiveness(core.CodeNoProcess, fmt.Sprintf("invalid pid %d", pid))
	}
	p := &PIDProbe{pid: int32(pid)}
	alive, err := p.Alive(ctx)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, core.ErrLiveness(core.CodeNoProcess, fmt.Sprintf("no running process with pid %d", pid))
	}
	return p, nil
}

// PID returns the observed process id.
func (p *PIDProbe) PID() int { return int(p.pid) }

// Alive checks the process table.
func (p *PIDProbe) Alive(ctx context.Context) (bool, error) {
	exists, err := process.PidExistsWithContext(ctx, p.pid)
	if err != nil {
		return false, core.ErrLiveness(core.CodeProbeFailed,
			fmt.Sprintf("checking pid %d", p.pid)).WithCause(err)
	}
	if !exists {
		return false, nil
	}
	proc, err := process.NewProcessWithContext(ctx, p.pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return false, nil
		}
		return true, nil
	}
	if status, err := proc.StatusWithContext(ctx); err == nil && slices.Contains(status, process.Zombie) {
		return false, nil
	}
	return true, nil
}

// Stopper is the part of the resource monitor the detector drives.
type Stopper interface {
	Stop()
}

// TerminateFunc runs the finalize pipeline.
type TerminateFunc func(ctx context.Context)

// Detector polls a Probe at the sampling cadence. On the first observation
// that the job is gone it stops the monitor, waits for it, then runs the
// terminate handler. The handoff happens at most once.
type Detector struct {
	probe       Probe
	interval    time.Duration
	monitor     Stopper
	onTerminate TerminateFunc
	logger      *slog.Logger

	once   sync.Once
	exited chan struct{}
}

// NewDetector creates a detector. monitor may be nil.
func NewDetector(probe Probe, interval time.Duration, monitor Stopper, onTerminate TerminateFunc, logger *slog.Logger) *Detector {
	if interval <= 0 {
		interval = core.DefaultSampleInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{
		probe:       probe,
		interval:    interval,
		monitor:     monitor,
		onTerminate: onTerminate,
		logger:      logger,
		exited:      make(chan struct{}),
	}
}

// Run blocks until the job ends and the handoff completes, the probe fails,
// or ctx is cancelled. A probe failure stops the monitor but does not run
// the terminate handler.
func (d *Detector) Run(ctx context.Context) error {
	defer close(d.exited)

	var signal <-chan struct{}
	if s, ok := d.probe.(Signaler); ok {
		signal = s.Signal()
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		alive, err := d.probe.Alive(ctx)
		if err != nil {
			d.logger.Error("liveness probe failed, not sending", "error", err)
			if d.monitor != nil {
				d.monitor.Stop()
			}
			if !core.IsLiveness(err) {
				err = core.ErrLiveness(core.CodeProbeFailed, "liveness probe failed").WithCause(err)
			}
			return err
		}
		if !alive {
			d.logger.Debug("observed job finished")
			d.Trigger(ctx)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
			signal = nil
		case <-ticker.C:
		}
	}
}

// Trigger performs the handoff if it has not happened yet and reports whether
// this call performed it.
func (d *Detector) Trigger(ctx context.Context) bool {
	fired := false
	d.once.Do(func() {
		fired = true
		if d.monitor != nil {
			d.monitor.Stop()
		}
		if d.onTerminate != nil {
			d.onTerminate(ctx)
		}
	})
	return fired
}

// Exited is closed when Run returns.
func (d *Detector) Exited() <-chan struct{} {
	return d.exited
}
