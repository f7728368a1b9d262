package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/lsqqqq/notifyemail/internal/diagnostics"
	"github.com/lsqqqq/notifyemail/internal/dispatch"
)

// FakeSampler returns a fixed sample after blocking for the sampling window,
// like a real CPU measurement.
type FakeSampler struct {
	CPU []float64
	Mem float64

	mu    sync.Mutex
	calls int
}

// NewFakeSampler creates a sampler reporting the given per-core CPU and memory.
func NewFakeSampler(mem float64, cpu ...float64) *FakeSampler {
	return &FakeSampler{CPU: cpu, Mem: mem}
}

// Sample blocks for window or until ctx is done.
func (f *FakeSampler) Sample(ctx context.Context, window time.Duration) (diagnostics.ResourceSample, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return diagnostics.ResourceSample{}, ctx.Err()
	case <-timer.C:
	}
	return diagnostics.ResourceSample{
		Timestamp:  time.Now(),
		CPUPerCore: append([]float64(nil), f.CPU...),
		MemPercent: f.Mem,
	}, nil
}

// Calls returns how many samples were requested.
func (f *FakeSampler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// SendCall records a call to RecordingSender.Send.
type SendCall struct {
	Notification *dispatch.Notification
	// Attachments holds the content of every attachment at send time.
	Attachments map[string][]byte
	Timestamp   time.Time
}

// RecordingSender implements dispatch.Sender for testing.
type RecordingSender struct {
	sendFunc func(context.Context, *dispatch.Notification) error
	calls    []SendCall
	mu       sync.Mutex
}

// NewRecordingSender creates a sender that accepts every notification.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{}
}

// WithSendFunc sets a custom send function.
func (r *RecordingSender) WithSendFunc(fn func(context.Context, *dispatch.Notification) error) *RecordingSender {
	r.sendFunc = fn
	return r
}

// WithError makes every send fail with err.
func (r *RecordingSender) WithError(err error) *RecordingSender {
	return r.WithSendFunc(func(context.Context, *dispatch.Notification) error { return err })
}

// Send records the notification and the attachment contents.
func (r *RecordingSender) Send(ctx context.Context, n *dispatch.Notification) error {
	call := SendCall{Notification: n, Attachments: map[string][]byte{}, Timestamp: time.Now()}
	for _, a := range n.Attachments {
		call.Attachments[a.Name] = readOrNil(a.Path)
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	fn := r.sendFunc
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, n)
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (r *RecordingSender) Calls() []SendCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SendCall(nil), r.calls...)
}

// CallCount returns the number of sends.
func (r *RecordingSender) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
