package diagnostics

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// PanicReport describes a panic in the observed job.
type PanicReport struct {
	Timestamp  time.Time
	ProcessID  int
	GoVersion  string
	GOOS       string
	GOARCH     string
	PanicValue string
	StackTrace string
	Resources  *Rollup
}

// NewPanicReport captures the current goroutine's stack for value. It must be
// called from the deferred function that recovered the panic.
func NewPanicReport(value any) *PanicReport {
	return &PanicReport{
		Timestamp:  time.Now(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		PanicValue: fmt.Sprintf("%v", value),
		StackTrace: string(debug.Stack()),
	}
}

// WithResources attaches the latest rollup, if any.
func (p *PanicReport) WithResources(rollups []Rollup) *PanicReport {
	if len(rollups) > 0 {
		r := rollups[len(rollups)-1]
		p.Resources = &r
	}
	return p
}

// WriteTo writes the report as plain text.
func (p *PanicReport) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString(reportRuler + "\n")
	fmt.Fprintf(&b, "PANIC at %s: %s\n", p.Timestamp.Format("2006-01-02 15:04:05"), p.PanicValue)
	fmt.Fprintf(&b, "pid %d, %s %s/%s\n", p.ProcessID, p.GoVersion, p.GOOS, p.GOARCH)
	if p.Resources != nil {
		fmt.Fprintf(&b, "last rollup: cpu %s%%, mem %s%%\n", pct(p.Resources.CPUAvg), pct(p.Resources.MemAvg))
	}
	if p.StackTrace != "" {
		b.WriteString(strings.TrimRight(p.StackTrace, "\n"))
		b.WriteString("\n")
	}
	b.WriteString(reportRuler + "\n")
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
