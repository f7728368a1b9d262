package diagnostics

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/ncruces/go-strftime"
)

const (
	reportTimeFormat = "%Y-%m-%d %H:%M:%S"
	reportRuler      = "============================================"
)

// ResourceSample is one blocking measurement covering a full sampling interval.
type ResourceSample struct {
	Timestamp  time.Time
	CPUPerCore []float64
	MemPercent float64
}

// CPUMean is the arithmetic mean across cores, or 0 for an empty vector.
func (s ResourceSample) CPUMean() float64 {
	if len(s.CPUPerCore) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.CPUPerCore {
		sum += v
	}
	return sum / float64(len(s.CPUPerCore))
}

// Rollup aggregates the samples of one report window.
type Rollup struct {
	Start   time.Time
	End     time.Time
	Samples int
	CPUAvg  float64
	CPUPeak float64
	MemAvg  float64
	MemPeak float64
}

// Summary is the footer over all rollups of a run.
type Summary struct {
	Rollups int
	CPUAvg  float64
	CPUPeak float64
	MemAvg  float64
	MemPeak float64
}

// Aggregate folds samples into a rollup. CPU average is the mean of per-sample
// means and CPU peak is the largest per-sample mean, not the largest single
// core. ok is false when there are no samples.
func Aggregate(samples []ResourceSample, start time.Time) (r Rollup, ok bool) {
	if len(samples) == 0 {
		return Rollup{}, false
	}
	r = Rollup{
		Start:   start,
		End:     samples[len(samples)-1].Timestamp,
		Samples: len(samples),
		CPUPeak: math.Inf(-1),
		MemPeak: math.Inf(-1),
	}
	var cpuSum, memSum float64
	for _, s := range samples {
		m := s.CPUMean()
		cpuSum += m
		memSum += s.MemPercent
		r.CPUPeak = math.Max(r.CPUPeak, m)
		r.MemPeak = math.Max(r.MemPeak, s.MemPercent)
	}
	n := float64(len(samples))
	r.CPUAvg = cpuSum / n
	r.MemAvg = memSum / n
	return r, true
}

// Summarize averages rollup averages and rollup peaks.
func Summarize(rollups []Rollup) Summary {
	s := Summary{Rollups: len(rollups)}
	if len(rollups) == 0 {
		return s
	}
	for _, r := range rollups {
		s.CPUAvg += r.CPUAvg
		s.CPUPeak += r.CPUPeak
		s.MemAvg += r.MemAvg
		s.MemPeak += r.MemPeak
	}
	n := float64(len(rollups))
	s.CPUAvg /= n
	s.CPUPeak /= n
	s.MemAvg /= n
	s.MemPeak /= n
	return s
}

// pct renders a percentage rounded to two decimals without trailing zeros.
func pct(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func writeHeader(w io.Writer, at time.Time, sample, report time.Duration) error {
	_, err := fmt.Fprintf(w, "%s\nMonitoring Start Time:   %s\nSample Interval (s):    %s  | Log Write Interval (s):   %s  \n%s\n",
		reportRuler, strftime.Format(reportTimeFormat, at), seconds(sample), seconds(report), reportRuler)
	return err
}

func writeRollup(w io.Writer, r Rollup) error {
	_, err := fmt.Fprintf(w, "Time: %-20s | CPU: %-6s | CPU Peak: %-6s | Mem: %-6s | Mem Peak: %-6s\n",
		strftime.Format(reportTimeFormat, r.End), pct(r.CPUAvg), pct(r.CPUPeak), pct(r.MemAvg), pct(r.MemPeak))
	return err
}

func writeFooter(w io.Writer, at time.Time, s Summary) error {
	_, err := fmt.Fprintf(w, "%s\nMonitoring End Time:     %s\nAverage CPU Usage:       %s  | Average Memory Usage:   %s\nMaximum CPU Usage:       %s  | Maximum Memory Usage:   %s\n",
		reportRuler, strftime.Format(reportTimeFormat, at), pct(s.CPUAvg), pct(s.MemAvg), pct(s.CPUPeak), pct(s.MemPeak))
	return err
}
