// Package core holds the error taxonomy and shared defaults of the notification pipeline.
package core

import "time"

// Defaults for the configurable surface.
const (
	DefaultSampleInterval = 5 * time.Second
	DefaultReportInterval = 300 * time.Second
	DefaultMaxRetained    = 5
	DefaultSMTPPort       = 465
	DefaultSendTimeout    = 5 * time.Minute
	DefaultConcurrency    = 4
	DefaultRoot           = "notify_log"
	DefaultJobName        = "default"
)

// RunTimeFormat is the strftime pattern for run folder names and labels.
const RunTimeFormat = "%Y_%m_%d-%H_%M_%S"
