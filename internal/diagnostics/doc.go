// Package diagnostics samples host resource usage while an observed job runs
// and writes the periodic rollups to the session's resource report.
//
// The package implements three pieces:
//
//   - ResourceMonitor: a background loop that takes one blocking CPU/memory
//     sample per interval, folds samples into rollups at the report interval,
//     and writes a cumulative footer when stopped.
//
//   - HostInfo: a best-effort description of the machine (host name, platform,
//     CPU model, memory, GPUs) included in the notification body.
//
//   - PanicReport: a plain-text post-mortem written into the captured output
//     when the observed job panics, so the report that gets mailed explains it.
package diagnostics
