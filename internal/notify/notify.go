// Package notify wires the observer together: it creates the session, starts
// output capture and resource monitoring, watches for the job to finish, and
// runs the package, send and archive pipeline exactly once.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/lsqqqq/notifyemail/internal/capture"
	"github.com/lsqqqq/notifyemail/internal/config"
	"github.com/lsqqqq/notifyemail/internal/core"
	"github.com/lsqqqq/notifyemail/internal/diagnostics"
	"github.com/lsqqqq/notifyemail/internal/dispatch"
	"github.com/lsqqqq/notifyemail/internal/liveness"
	"github.com/lsqqqq/notifyemail/internal/logging"
	"github.com/lsqqqq/notifyemail/internal/packager"
	"github.com/lsqqqq/notifyemail/internal/retention"
	"github.com/lsqqqq/notifyemail/internal/session"
)

// Options customize a Notifier. Zero values use the real host, SMTP and a
// completion channel closed by Go, Run or Done.
type Options struct {
	Job string
	// Recipients overrides every other recipient source at send time.
	Recipients []string
	Stdout     io.Writer
	Stderr     io.Writer
	// RedirectStd swaps os.Stdout and os.Stderr into the capture.
	RedirectStd bool

	Sampler diagnostics.Sampler
	Sender  dispatch.Sender
	// Probe replaces the completion channel, e.g. to watch an external PID.
	Probe liveness.Probe
	Host  func(ctx context.Context) diagnostics.HostInfo
	Now   func() time.Time
}

// Outcome is the result of the finalize pipeline.
type Outcome struct {
	Notification *dispatch.Notification
	Packaging    *packager.Result
	Archived     string
	Removed      []string
	Err          error
}

// Notifier observes one job run.
type Notifier struct {
	cfg      *config.Config
	opts     Options
	sess     *session.Session
	capture  *capture.Capture
	logger   *logging.Logger
	monitor  *diagnostics.ResourceMonitor
	detector *liveness.Detector
	packager *packager.Packager
	keeper   *retention.Manager
	sender   dispatch.Sender
	started  time.Time

	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	jobErr  error
	outcome *Outcome

	exited  chan struct{}
	liveErr error
}

// Start validates cfg, creates the session and starts capture, monitoring
// and liveness detection. Configuration problems fail here, before anything
// runs in the background.
func Start(ctx context.Context, cfg *config.Config, opts Options) (*Notifier, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if opts.Job == "" {
		opts.Job = core.DefaultJobName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Host == nil {
		opts.Host = diagnostics.CollectHostInfo
	}

	sess, err := session.Create(cfg.Session.Root, opts.Job, opts.Now())
	if err != nil {
		return nil, err
	}

	capt, err := capture.Begin(sess.CapturePath(), opts.Stdout, opts.Stderr)
	if err != nil {
		return nil, core.ErrConfiguration(core.CodeRootUnavailable, "cannot start output capture").WithCause(err)
	}
	if opts.RedirectStd {
		if err := capt.RedirectStd(); err != nil {
			_ = capt.Close()
			return nil, fmt.Errorf("redirecting standard streams: %w", err)
		}
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: capt.Stderr(),
	})
	logger.Sanitizer().AddSecret(cfg.Mail.Password)
	logger = logger.WithJob(opts.Job).With("run_id", sess.RunID)

	sender := opts.Sender
	if sender == nil {
		sender = dispatch.NewSMTPSender(cfg.Mail, logger.Logger)
	}

	n := &Notifier{
		cfg:      cfg,
		opts:     opts,
		sess:     sess,
		capture:  capt,
		logger:   logger,
		packager: packager.New(cfg.Packaging.Concurrency, logger.Logger),
		keeper:   retention.New(cfg.Session.MaxRetained, logger.Logger),
		sender:   sender,
		started:  sess.Created,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}

	probe := opts.Probe
	if probe == nil {
		probe = liveness.NewDoneProbe(n.done)
	}

	n.monitor = diagnostics.NewResourceMonitor(sess.ReportPath(), opts.Sampler,
		cfg.Monitor.SampleInterval, cfg.Monitor.ReportInterval, logger.Logger)
	if err := n.monitor.Start(ctx); err != nil {
		_ = capt.Close()
		return nil, fmt.Errorf("starting resource monitor: %w", err)
	}

	n.detector = liveness.NewDetector(probe, cfg.Monitor.SampleInterval, n.monitor, n.finalize, logger.Logger)
	go n.watch(ctx)

	logger.Info("observing job", "session", sess.Dir)
	return n, nil
}

func (n *Notifier) watch(ctx context.Context) {
	defer close(n.exited)
	err := n.detector.Run(ctx)
	if err == nil {
		return
	}
	n.logger.Error("observer stopped without sending", "error", err)
	n.mu.Lock()
	n.liveErr = err
	n.mu.Unlock()
	n.monitor.Stop()
	_ = n.capture.Close()
}

// Session returns the session handle.
func (n *Notifier) Session() *session.Session { return n.sess }

// Logger returns the logger writing into the capture.
func (n *Notifier) Logger() *logging.Logger { return n.logger }

// Stdout returns a writer teed into the capture and the original stdout.
func (n *Notifier) Stdout() io.Writer { return n.capture.Stdout() }

// Stderr returns a writer teed into the capture and the original stderr.
func (n *Notifier) Stderr() io.Writer { return n.capture.Stderr() }

// AddText appends a line to the notification body.
func (n *Notifier) AddText(text string) error {
	if err := n.sess.AppendNote(text); err != nil {
		return err
	}
	n.logger.Debug("note added")
	return nil
}

// AddFile records a file or folder to compress and attach.
func (n *Notifier) AddFile(path string) error {
	if err := n.sess.AppendFile(path); err != nil {
		return err
	}
	n.logger.Debug("attachment recorded", "path", path)
	return nil
}

// SendTo overrides the recipients recorded for this session. The last call wins.
func (n *Notifier) SendTo(addrs ...string) error {
	return n.sess.SetRecipients(addrs...)
}

// Done marks the job finished with err. Only the first call counts.
func (n *Notifier) Done(err error) {
	n.doneOnce.Do(func() {
		n.mu.Lock()
		n.jobErr = err
		n.mu.Unlock()
		close(n.done)
	})
}

// Go runs fn in a new goroutine and marks the job done when it returns or panics.
func (n *Notifier) Go(ctx context.Context, fn func(ctx context.Context) error) {
	go func() {
		_ = n.call(ctx, fn)
	}()
}

// Run runs fn on the calling goroutine, marks the job done, and waits for the
// notification pipeline. It returns fn's error, or the pipeline's if fn succeeded.
func (n *Notifier) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	jobErr := n.call(ctx, fn)
	out, err := n.Wait()
	if jobErr != nil {
		return jobErr
	}
	if err != nil {
		return err
	}
	return out.Err
}

func (n *Notifier) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report := diagnostics.NewPanicReport(r).WithResources(n.monitor.Rollups())
			_, _ = report.WriteTo(n.capture.Stderr())
			err = fmt.Errorf("job panicked: %v", r)
		}
		n.Done(err)
	}()
	return fn(ctx)
}

// Finalize triggers the pipeline now instead of waiting for the probe. It is
// safe to call any number of times; the notification is sent at most once.
func (n *Notifier) Finalize(ctx context.Context) *Outcome {
	n.detector.Trigger(ctx)
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.outcome
}

// Wait blocks until the observer exits and returns the pipeline outcome. The
// error is non-nil when the pipeline never ran, e.g. a liveness failure.
func (n *Notifier) Wait() (*Outcome, error) {
	<-n.exited
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.outcome == nil {
		if n.liveErr != nil {
			return nil, n.liveErr
		}
		return nil, errors.New("observer exited before the job finished")
	}
	return n.outcome, nil
}

func (n *Notifier) jobStatus() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-n.done:
	default:
		if n.opts.Probe != nil {
			return "exited"
		}
		return "unknown"
	}
	if n.jobErr != nil {
		return "failed: " + n.jobErr.Error()
	}
	return "ok"
}

// finalize runs once, after the monitor has stopped.
func (n *Notifier) finalize(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	end := n.opts.Now()
	host := n.opts.Host(ctx)

	out := n.Stdout()
	fmt.Fprintf(out, "\n%s\nProcessing finished !\nstart time: %s\nend time: %s\nsource: %s\n",
		strings.Repeat("=", 60),
		strftime.Format("%Y_%m_%d  %H:%M:%S", n.started),
		strftime.Format("%Y_%m_%d  %H:%M:%S", end),
		host.Hostname)

	metadata := append([]string{
		"run id: " + n.sess.RunID,
		"exit status: " + n.jobStatus(),
	}, host.Lines()...)

	outcome := deliver(ctx, delivery{
		sess:     n.sess,
		logger:   n.logger,
		packager: n.packager,
		keeper:   n.keeper,
		sender:   n.sender,
		capture:  n.capture,
		input: dispatch.Input{
			Session:    n.sess,
			From:       n.cfg.Mail.User,
			Host:       host.Hostname,
			Start:      n.started,
			End:        end,
			Metadata:   metadata,
			Recipients: n.opts.Recipients,
			Defaults:   n.cfg.Mail.DefaultRecipients(),
		},
	})

	n.mu.Lock()
	n.outcome = outcome
	n.mu.Unlock()
}

// delivery is the shared tail of finalize and Resend. A nil keeper sends
// without archiving.
type delivery struct {
	sess     *session.Session
	logger   *logging.Logger
	packager *packager.Packager
	keeper   *retention.Manager
	sender   dispatch.Sender
	capture  io.Closer
	input    dispatch.Input
}

func deliver(ctx context.Context, d delivery) *Outcome {
	outcome := &Outcome{}
	log := d.logger

	contents, err := d.sess.ReadAll()
	if err != nil {
		outcome.Err = err
		log.Error("reading session failed", "error", err)
		closeCapture(d.capture, log)
		return outcome
	}

	res, err := d.packager.Package(ctx, contents.Manifest, d.sess.StagingPath())
	if err != nil {
		log.Error("packaging failed", "error", err)
		res = &packager.Result{Failed: []packager.Failure{{Path: d.sess.StagingPath(), Err: err}}}
	}
	outcome.Packaging = res
	d.input.Explains = append(d.input.Explains, res.Notes()...)

	// Everything after this point reads the capture log, so it must be closed.
	closeCapture(d.capture, log)

	notification, warn, err := dispatch.Build(d.input)
	if warn != nil {
		log.Warn("notes decoded with fallback encoding", "error", warn)
	}
	if err != nil {
		return failed(outcome, d.sess, log, "building notification failed", err)
	}
	outcome.Notification = notification

	if err := d.sender.Send(ctx, notification); err != nil {
		return failed(outcome, d.sess, log, "failed to send the mail", err)
	}
	log.Info("log email sent", "subject", notification.Subject, "recipients", strings.Join(notification.Recipients, ";"))
	record(d.sess, log, "log email sent to "+strings.Join(notification.Recipients, ";"))

	if d.keeper == nil {
		return outcome
	}
	removed, err := d.keeper.Enforce(d.sess.HistoryPath(), 1)
	outcome.Removed = removed
	if err != nil {
		return failed(outcome, d.sess, log, "retention failed, session not archived", err)
	}
	archived, err := d.sess.Archive()
	if err != nil {
		return failed(outcome, d.sess, log, "archiving session failed", err)
	}
	outcome.Archived = archived
	log.Info("session archived", "dir", archived)
	record(d.sess, log, "session archived to "+archived)
	return outcome
}

func closeCapture(c io.Closer, log *logging.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn("closing capture failed", "error", err)
	}
}

// failed logs err and appends it to the captured log, which stays in the
// session directory for a later resend.
func failed(outcome *Outcome, sess *session.Session, log *logging.Logger, msg string, err error) *Outcome {
	outcome.Err = err
	log.Error(msg, "error", err, "session", sess.Dir)
	record(sess, log, msg+": "+err.Error())
	return outcome
}

// record appends a timestamped line to the session's capture log after the
// capture itself has been closed.
func record(sess *session.Session, log *logging.Logger, line string) {
	f, err := os.OpenFile(sess.CapturePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn("cannot record outcome in capture log", "error", err)
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintf(f, "%s %s\n", time.Now().Format("2006-01-02 15:04:05"), log.Sanitize(line))
}
