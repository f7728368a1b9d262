package notify

import (
	"context"
	"os"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/lsqqqq/notifyemail/internal/config"
	"github.com/lsqqqq/notifyemail/internal/diagnostics"
	"github.com/lsqqqq/notifyemail/internal/dispatch"
	"github.com/lsqqqq/notifyemail/internal/logging"
	"github.com/lsqqqq/notifyemail/internal/packager"
	"github.com/lsqqqq/notifyemail/internal/retention"
	"github.com/lsqqqq/notifyemail/internal/session"
)

// ResendOptions customize Resend.
type ResendOptions struct {
	Recipients []string
	Sender     dispatch.Sender
	Logger     *logging.Logger
	Host       string
}

// Resend delivers a session left behind by a failed send. An active session
// is archived afterwards; one already in history is only sent again.
func Resend(ctx context.Context, cfg *config.Config, dir string, opts ResendOptions) (*Outcome, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	sess, err := session.Open(dir)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		logger.Sanitizer().AddSecret(cfg.Mail.Password)
	}
	logger = logger.WithJob(sess.Job).WithSession(sess.Dir)

	sender := opts.Sender
	if sender == nil {
		sender = dispatch.NewSMTPSender(cfg.Mail, logger.Logger)
	}
	host := opts.Host
	if host == "" {
		host = diagnostics.Hostname()
	}

	end := sess.Created
	if info, err := os.Stat(sess.CapturePath()); err == nil {
		end = info.ModTime()
	}

	d := delivery{
		sess:     sess,
		logger:   logger,
		packager: packager.New(cfg.Packaging.Concurrency, logger.Logger),
		keeper:   retention.New(cfg.Session.MaxRetained, logger.Logger),
		sender:   sender,
		input: dispatch.Input{
			Session:    sess,
			From:       cfg.Mail.User,
			Host:       host,
			Start:      sess.Created,
			End:        end,
			Metadata:   []string{"resent: " + strftime.Format("%Y_%m_%d  %H:%M:%S", time.Now())},
			Recipients: opts.Recipients,
			Defaults:   cfg.Mail.DefaultRecipients(),
		},
	}

	if sess.Archived() {
		d.keeper = nil
	}
	return deliver(ctx, d), nil
}
