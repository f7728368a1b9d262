package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/lsqqqq/notifyemail/internal/config"
	"github.com/lsqqqq/notifyemail/internal/core"
)

// SMTPSender submits notifications over implicit TLS with PLAIN auth.
type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSMTPSender creates a sender for the configured relay.
func NewSMTPSender(cfg config.MailConfig, logger *slog.Logger) *SMTPSender {
	port := cfg.Port
	if port <= 0 {
		port = core.DefaultSMTPPort
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = core.DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SMTPSender{
		host:     cfg.Host,
		port:     port,
		user:     cfg.User,
		password: cfg.Password,
		timeout:  timeout,
		logger:   logger,
	}
}

// Message converts a notification into a MIME message. From defaults to the
// relay account.
func (s *SMTPSender) Message(n *Notification) (*mail.Msg, error) {
	from := n.From
	if from == "" {
		from = s.user
	}
	return NewMessage(n, from)
}

// NewMessage converts a notification into a MIME message from the given sender.
func NewMessage(n *Notification, from string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, core.ErrConfiguration(core.CodeInvalidConfig,
			fmt.Sprintf("invalid sender %q", from)).WithCause(err)
	}
	if err := m.To(n.Recipients...); err != nil {
		return nil, core.ErrConfiguration(core.CodeNoRecipients, "invalid recipient list").WithCause(err)
	}
	m.Subject(n.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, n.Body)
	for _, a := range n.Attachments {
		m.AttachFile(a.Path, mail.WithFileName(a.Name))
	}
	return m, nil
}

// Send dials the relay, authenticates, submits to every recipient and
// disconnects. Failures are DeliveryErrors.
func (s *SMTPSender) Send(ctx context.Context, n *Notification) error {
	msg, err := s.Message(n)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.host,
		mail.WithPort(s.port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.user),
		mail.WithPassword(s.password),
		mail.WithTimeout(s.timeout),
	)
	if err != nil {
		return core.ErrDelivery(core.CodeRelayUnreachable,
			fmt.Sprintf("configuring client for %s", s.host)).WithCause(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Debug("connecting to relay", "host", s.host, "port", s.port)
	if err := client.DialWithContext(ctx); err != nil {
		return core.ErrDelivery(core.CodeRelayUnreachable,
			fmt.Sprintf("connecting to %s:%d", s.host, s.port)).WithCause(err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.logger.Debug("closing relay connection", "error", err)
		}
	}()

	if err := client.Send(msg); err != nil {
		return core.ErrDelivery(core.CodeSendFailed, "submitting message").WithCause(err)
	}
	s.logger.Info("notification sent", "subject", n.Subject, "recipients", len(n.Recipients))
	return nil
}
