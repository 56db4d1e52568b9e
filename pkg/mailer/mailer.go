package mailer

import (
	"fmt"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/sgescolar/sge-api/pkg/config"
)

// Message is a plain-text email to a single recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a single message over a configured transport.
type Mailer interface {
	Send(msg Message) error
}

// SMTPMailer sends messages through an SMTP server via gomail.
type SMTPMailer struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
}

// NewSMTP builds an SMTP-backed mailer from configuration.
func NewSMTP(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
	}
}

// Send delivers the message, dialing per call. SMTP sessions are cheap at
// this volume and a persistent connection would need keepalive handling.
func (m *SMTPMailer) Send(msg Message) error {
	mail := gomail.NewMessage()
	mail.SetAddressHeader("From", m.from, m.fromName)
	mail.SetHeader("To", msg.To)
	mail.SetHeader("Subject", msg.Subject)
	mail.SetBody("text/plain", msg.Body)

	if err := m.dialer.DialAndSend(mail); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// NoopMailer logs and discards messages. Used when no SMTP transport is
// configured so callers keep working without delivery.
type NoopMailer struct {
	logger *zap.Logger
}

// NewNoop builds a mailer that drops everything.
func NewNoop(logger *zap.Logger) *NoopMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopMailer{logger: logger}
}

// Send logs the message at debug level and reports success.
func (m *NoopMailer) Send(msg Message) error {
	m.logger.Debug("mail transport disabled, dropping message",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// FromConfig selects the SMTP mailer when a host is configured and the noop
// mailer otherwise.
func FromConfig(cfg config.SMTPConfig, logger *zap.Logger) Mailer {
	if cfg.Host == "" {
		return NewNoop(logger)
	}
	return NewSMTP(cfg)
}
