package alerter

import (
	"context"
	"fmt"
	"time"

	mail "github.com/xhit/go-simple-mail/v2"

	"github.com/idswatch/sentinel/internal/config"
	"github.com/idswatch/sentinel/internal/logging"
	"github.com/idswatch/sentinel/internal/reliability"
)

const (
	smtpConnectTimeout = 10 * time.Second
	smtpSendTimeout    = 10 * time.Second
)

// EmailSender delivers alert notifications over SMTP. The transport is
// built once at startup (spec.md §4.4: SMTP construction failures are
// fatal) and every send afterward goes through a circuit breaker so a dead
// mail relay degrades to log-and-swallow instead of backing up the worker
// pool.
type EmailSender struct {
	client  *mail.SMTPClient
	cfg     config.EmailConfig
	breaker *reliability.CircuitBreaker
	logger  *logging.Logger
}

// NewEmailSender constructs the SMTP transport for cfg, retrying the
// initial connection with backoff. Returns (nil, nil) when email alerting
// is disabled, which callers must treat as "no email path configured".
func NewEmailSender(cfg config.EmailConfig, logger *logging.Logger) (*EmailSender, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	logger = logger.WithComponent("alerter-email")

	server := mail.NewSMTPClient()
	server.Host = cfg.SMTPHost
	server.Port = cfg.SMTPPort
	server.Username = cfg.Username
	server.Password = cfg.Password
	if cfg.TLSEnabled {
		server.Encryption = mail.EncryptionSTARTTLS
	} else {
		server.Encryption = mail.EncryptionNone
	}
	server.ConnectTimeout = smtpConnectTimeout
	server.SendTimeout = smtpSendTimeout
	server.KeepAlive = true

	if server.Encryption == mail.EncryptionNone {
		logger.Warn().Msg("email transport configured without TLS/STARTTLS; credentials and alert content travel in cleartext")
	}

	var client *mail.SMTPClient
	retryCfg := reliability.RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         true,
	}
	err := reliability.Retry(context.Background(), retryCfg, func(ctx context.Context) error {
		c, connErr := server.Connect()
		if connErr != nil {
			return connErr
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect smtp transport: %w", err)
	}

	breaker := reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})

	return &EmailSender{client: client, cfg: cfg, breaker: breaker, logger: logger}, nil
}

// Send composes and delivers one alert email, through the circuit breaker.
func (e *EmailSender) Send(ctx context.Context, subject, body string) error {
	return e.breaker.Execute(ctx, func() error {
		msg := mail.NewMSG()
		msg.SetFrom(e.cfg.From).AddTo(e.cfg.To...).SetSubject(subject)
		msg.SetBody(mail.TextPlain, body)
		if msg.Error != nil {
			return msg.Error
		}
		return msg.Send(e.client)
	})
}

// CircuitState reports the current email circuit breaker state, for the
// metrics collector.
func (e *EmailSender) CircuitState() reliability.State {
	return e.breaker.State()
}
