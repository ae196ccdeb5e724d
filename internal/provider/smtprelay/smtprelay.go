// Package smtprelay implements a Provider that submits messages to an SMTP
// server over implicit TLS, opening one session per message.
package smtprelay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/smtp"
)

// Config holds the server address, credentials and session options.
type Config struct {
	Host     string
	Port     int
	Login    string
	Password string
	Session  smtp.Options
}

// Provider sends each message over a fresh smtp.Session.
type Provider struct {
	cfg Config
}

// New creates a Provider for cfg.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Send connects, authenticates, submits msg and quits. The session is
// closed on every path.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	sess := smtp.NewSession(p.cfg.Session)
	defer sess.Close()

	if err := sess.Connect(ctx, p.cfg.Host, p.cfg.Port); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := sess.Authenticate(ctx, p.cfg.Login, p.cfg.Password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if err := sess.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	if err := sess.Quit(ctx); err != nil {
		slog.Debug("QUIT failed", "host", p.cfg.Host, "error", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}
