// Package stdout implements a Provider that prints emails to standard output
// instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/message"
	"github.com/shineum/smtp-send-lite/internal/parser"
)

const separator = "========================================\n"

// Option configures a Provider.
type Option func(*Provider)

// WithRaw prints the envelope exactly as it would be sent after DATA
// instead of a summary.
func WithRaw() Option {
	return func(p *Provider) { p.raw = true }
}

// WithMessageOptions sets the options passed to message.Build.
func WithMessageOptions(opts ...message.Option) Option {
	return func(p *Provider) { p.msgOpts = opts }
}

// Provider prints email messages to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer  io.Writer
	raw     bool
	msgOpts []message.Option
}

// New creates a new stdout Provider that writes to os.Stdout.
func New(opts ...Option) *Provider {
	return NewWithWriter(os.Stdout, opts...)
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer, opts ...Option) *Provider {
	p := &Provider{writer: w}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send builds the envelope for msg and prints it. The summary is rendered
// from the envelope parsed back, so it shows what a server would receive.
func (p *Provider) Send(_ context.Context, msg *email.Email) error {
	envelope, results, err := message.Build(msg, p.msgOpts...)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	if p.raw {
		if _, err := io.WriteString(p.writer, envelope); err != nil {
			return fmt.Errorf("failed to write envelope: %w", err)
		}
		return nil
	}

	parsed, err := parser.ParseEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("failed to parse envelope: %w", err)
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", parsed.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(parsed.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", parsed.Subject)
	b.WriteString("Body:\n")
	b.WriteString(parsed.Body + "\n")

	if len(parsed.Attachments) > 0 {
		attachments := make([]string, 0, len(parsed.Attachments))
		for _, att := range parsed.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	for _, res := range results {
		if res.Skipped() {
			fmt.Fprintf(&b, "Skipped: %s (%s)\n", res.Path, res.Reason)
		}
	}

	fmt.Fprintf(&b, "Size: %s\n", formatSize(len(envelope)))
	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
