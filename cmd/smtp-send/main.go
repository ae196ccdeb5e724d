// Package main is the entry point for the one-shot email sender.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"

	"github.com/shineum/smtp-send-lite/internal/config"
	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/message"
	"github.com/shineum/smtp-send-lite/internal/provider"
	"github.com/shineum/smtp-send-lite/internal/provider/graph"
	"github.com/shineum/smtp-send-lite/internal/provider/ses"
	"github.com/shineum/smtp-send-lite/internal/provider/smtprelay"
	"github.com/shineum/smtp-send-lite/internal/provider/stdout"
	"github.com/shineum/smtp-send-lite/internal/smtp"
	smtptls "github.com/shineum/smtp-send-lite/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	raw := flag.Bool("raw", false, "with the stdout provider, print the envelope instead of a summary")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, aborting send", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, os.Stdout, *raw); err != nil {
		slog.Error("send failed", "error", err)
		os.Exit(1)
	}
}

// run builds the message described by cfg and delivers it through the
// configured provider. out receives stdout provider output.
func run(ctx context.Context, cfg *config.Config, out io.Writer, raw bool) error {
	msg, err := buildEmail(cfg.Message)
	if err != nil {
		return err
	}

	prov, err := selectProvider(ctx, cfg, out, raw)
	if err != nil {
		return err
	}

	sendID := ulid.Make().String()
	slog.SetDefault(slog.Default().With("send_id", sendID))

	slog.Info("sending message",
		"provider", prov.Name(),
		"recipients", len(msg.To),
		"attachment_path", cfg.Message.AttachmentPath,
	)

	if err := prov.Send(ctx, msg); err != nil {
		return fmt.Errorf("%s provider: %w", prov.Name(), err)
	}

	slog.Info("message delivered", "provider", prov.Name())
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output on stderr
// and the specified log level. Stdout is left to the stdout provider.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// buildEmail reads the body file and collects the recipients, subject and
// attachment path into an Email. A missing body file is an error; an empty
// body_file setting sends an empty text part.
func buildEmail(mc config.MessageConfig) (*email.Email, error) {
	msg := &email.Email{
		To:      mc.To,
		Subject: mc.Subject,
	}

	if mc.BodyFile != "" {
		body, err := os.ReadFile(mc.BodyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}
		msg.Body = string(body)
	}

	if mc.AttachmentPath != "" {
		msg.AttachmentPaths = []string{mc.AttachmentPath}
	}
	return msg, nil
}

// selectProvider creates the delivery backend named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config, out io.Writer, raw bool) (provider.Provider, error) {
	msgOpts := []message.Option{message.WithLineLength(cfg.Message.Base64LineLength)}

	switch cfg.Provider {
	case config.ProviderSMTP:
		tlsConfig, err := smtptls.ClientConfig(smtptls.ClientOptions{
			CAFile:             cfg.SMTP.CAFile,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to setup TLS: %w", err)
		}
		slog.Info("using SMTP provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"login", cfg.SMTP.Login,
		)
		return smtprelay.New(smtprelay.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Login:    cfg.SMTP.Login,
			Password: cfg.SMTP.Password,
			Session: smtp.Options{
				Timeout:        cfg.SMTP.Timeout,
				DataTimeout:    cfg.SMTP.DataTimeout,
				TLSConfig:      tlsConfig,
				LogAndContinue: cfg.SMTP.LogAndContinue,
				MessageOptions: msgOpts,
			},
		}), nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			MessageOptions:  msgOpts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:       cfg.Graph.TenantID,
			ClientID:       cfg.Graph.ClientID,
			ClientSecret:   cfg.Graph.ClientSecret,
			Sender:         cfg.Graph.Sender,
			MessageOptions: msgOpts,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		opts := []stdout.Option{stdout.WithMessageOptions(msgOpts...)}
		if raw {
			opts = append(opts, stdout.WithRaw())
		}
		return stdout.NewWithWriter(out, opts...), nil

	default:
		return nil, errors.New("unknown provider " + cfg.Provider)
	}
}
