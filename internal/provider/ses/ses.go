// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/message"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string

	// MessageOptions are passed to message.Build.
	MessageOptions []message.Option
}

// SESProvider sends emails via the AWS SES v2 API as raw MIME messages.
type SESProvider struct {
	sender  string
	client  SendEmailAPI
	msgOpts []message.Option
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESProvider{
		sender:  cfg.Sender,
		client:  sesv2.NewFromConfig(awsCfg),
		msgOpts: cfg.MessageOptions,
	}, nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI, opts ...message.Option) *SESProvider {
	return &SESProvider{
		sender:  sender,
		client:  client,
		msgOpts: opts,
	}
}

// Send builds the envelope for msg and submits it once as a raw message.
// The From header defaults to the configured sender.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email) error {
	input, err := s.buildInput(msg)
	if err != nil {
		return err
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES API request failed: %w", err)
	}

	slog.Info("message accepted by SES",
		"message_id", aws.ToString(out.MessageId),
		"recipients", len(msg.To),
	)
	return nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

func (s *SESProvider) buildInput(msg *email.Email) (*sesv2.SendEmailInput, error) {
	out := *msg
	if out.From == "" {
		out.From = s.sender
	}

	envelope, _, err := message.Build(&out, s.msgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: out.To,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: message.Raw(envelope),
			},
		},
	}, nil
}
