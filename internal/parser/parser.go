// Package parser reads serialized messages back into email.Email values.
// It is used to render dry-run summaries and to verify envelopes in tests.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/message"
)

// ParseEnvelope parses an envelope produced by message.Builder, including
// its dot-stuffing and end-of-DATA line.
func ParseEnvelope(envelope string) (*email.Email, error) {
	return Parse(message.Raw(envelope))
}

// Parse parses a raw RFC 5322 message. The first text part becomes Body with
// CRLF line endings turned into LF; parts with an attachment disposition
// become Attachments with their transfer encoding removed.
func Parse(raw []byte) (*email.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Email{
		RawHeaders: make(map[string][]string),
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		result.RawHeaders[fields.Key()] = append(result.RawHeaders[fields.Key()], fields.Value())
	}

	result.From = parseFrom(mr.Header)
	result.To = parseAddressList(mr.Header, "To")
	if subject, err := mr.Header.Subject(); err == nil {
		result.Subject = subject
	} else {
		result.Subject = mr.Header.Get("Subject")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read part content: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := h.ContentType()
			if mediaType == "" {
				mediaType = "text/plain"
			}
			if !strings.HasPrefix(mediaType, "text/") {
				slog.Warn("unrecognized inline part, skipping", "content_type", mediaType)
				continue
			}
			if result.Body == "" {
				result.Body = strings.ReplaceAll(string(content), "\r\n", "\n")
			}

		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil || filename == "" {
				filename = "attachment"
			}
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename: filename,
				Content:  content,
			})
		}
	}

	return result, nil
}

func parseFrom(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return strings.TrimSpace(h.Get("From"))
}

// parseAddressList returns the addresses of a header field, falling back to
// a plain comma split when the field is not RFC 5322 compliant.
func parseAddressList(h mail.Header, key string) []string {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}

	addresses, err := h.AddressList(key)
	if err != nil {
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
