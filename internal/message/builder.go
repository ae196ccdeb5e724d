// Package message builds multipart/mixed MIME envelopes ready to be written
// after an SMTP DATA command.
//
// An envelope consists of a fixed header block, one part per AddText or
// AddAttachment call in call order, the closing boundary and the end-of-DATA
// line ".". Text parts are dot-stuffed so that no line of the envelope other
// than the final one can be mistaken for the end of the message.
package message

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"mime"
	"strings"
	"time"

	"github.com/shineum/smtp-send-lite/internal/attach"
	"github.com/shineum/smtp-send-lite/internal/email"
)

const (
	boundaryPrefix = "boundary."
	dateLayout     = "02/01/06"
	crlf           = "\r\n"

	// Terminator is the end-of-DATA line every finalized envelope ends with.
	Terminator = "." + crlf
)

// ErrFinalized is returned when a Builder is used after Finalize.
var ErrFinalized = errors.New("message already finalized")

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the time source used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithRand sets the random source used to pick the boundary.
func WithRand(r *rand.Rand) Option {
	return func(b *Builder) { b.rnd = r }
}

// WithSource sets where AddAttachmentFrom reads attachments from.
// The default is the local filesystem.
func WithSource(src attach.Source) Option {
	return func(b *Builder) { b.source = src }
}

// WithLineLength wraps base64 attachment payloads at n characters.
// Zero (the default) leaves the encoded payload on a single line.
func WithLineLength(n int) Option {
	return func(b *Builder) { b.lineLength = n }
}

// Builder accumulates one MIME envelope. It is not safe for concurrent use.
type Builder struct {
	boundary   string
	buf        strings.Builder
	finalized  bool
	now        func() time.Time
	rnd        *rand.Rand
	source     attach.Source
	lineLength int
}

// AddResult reports what AddAttachmentFrom did with a path. Either Added
// lists the attached file names or Reason explains why the path was skipped.
type AddResult struct {
	Path   string
	Added  []string
	Reason string
}

// Skipped reports whether the path contributed no attachment parts because
// it could not be resolved.
func (r AddResult) Skipped() bool {
	return r.Reason != ""
}

// New starts an envelope and writes its header block. The boundary is chosen
// here and never changes for the lifetime of the Builder.
func New(from string, to []string, subject string, opts ...Option) *Builder {
	b := &Builder{
		now:    time.Now,
		source: attach.OS(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rnd == nil {
		b.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}

	b.boundary = fmt.Sprintf("%s%d", boundaryPrefix, 10000+b.rnd.IntN(90000))

	fmt.Fprintf(&b.buf, "Date: %s\r\n", b.now().Format(dateLayout))
	fmt.Fprintf(&b.buf, "From: %s\r\n", from)
	fmt.Fprintf(&b.buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b.buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b.buf, "Content-Type: multipart/mixed; boundary=%s\r\n", b.boundary)
	b.buf.WriteString(crlf)

	return b
}

// Boundary returns the boundary token separating the parts.
func (b *Builder) Boundary() string {
	return b.boundary
}

// AddText appends a text/html part. The text is dot-stuffed and its line
// endings are normalized to CRLF.
func (b *Builder) AddText(text string) error {
	if b.finalized {
		return ErrFinalized
	}

	b.writeDelimiter()
	b.buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.buf.WriteString(crlf)
	b.buf.WriteString(normalizeNewlines(DotStuff(text)))
	b.buf.WriteString(crlf)
	return nil
}

// AddAttachment appends a base64 encoded application/octet-stream part
// named fileName.
func (b *Builder) AddAttachment(data []byte, fileName string) error {
	if b.finalized {
		return ErrFinalized
	}

	b.writeDelimiter()
	fmt.Fprintf(&b.buf, "Content-Type: %s\r\n", formatMediaType("application/octet-stream", "name", fileName))
	fmt.Fprintf(&b.buf, "Content-Disposition: %s\r\n", formatMediaType("attachment", "filename", fileName))
	b.buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.buf.WriteString(crlf)
	b.buf.WriteString(encodeBase64(data, b.lineLength))
	b.buf.WriteString(crlf)
	return nil
}

// AddAttachmentFrom attaches the file at path, or every file below path when
// it is a directory. A path that cannot be resolved is skipped with a warning
// and building continues.
func (b *Builder) AddAttachmentFrom(path string) (AddResult, error) {
	if b.finalized {
		return AddResult{}, ErrFinalized
	}

	result := AddResult{Path: path}

	files, err := b.source.Collect(path)
	if err != nil {
		slog.Warn("skipping attachment path", "path", path, "error", err)
		result.Reason = err.Error()
		return result, nil
	}

	for _, f := range files {
		if err := b.AddAttachment(f.Content, f.Filename); err != nil {
			return result, err
		}
		result.Added = append(result.Added, f.Filename)
	}
	return result, nil
}

// Finalize writes the closing boundary and the end-of-DATA line and returns
// the envelope. It may be called only once.
func (b *Builder) Finalize() (string, error) {
	if b.finalized {
		return "", ErrFinalized
	}
	b.finalized = true

	fmt.Fprintf(&b.buf, "--%s--\r\n", b.boundary)
	b.buf.WriteString(Terminator)
	return b.buf.String(), nil
}

// Build serializes msg: the body as the text part, then the preloaded
// attachments, then everything resolved from msg.AttachmentPaths.
func Build(msg *email.Email, opts ...Option) (string, []AddResult, error) {
	b := New(msg.From, msg.To, msg.Subject, opts...)

	if err := b.AddText(msg.Body); err != nil {
		return "", nil, err
	}
	for _, att := range msg.Attachments {
		if err := b.AddAttachment(att.Content, att.Filename); err != nil {
			return "", nil, err
		}
	}

	results := make([]AddResult, 0, len(msg.AttachmentPaths))
	for _, p := range msg.AttachmentPaths {
		res, err := b.AddAttachmentFrom(p)
		if err != nil {
			return "", nil, err
		}
		results = append(results, res)
	}

	out, err := b.Finalize()
	if err != nil {
		return "", nil, err
	}
	return out, results, nil
}

func (b *Builder) writeDelimiter() {
	fmt.Fprintf(&b.buf, "--%s\r\n", b.boundary)
}

// formatMediaType renders "value; key=param", quoting param when needed.
func formatMediaType(value, key, param string) string {
	if s := mime.FormatMediaType(value, map[string]string{key: param}); s != "" {
		return s
	}
	return fmt.Sprintf("%s; %s=%q", value, key, param)
}

// encodeBase64 encodes data with the standard alphabet. When lineLength is
// positive the output is split into CRLF separated lines of that length.
func encodeBase64(data []byte, lineLength int) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	if lineLength <= 0 || len(encoded) <= lineLength {
		return encoded
	}

	lines := make([]string, 0, len(encoded)/lineLength+1)
	for i := 0; i < len(encoded); i += lineLength {
		end := min(i+lineLength, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, crlf)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", crlf)
}
