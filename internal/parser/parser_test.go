package parser

import (
	"bytes"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/shineum/smtp-send-lite/internal/attach"
	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/message"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "sender@example.com")
	}
	if len(msg.To) != 1 || msg.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.Body != "Hello, this is a plain text email." {
		t.Errorf("Body: got %q, want %q", msg.Body, "Hello, this is a plain text email.")
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(msg.Attachments))
	}
	if got := msg.RawHeaders["Subject"]; len(got) != 1 || got[0] != "Test Subject" {
		t.Errorf("RawHeaders[Subject]: got %v", got)
	}
}

func TestParseEnvelope_EndToEnd(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"note.txt": {Data: []byte{0x68, 0x69}},
	}
	envelope, _, err := message.Build(&email.Email{
		From:            "a@ex.com",
		To:              []string{"b@ex.com"},
		Subject:         "Hi",
		Body:            "Hello.\n.\nEnd",
		AttachmentPaths: []string{"note.txt"},
	}, message.WithSource(attach.FS(fsys)))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	msg, err := ParseEnvelope(envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "a@ex.com" {
		t.Errorf("From: got %q, want %q", msg.From, "a@ex.com")
	}
	if len(msg.To) != 1 || msg.To[0] != "b@ex.com" {
		t.Errorf("To: got %v, want [b@ex.com]", msg.To)
	}
	if msg.Subject != "Hi" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Hi")
	}
	if msg.Body != "Hello.\n.\nEnd" {
		t.Errorf("Body: got %q, want %q", msg.Body, "Hello.\n.\nEnd")
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "note.txt" {
		t.Errorf("Filename: got %q, want %q", att.Filename, "note.txt")
	}
	if !bytes.Equal(att.Content, []byte{0x68, 0x69}) {
		t.Errorf("Content: got %v, want [68 69]", att.Content)
	}
}

func TestParseEnvelope_DirectoryAttachments(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"out/report.pdf":         {Data: []byte("%PDF-1.4")},
		"out/2024/jan/data.csv":  {Data: []byte("a,b\n1,2\n")},
		"out/2024/feb/image.png": {Data: bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 100)},
	}
	envelope, results, err := message.Build(&email.Email{
		From:            "a@ex.com",
		To:              []string{"b@ex.com"},
		Subject:         "Files",
		AttachmentPaths: []string{"out"},
	}, message.WithSource(attach.FS(fsys)), message.WithLineLength(76))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(results) != 1 || len(results[0].Added) != 3 {
		t.Fatalf("results: got %+v", results)
	}

	msg, err := ParseEnvelope(envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Attachments) != 3 {
		t.Fatalf("Attachments: got %d, want 3", len(msg.Attachments))
	}

	want := map[string][]byte{
		"report.pdf": fsys["out/report.pdf"].Data,
		"data.csv":   fsys["out/2024/jan/data.csv"].Data,
		"image.png":  fsys["out/2024/feb/image.png"].Data,
	}
	for _, att := range msg.Attachments {
		data, ok := want[att.Filename]
		if !ok {
			t.Errorf("unexpected attachment %q", att.Filename)
			continue
		}
		if !bytes.Equal(att.Content, data) {
			t.Errorf("attachment %q: content differs", att.Filename)
		}
	}
}

func TestParseEnvelope_EncodedNames(t *testing.T) {
	t.Parallel()

	b := message.New("a@ex.com", []string{"b@ex.com"}, "Отчёт за март")
	_ = b.AddText("<p>.leading dot</p>")
	_ = b.AddAttachment([]byte("x"), "my report.txt")
	envelope, _ := b.Finalize()

	msg, err := ParseEnvelope(envelope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "Отчёт за март" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Отчёт за март")
	}
	if msg.Body != "<p>.leading dot</p>" {
		t.Errorf("Body: got %q", msg.Body)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "my report.txt" {
		t.Errorf("Attachments: got %+v", msg.Attachments)
	}
}

func TestParseAddressList_Fallback(t *testing.T) {
	t.Parallel()

	raw := []byte("From: not an address\r\nTo: alice, bob@\r\nSubject: x\r\n\r\nbody")

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.From != "not an address" {
		t.Errorf("From: got %q, want %q", msg.From, "not an address")
	}
	if len(msg.To) != 2 || msg.To[0] != "alice" || msg.To[1] != "bob@" {
		t.Errorf("To: got %v, want [alice bob@]", msg.To)
	}
}
