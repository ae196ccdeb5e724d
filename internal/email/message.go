// Package email defines the outbound email data model shared by the builder,
// the SMTP session and the delivery providers.
package email

// Email represents an outbound message before serialization.
type Email struct {
	From    string
	To      []string
	Subject string
	Body    string

	// Attachments are already loaded into memory.
	Attachments []Attachment

	// AttachmentPaths are file or directory paths resolved when the message
	// is built. Directories contribute every file below them.
	AttachmentPaths []string

	RawHeaders map[string][]string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename string
	Content  []byte
}
