package message

import "strings"

// DotStuff doubles the leading "." of every line of text, including the
// first, so the text can be sent inside SMTP DATA (RFC 5321 §4.5.2).
// Lines that do not start with "." are unchanged.
func DotStuff(text string) string {
	if strings.HasPrefix(text, ".") {
		text = "." + text
	}
	return strings.ReplaceAll(text, "\n.", "\n..")
}

// DotUnstuff removes one leading "." from every line that starts with one.
// DotUnstuff(DotStuff(s)) == s for any s.
func DotUnstuff(text string) string {
	text = strings.TrimPrefix(text, ".")
	return strings.ReplaceAll(text, "\n.", "\n")
}

// Raw converts a finalized envelope back into a plain RFC 5322 message: the
// end-of-DATA line is dropped and dot-stuffing is undone, as a receiving
// server would do.
func Raw(envelope string) []byte {
	switch {
	case envelope == Terminator:
		envelope = ""
	case strings.HasSuffix(envelope, crlf+Terminator):
		envelope = envelope[:len(envelope)-len(Terminator)]
	}
	return []byte(DotUnstuff(envelope))
}
