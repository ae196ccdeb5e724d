// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"encoding/base64"

	"github.com/shineum/smtp-send-lite/internal/message"
)

// mimeContentType is the request content type Graph expects for a
// base64 encoded MIME message posted to sendMail.
const mimeContentType = "text/plain"

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// encodeMIMEBody converts a builder envelope into the sendMail request body:
// the raw message without dot-stuffing or end-of-DATA line, base64 encoded.
func encodeMIMEBody(envelope string) []byte {
	raw := message.Raw(envelope)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out
}
