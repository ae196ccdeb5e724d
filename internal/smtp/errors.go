package smtp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned by Authenticate and Send when the session has
// no open connection.
var ErrNotConnected = errors.New("smtp: not connected")

// ErrLineTooLong is wrapped in a TransportError when a reply line exceeds
// maxReplyLine bytes.
var ErrLineTooLong = errors.New("smtp: reply line too long")

// ProtocolError is returned when the server answers a command with a reply
// code outside the accepted set. Response holds the reply exactly as received.
type ProtocolError struct {
	Command  string
	Code     string
	Response string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("smtp: %s: server returned an error: %s",
		e.Command, strings.TrimRight(e.Response, "\r\n"))
}

// TransportError is returned when the connection fails: dial, TLS handshake,
// read or write errors and timeouts. Partial holds any reply bytes received
// before the failure. The session is closed when a TransportError occurs.
type TransportError struct {
	Op      string
	Err     error
	Partial string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smtp: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
