// Package smtp implements an implicit-TLS SMTP client session that
// authenticates with AUTH LOGIN and submits one MIME envelope per Send.
package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/message"
)

// DefaultTimeout bounds dialing, the TLS handshake and every reply read.
const DefaultTimeout = 5 * time.Second

// DefaultDataTimeout bounds writing the message data and reading the reply
// to its terminating "." line, following RFC 5321 section 4.5.3.2.6.
const DefaultDataTimeout = 10 * time.Minute

// State is the position of a Session in the protocol state machine.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a Session.
type Options struct {
	// Timeout bounds dialing, the handshake and each reply. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// DataTimeout replaces Timeout while the message data is written and its
	// final reply is awaited. Zero means DefaultDataTimeout. It is never
	// shorter than Timeout.
	DataTimeout time.Duration

	// TLSConfig is used for the handshake. When nil, a config that verifies
	// the server certificate against the system roots is used. ServerName
	// defaults to the host given to Connect.
	TLSConfig *tls.Config

	// HelloName is sent with EHLO. It defaults to the server host.
	HelloName string

	// LogAndContinue makes Authenticate and Send log a ProtocolError and
	// return nil instead of returning it. Transport errors are always
	// returned.
	LogAndContinue bool

	// MessageOptions are passed to message.Build by Send.
	MessageOptions []message.Option
}

// Session is a single SMTP connection. The protocol is strictly
// request/response; a Session must not be used concurrently.
type Session struct {
	opts  Options
	host  string
	login string
	state State

	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// NewSession creates a disconnected Session.
func NewSession(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DataTimeout <= 0 {
		opts.DataTimeout = DefaultDataTimeout
	}
	opts.DataTimeout = max(opts.DataTimeout, opts.Timeout)
	return &Session{opts: opts, state: StateDisconnected}
}

// State returns the current protocol state.
func (s *Session) State() State {
	return s.state
}

// Connect dials host:port, performs the TLS handshake immediately and reads
// the server greeting, which must be a 220 reply. Connecting an open session
// closes the previous connection first.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	if s.conn != nil {
		s.Close()
	}

	tlsConfig := s.opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.ServerName = host
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.opts.Timeout},
		Config:    tlsConfig,
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &TransportError{Op: "connect " + addr, Err: err}
	}

	s.conn = conn
	s.r = bufio.NewReader(conn)
	s.w = bufio.NewWriter(conn)
	s.host = host

	reply, err := s.receive(ctx, "greeting")
	if err != nil {
		return err
	}
	if reply.Code != greetingCode {
		s.Close()
		return &ProtocolError{Command: "greeting", Code: reply.Code, Response: reply.Raw}
	}

	s.state = StateConnected
	slog.Debug("connected to SMTP server", "addr", addr, "greeting", reply.Lines[0])
	return nil
}

// Authenticate sends EHLO followed by AUTH LOGIN with the base64 encoded
// login and password. The login is kept as the envelope sender even when
// authentication fails.
func (s *Session) Authenticate(ctx context.Context, login, password string) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	s.login = login

	helo := s.opts.HelloName
	if helo == "" {
		helo = s.host
	}

	steps := []struct {
		display string
		line    string
	}{
		{display: "EHLO " + helo, line: "EHLO " + helo},
		{display: "AUTH LOGIN", line: "AUTH LOGIN"},
		{display: "AUTH LOGIN <username>", line: encodeBase64(login)},
		{display: "AUTH LOGIN <password>", line: encodeBase64(password)},
	}
	for _, step := range steps {
		if _, err := s.cmd(ctx, step.display, step.line); err != nil {
			return s.fail("authentication failed", err)
		}
	}

	s.state = StateAuthenticated
	slog.Info("authenticated", "host", s.host, "login", login)
	return nil
}

// Send builds the envelope for msg and submits it with MAIL FROM, one RCPT
// TO per recipient and DATA. The From header defaults to the login used by
// Authenticate.
func (s *Session) Send(ctx context.Context, msg *email.Email) error {
	if s.conn == nil {
		return ErrNotConnected
	}

	out := *msg
	if out.From == "" {
		out.From = s.login
	}

	envelope, _, err := message.Build(&out, s.opts.MessageOptions...)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	if _, err := s.cmd(ctx, "MAIL FROM", fmt.Sprintf("MAIL FROM:<%s>", s.login)); err != nil {
		return s.fail("send failed", err)
	}
	for _, rcpt := range out.To {
		if _, err := s.cmd(ctx, "RCPT TO", fmt.Sprintf("RCPT TO:<%s>", rcpt)); err != nil {
			return s.fail("send failed", err)
		}
	}
	if _, err := s.cmd(ctx, "DATA", "DATA"); err != nil {
		return s.fail("send failed", err)
	}
	if _, err := s.exchange(ctx, "message data", envelope, s.opts.DataTimeout); err != nil {
		return s.fail("send failed", err)
	}

	slog.Info("message sent successfully",
		"host", s.host,
		"recipients", len(out.To),
		"bytes", len(envelope),
	)
	return nil
}

// Quit sends QUIT, ignores the reply code and closes the connection.
func (s *Session) Quit(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.roundTrip(ctx, "QUIT", "QUIT\r\n", s.opts.Timeout); err != nil {
		return err
	}
	return s.Close()
}

// Close closes the connection if one is open. It is safe to call more than
// once.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.r = nil
	s.w = nil
	s.state = StateClosed
	return err
}

// cmd writes line terminated by CRLF and checks the reply against the
// accepted codes. display is used in errors and logs in place of line.
func (s *Session) cmd(ctx context.Context, display, line string) (Reply, error) {
	return s.exchange(ctx, display, line+"\r\n", s.opts.Timeout)
}

// exchange sends payload as is, reads one reply and checks its code.
func (s *Session) exchange(ctx context.Context, display, payload string, timeout time.Duration) (Reply, error) {
	reply, err := s.roundTrip(ctx, display, payload, timeout)
	if err != nil {
		return reply, err
	}
	slog.Debug("smtp exchange", "command", display, "code", reply.Code)

	if err := checkResponse(display, reply.Raw); err != nil {
		return reply, err
	}
	return reply, nil
}

// roundTrip writes payload, flushes and reads exactly one reply. timeout
// applies to the write and to the read separately.
func (s *Session) roundTrip(ctx context.Context, display, payload string, timeout time.Duration) (Reply, error) {
	stop := s.watch(ctx)
	defer stop()

	if err := s.conn.SetWriteDeadline(s.deadline(ctx, timeout)); err != nil {
		return Reply{}, s.transportFailure(ctx, "write "+display, err, "")
	}
	if _, err := s.w.WriteString(payload); err != nil {
		return Reply{}, s.transportFailure(ctx, "write "+display, err, "")
	}
	if err := s.w.Flush(); err != nil {
		return Reply{}, s.transportFailure(ctx, "write "+display, err, "")
	}

	return s.read(ctx, display, timeout)
}

// receive reads one reply without sending anything.
func (s *Session) receive(ctx context.Context, display string) (Reply, error) {
	stop := s.watch(ctx)
	defer stop()
	return s.read(ctx, display, s.opts.Timeout)
}

func (s *Session) read(ctx context.Context, display string, timeout time.Duration) (Reply, error) {
	if err := s.conn.SetReadDeadline(s.deadline(ctx, timeout)); err != nil {
		return Reply{}, s.transportFailure(ctx, "read "+display, err, "")
	}
	reply, err := readReply(s.r)
	if err != nil {
		return reply, s.transportFailure(ctx, "read "+display, err, reply.Raw)
	}
	return reply, nil
}

// deadline is the earlier of now+timeout and the context deadline.
func (s *Session) deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// watch unblocks pending I/O when ctx is cancelled.
func (s *Session) watch(ctx context.Context) func() {
	conn := s.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { stop() }
}

// transportFailure closes the session and wraps err. A cancelled context is
// reported instead of the deadline error it caused.
func (s *Session) transportFailure(ctx context.Context, op string, err error, partial string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	s.Close()
	return &TransportError{Op: op, Err: err, Partial: partial}
}

// fail applies the LogAndContinue policy to a protocol error.
func (s *Session) fail(msg string, err error) error {
	var protoErr *ProtocolError
	if s.opts.LogAndContinue && errors.As(err, &protoErr) {
		slog.Error(msg, "host", s.host, "error", err)
		return nil
	}
	return err
}

func encodeBase64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
