// Package smtptest provides an in-process implicit-TLS SMTP server for
// exercising SMTP clients in tests.
package smtptest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	smtptls "github.com/shineum/smtp-send-lite/internal/tls"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// when the server is closed.
const shutdownTimeout = 5 * time.Second

// Config holds the behavior of a test server.
type Config struct {
	// Hostname is used in the greeting and EHLO replies.
	Hostname string

	// Username and Password enable AUTH LOGIN. If either is empty, AUTH is
	// not offered and MAIL needs no prior login.
	Username string
	Password string

	// Greeting replaces the default "220" greeting line.
	Greeting string

	// Replies overrides the reply to a command verb ("EHLO", "AUTH",
	// "MAIL", "RCPT", "DATA", ...). The command is otherwise ignored.
	Replies map[string]string

	// Stall completes the TLS handshake but never sends a greeting.
	Stall bool

	// DataDelay holds back the reply to the end of the message data.
	DataDelay time.Duration
}

// Message is a message accepted by the server, with dot-stuffing removed.
type Message struct {
	From string
	To   []string
	Data string
}

// Server is an SMTP server listening on a loopback port.
type Server struct {
	config   Config
	creds    credentials
	cert     *tls.Certificate
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks in-flight session goroutines for shutdown.
	wg sync.WaitGroup

	mu       sync.Mutex
	commands []string
	messages []Message
}

// New creates a Server with a freshly generated self-signed certificate.
func New(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	cert, err := smtptls.GenerateSelfSignedCert()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config: cfg,
		creds:  credentials{user: cfg.Username, pass: cfg.Password},
		cert:   cert,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// NewServer creates and starts a Server, failing t on error. The server is
// closed when the test ends.
func NewServer(t testing.TB, cfg Config) *Server {
	t.Helper()

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create test server: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Start listens on 127.0.0.1 and accepts connections in the background.
func (s *Server) Start() error {
	ln, err := tls.Listen("tcp", "127.0.0.1:0", smtptls.ServerConfig(s.cert))
	if err != nil {
		return err
	}
	s.listener = ln

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Debug("accept error", "error", err)
				return
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			NewSession(conn, s).Handle(s.ctx)
		}()
	}
}

// Close stops accepting connections and waits for sessions to finish.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.waitForSessions()
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		slog.Warn("test server shutdown timeout reached")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// HostPort returns the listener host and port.
func (s *Server) HostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return "", 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// CertPool returns a pool that trusts the server certificate.
func (s *Server) CertPool() *x509.CertPool {
	pool, err := smtptls.CertPool(s.cert)
	if err != nil {
		return x509.NewCertPool()
	}
	return pool
}

// Commands returns every command line received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Messages returns every message accepted, in order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Server) record(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *Server) deliver(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}
