package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/smtp-send-lite/internal/email"
	"github.com/shineum/smtp-send-lite/internal/message"
)

// tokenExpiryBuffer is how long before its expiry a token stops being reused.
const tokenExpiryBuffer = 5 * time.Minute

const graphScope = "https://graph.microsoft.com/.default"

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string

	// MessageOptions are passed to message.Build.
	MessageOptions []message.Option
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication. Messages are posted as base64 MIME.
type GraphProvider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	credential *clientcredentials.Config
	msgOpts    []message.Option

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)

	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		credential: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		msgOpts: cfg.MessageOptions,
	}
}

// Send builds the envelope for msg and posts it once to the sendMail
// endpoint. The From header defaults to the configured sender. A 401 reply
// drops the cached token so the next Send acquires a fresh one.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) error {
	out := *msg
	if out.From == "" {
		out.From = g.sender
	}

	envelope, _, err := message.Build(&out, g.msgOpts...)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	token, err := g.tokenSource().Token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	err = g.post(ctx, token, encodeMIMEBody(envelope))
	if err == nil {
		slog.Info("message accepted by Graph", "recipients", len(out.To))
		return nil
	}

	var graphErr *sendError
	if errors.As(err, &graphErr) && graphErr.statusCode == http.StatusUnauthorized {
		slog.Info("discarding rejected Graph API token")
		g.dropToken()
	}
	return err
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// tokenSource returns the cached token source, creating one after startup
// or after a rejected token. Token requests go through g.httpClient.
func (g *GraphProvider) tokenSource() oauth2.TokenSource {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tokens == nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, g.httpClient)
		fetch := tokenFetcher(func() (*oauth2.Token, error) {
			return g.credential.Token(ctx)
		})
		g.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, fetch, tokenExpiryBuffer)
	}
	return g.tokens
}

func (g *GraphProvider) dropToken() {
	g.mu.Lock()
	g.tokens = nil
	g.mu.Unlock()
}

// tokenFetcher adapts a function to oauth2.TokenSource.
type tokenFetcher func() (*oauth2.Token, error)

func (f tokenFetcher) Token() (*oauth2.Token, error) {
	return f()
}

// post performs a single HTTP request to the Graph API sendMail endpoint.
func (g *GraphProvider) post(ctx context.Context, token *oauth2.Token, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeContentType)
	token.SetAuthHeader(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return &sendError{
			statusCode: resp.StatusCode,
			code:       graphErrResp.Error.Code,
			message:    graphErrResp.Error.Message,
		}
	}

	return &sendError{statusCode: resp.StatusCode, message: string(respBody)}
}

// sendError is a non-2xx reply from the sendMail endpoint.
type sendError struct {
	statusCode int
	code       string
	message    string
}

func (e *sendError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.statusCode, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}
