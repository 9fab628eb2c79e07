// Package looker is a typed HTTP client for the Looker API.
//
// The client owns the access token lifecycle: it logs in lazily, refreshes
// the token shortly before it expires and, when a request is rejected as
// unauthorized, re-authenticates once and replays the request.
package looker

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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Defaults for Config fields left zero.
const (
	DefaultAPIVersion = "4.0"
	DefaultTimeout    = 600 * time.Second
)

// Tokens are refreshed this long before the platform expires them.
const tokenExpiryBuffer = 60 * time.Second

// Config holds the connection settings for a Client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Port         int
	APIVersion   string
	Timeout      time.Duration
	Logger       *slog.Logger
	HTTPClient   *http.Client
}

// Client talks to one Looker instance. It is safe for concurrent use.
type Client struct {
	baseURL     string
	apiURL      string
	apiVersion  string
	credentials *clientcredentials.Config
	http        *http.Client
	logger      *slog.Logger
	now         func() time.Time

	// authMu serializes forced logins; mu guards tokens and workspace.
	authMu    sync.Mutex
	mu        sync.Mutex
	tokens    oauth2.TokenSource
	workspace string
}

// NewClient validates cfg and returns a client. No request is made until
// the first call.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Port != 0 {
		u.Host = u.Hostname() + ":" + strconv.Itoa(cfg.Port)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = cfg.Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base := u.String()
	apiURL := base + "/api/" + cfg.APIVersion
	c := &Client{
		baseURL:    base,
		apiURL:     apiURL,
		apiVersion: cfg.APIVersion,
		credentials: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     apiURL + "/login",
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		http:   httpClient,
		logger: logger,
		now:    time.Now,
	}
	c.tokens = c.newTokenSource()
	return c, nil
}

// BaseURL returns the normalized instance URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIVersion returns the API version in use.
func (c *Client) APIVersion() string {
	return c.apiVersion
}

// Authenticate logs in and replaces the current access token.
func (c *Client) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	_, err := c.login(ctx)
	return err
}

// login swaps in a fresh token source and fetches from it. It must be
// called with authMu held.
func (c *Client) login(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src := c.newTokenSource()
	c.mu.Lock()
	c.tokens = src
	c.mu.Unlock()

	tok, err := c.fetchToken(src)
	if err != nil {
		return "", err
	}
	c.logger.Debug("authenticated", "base_url", c.baseURL, "api_version", c.apiVersion)
	return tok, nil
}

// newTokenSource returns a caching source that logs in through the client
// credentials grant and renews tokens tokenExpiryBuffer before they expire.
func (c *Client) newTokenSource() oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
	return oauth2.ReuseTokenSourceWithExpiry(nil, c.credentials.TokenSource(ctx), tokenExpiryBuffer)
}

func (c *Client) fetchToken(src oauth2.TokenSource) (string, error) {
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			err = apiErrorFromBody(http.MethodPost, "login", retrieveErr.Response.StatusCode, retrieveErr.Body)
		}
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}
	return tok.AccessToken, nil
}

// ensureToken returns a valid token. The token source logs in when there
// is none or it is about to expire, and callers racing on it share one
// login.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	src := c.tokens
	c.mu.Unlock()
	return c.fetchToken(src)
}

// reauthenticate replaces a token the server rejected. If another caller
// already replaced it, the newer token is used as is.
func (c *Client) reauthenticate(ctx context.Context, rejected string) (string, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	if tok, err := c.ensureToken(ctx); err == nil && tok != rejected {
		return tok, nil
	}
	return c.login(ctx)
}

// do performs an authenticated JSON request. A 401 or 403 triggers one
// re-authentication and one replay.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
	}

	tok, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, method, path, params, payload, tok)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		drain(resp)
		c.logger.Warn("request rejected, re-authenticating", "method", method, "path", path, "status", resp.StatusCode)
		tok, err = c.reauthenticate(ctx, tok)
		if err != nil {
			return err
		}
		resp, err = c.send(ctx, method, path, params, payload, tok)
		if err != nil {
			return err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return newAPIError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, payload []byte, tok string) (*http.Response, error) {
	target := c.apiURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Authorization", "token "+tok)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	c.logger.Debug("looker request", "method", method, "path", path, "status", resp.StatusCode, "duration", c.now().Sub(start))
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
