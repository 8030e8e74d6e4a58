package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/gulfclinic/clinicadmin/internal/cli/auth"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "clinicadmin"
	maxErrorBody     = 512
)

// Client represents the shared HTTP client for the clinic API. Every domain
// call flows through it so credential handling lives in one place.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenStore
	logger     zerolog.Logger
	userAgent  string

	// evictMu serializes compare-and-delete of the stored credential
	evictMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   []func(token string)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger used for diagnostics
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithUserAgent sets the User-Agent header sent with every request
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// New creates a new API client
func New(baseURL string, tokens auth.TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
		logger:     zerolog.Nop(),
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// BaseURL returns the API base address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the credential store the client reads from
func (c *Client) Tokens() auth.TokenStore {
	return c.tokens
}

// OnUnauthenticated registers fn to be called with the rejected credential
// whenever the server answers 401 to a request that carried one. The stored
// credential has already been removed when fn runs.
func (c *Client) OnUnauthenticated(fn func(token string)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, fn)
}

type requestOptions struct {
	anonymous bool
	token     string
}

type requestOption func(*requestOptions)

// withoutCredential sends the request with no Authorization header
func withoutCredential() requestOption {
	return func(o *requestOptions) { o.anonymous = true }
}

// withCredential sends the given token instead of the stored one
func withCredential(token string) requestOption {
	return func(o *requestOptions) { o.token = token }
}

// envelope is the status wrapper every clinic API response carries
type envelope struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (e envelope) check() error {
	if e.Success != nil && !*e.Success {
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		if msg == "" {
			return ErrRejected
		}
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return nil
}

// do sends one request and decodes the JSON response into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, opts ...requestOption) error {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := ulid.Make().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)

	sent := c.credentialFor(ro)
	if sent != "" {
		req.Header.Set("Authorization", "Bearer "+sent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, "error").Inc()
		c.logger.Debug().Err(err).
			Str("method", method).
			Str("path", path).
			Str("request_id", requestID).
			Msg("API request failed")
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("request_id", requestID).
		Msg("API request")

	if resp.StatusCode == http.StatusUnauthorized && sent != "" {
		c.evict(sent)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrMalformedResponse)
		}
		return fmt.Errorf("%w: failed to decode response: %v", ErrMalformedResponse, err)
	}
	return nil
}

// credentialFor returns the bearer credential to send, if any. A store read
// failure is logged and the request goes out unauthenticated.
func (c *Client) credentialFor(ro requestOptions) string {
	if ro.anonymous {
		return ""
	}
	if ro.token != "" {
		return ro.token
	}
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.LoadToken()
	if err != nil {
		if !errors.Is(err, auth.ErrNoCredential) {
			c.logger.Warn().Err(err).Msg("Failed to read stored credential")
		}
		return ""
	}
	return token
}

// evict removes the stored credential if it is still the one the server
// rejected, then notifies handlers. A credential saved by a newer login is
// left alone.
func (c *Client) evict(rejected string) {
	c.evictMu.Lock()
	if c.tokens != nil {
		current, err := c.tokens.LoadToken()
		if err == nil && current == rejected {
			if err := c.tokens.DeleteToken(); err != nil {
				c.logger.Error().Err(err).Msg("Failed to remove rejected credential")
			} else {
				c.logger.Warn().Msg("Session expired or unauthorized, stored credential removed")
			}
		}
	}
	c.evictMu.Unlock()

	c.handlersMu.RLock()
	handlers := append([]func(string){}, c.handlers...)
	c.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(rejected)
	}
}

// errorMessage extracts a human readable message from an error body
func errorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != "" {
			return env.Error
		}
		if env.Message != "" {
			return env.Message
		}
	}
	return strings.TrimSpace(string(body))
}
