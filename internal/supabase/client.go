// Package supabase is the remote data gateway: auth, row storage, object
// storage and change notifications against a Supabase project. It is the only
// package that knows the remote snake_case schema.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/syncmaster/internal/models"
)

const (
	userAgent      = "syncmaster/1.0"
	defaultTimeout = 15 * time.Second
)

// Config identifies the Supabase project and storage buckets.
type Config struct {
	URL           string
	AnonKey       string
	AudioBuckets  []string
	AvatarBuckets []string
	Timeout       time.Duration
}

// Client talks to one Supabase project on behalf of at most one signed-in user,
// the way a browser SDK instance does. Use WithSession to derive a client for
// another user.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
	realtime   *Realtime

	mu      sync.RWMutex
	session *models.Session
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a client. An unconfigured client is valid: every call then fails
// with ErrNotConfigured.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.AudioBuckets) == 0 {
		cfg.AudioBuckets = []string{"audio"}
	}
	if len(cfg.AvatarBuckets) == 0 {
		cfg.AvatarBuckets = []string{"avatars"}
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.realtime = newRealtime(cfg, c.accessTokenOrKey, c.log)
	return c
}

// Configured reports whether the client has a project URL and key.
func (c *Client) Configured() bool {
	return c.cfg.URL != "" && c.cfg.AnonKey != ""
}

// WithSession returns a client sharing configuration and transport with c but
// bound to session. The realtime connection is not shared.
func (c *Client) WithSession(session *models.Session) *Client {
	clone := &Client{
		cfg:        c.cfg,
		httpClient: c.httpClient,
		log:        c.log,
		session:    session,
	}
	clone.realtime = newRealtime(c.cfg, clone.accessTokenOrKey, c.log)
	return clone
}

// CurrentSession returns the in-memory session without contacting the server.
func (c *Client) CurrentSession() *models.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(s *models.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// Close releases the realtime connection.
func (c *Client) Close() error {
	return c.realtime.Close()
}

// accessTokenOrKey returns the bearer token for requests: the session access
// token when signed in, the anon key otherwise.
func (c *Client) accessTokenOrKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil && c.session.AccessToken != "" {
		return c.session.AccessToken
	}
	return c.cfg.AnonKey
}

// request describes one HTTP call.
type request struct {
	op      string
	service string // auth, rest or storage
	method  string
	path    string
	query   url.Values
	body    any
	raw     io.Reader
	size    int64
	headers map[string]string
	bearer  string
}

// do executes req and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	if !c.Configured() {
		return &Error{Kind: KindNetwork, Op: req.op, sentinel: ErrNotConfigured}
	}

	if req.service == "rest" || req.service == "storage" {
		if err := c.ensureFresh(ctx); err != nil {
			return err
		}
	}

	reqURL := c.cfg.URL + req.path
	if len(req.query) > 0 {
		reqURL += "?" + req.query.Encode()
	}

	var body io.Reader
	switch {
	case req.raw != nil:
		body = req.raw
	case req.body != nil:
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", req.op, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, reqURL, body)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", req.op, err)
	}

	if req.raw != nil && req.size > 0 {
		httpReq.ContentLength = req.size
	}

	bearer := req.bearer
	if bearer == "" {
		bearer = c.accessTokenOrKey()
	}
	httpReq.Header.Set("apikey", c.cfg.AnonKey)
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	httpReq.Header.Set("User-Agent", userAgent)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		return networkError(req.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(req.op, fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		e := parseError(req.op, req.service, resp.StatusCode, data)
		c.log.Debug().Str("op", req.op).Int("status", resp.StatusCode).Str("kind", string(e.Kind)).Msg("supabase call failed")
		return e
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: parsing response: %w", req.op, err)
	}
	return nil
}
