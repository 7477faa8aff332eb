// Package research answers "what music was used in X" questions with the
// Gemini generateContent API and Google Search grounding.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/justestif/syncmaster/internal/models"
)

const (
	baseURL      = "https://generativelanguage.googleapis.com/v1beta"
	userAgent    = "syncmaster/1.0"
	defaultModel = "gemini-2.5-flash"
)

// Sentinel errors.
var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("missing Gemini API key")

	// ErrRateLimited is returned when the API keeps refusing after retries.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidAPIKey is returned when the API rejects the key.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrNoJSON is returned when the answer holds no parseable JSON.
	ErrNoJSON = errors.New("response contained no JSON result")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty response")
)

// Config holds the API settings.
type Config struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
}

// Client is a Gemini client with a client-side rate limit and an in-memory
// cache keyed by query.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	delays     []time.Duration
	log        zerolog.Logger

	cache   map[string]*Result
	cacheMu sync.RWMutex
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryDelays sets the waits between retries of a rate-limited request.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(c *Client) {
		c.delays = delays
	}
}

// WithLimiter replaces the per-minute limiter built from Config.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a client. It returns ErrMissingAPIKey when cfg has no key.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		delays:     []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		log:        zerolog.Nop(),
		cache:      make(map[string]*Result),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func cacheKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Research looks up the music placed in the subject named by query.
func (c *Client) Research(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.Validationf("enter a film, show, game or ad to research")
	}

	key := cacheKey(query)
	c.cacheMu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt(query)}}}},
		Tools:    []tool{{GoogleSearch: &struct{}{}}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	raw, err := c.doRequest(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("researching %q: %w", query, err)
	}

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		if reason := resp.PromptFeedback.BlockReason; reason != "" {
			return nil, fmt.Errorf("%w: blocked (%s)", ErrEmptyResponse, reason)
		}
		return nil, ErrEmptyResponse
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	res, err := parseResult(text.String())
	if err != nil {
		c.log.Debug().Str("query", query).Str("text", text.String()).Msg("unparseable research answer")
		return nil, err
	}
	for _, chunk := range cand.GroundingMetadata.GroundingChunks {
		if chunk.Web.URI != "" {
			res.Sources = append(res.Sources, Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
		}
	}

	c.cacheMu.Lock()
	c.cache[key] = res
	c.cacheMu.Unlock()

	return res, nil
}

func prompt(query string) string {
	return `Find the licensed music used in "` + query + `".
Answer with JSON only, in this shape:
{"subject": string, "type": "film"|"tv"|"game"|"ad", "year": string, "imageUrl": string,
 "results": [{"title": string, "artist": string, "bpm": string, "genre": string,
              "description": string, "timestamp": string}]}
"description" says how the track is used in the scene. Use "" for unknown values.`
}

// doRequest posts body, retrying while the API reports a rate limit.
func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= len(c.delays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.delays[attempt-1]):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		raw, err := c.doSingleRequest(ctx, body)
		if err == nil {
			return raw, nil
		}
		if errors.Is(err, ErrRateLimited) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (c *Client) doSingleRequest(ctx context.Context, body []byte) ([]byte, error) {
	reqURL := c.baseURL + "/models/" + url.PathEscape(c.model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidAPIKey
	case resp.StatusCode >= 400:
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
			if apiErr.Error.Status == "INVALID_ARGUMENT" && strings.Contains(apiErr.Error.Message, "API key") {
				return nil, ErrInvalidAPIKey
			}
			return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error %d", resp.StatusCode)
	}
	return raw, nil
}
