// Package spotify resolves artist profile links with the Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"net/http"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrMissingCredentials is returned when the client ID or secret is not set.
var ErrMissingCredentials = errors.New("missing Spotify client ID or secret")

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

type options struct {
	baseURL    string
	tokenURL   string
	httpClient *http.Client
}

// Option configures NewWithCredentials.
type Option func(*options)

// WithBaseURL points API calls at another endpoint. The URL must end in "/".
func WithBaseURL(u string) Option {
	return func(o *options) {
		o.baseURL = u
	}
}

// WithTokenURL sets the client-credentials token endpoint.
func WithTokenURL(u string) Option {
	return func(o *options) {
		o.tokenURL = u
	}
}

// WithHTTPClient sets the transport used for token and API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// NewWithCredentials creates a client authenticated with the client
// credentials flow. Tokens are fetched lazily and refreshed by oauth2.
func NewWithCredentials(ctx context.Context, clientID, clientSecret string, opts ...Option) (*Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	o := options{tokenURL: spotifyauth.TokenURL}
	for _, opt := range opts {
		opt(&o)
	}

	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     o.tokenURL,
	}

	var clientOpts []spotify.ClientOption
	if o.baseURL != "" {
		clientOpts = append(clientOpts, spotify.WithBaseURL(o.baseURL))
	}
	return New(spotify.New(cfg.Client(ctx), clientOpts...)), nil
}
