package platform

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenSkew is how long before expiry a cached token is considered stale.
const DefaultTokenSkew = 60 * time.Second

// Credentials identify an app against a platform's OAuth token endpoint.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// TokenCache holds one client-credentials app token for a client and refreshes it
// when it nears expiry. Concurrent callers share a single refresh.
type TokenCache struct {
	cfg  clientcredentials.Config
	hc   *http.Client
	skew time.Duration

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewTokenCache creates a cache that fetches tokens from creds.TokenURL through hc.
// Credentials are sent as form parameters, which both Twitch and Kick accept.
func NewTokenCache(creds Credentials, hc *http.Client) *TokenCache {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TokenCache{
		cfg: clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		hc:   hc,
		skew: DefaultTokenSkew,
	}
}

// fetchSource requests a new token on every call; caching is left to the reuse wrapper.
type fetchSource struct {
	cfg *clientcredentials.Config
	ctx context.Context
}

func (s fetchSource) Token() (*oauth2.Token, error) {
	return s.cfg.Token(s.ctx)
}

// Token returns a valid access token, fetching a new one if needed.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.src == nil {
		base := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, c.hc)
		c.src = oauth2.ReuseTokenSourceWithExpiry(nil, fetchSource{cfg: &c.cfg, ctx: base}, c.skew)
	}
	src := c.src
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after a 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.src = nil
	c.mu.Unlock()
}
