// Package twitch implements the platform client for the Twitch Helix API.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/platform"
)

const (
	// DefaultAPIURL is the Helix base URL.
	DefaultAPIURL = "https://api.twitch.tv/helix"
	// DefaultAuthURL is the OAuth token endpoint.
	DefaultAuthURL = "https://id.twitch.tv/oauth2/token"
	// MaxBatchSize is the Helix limit on user_id parameters per request.
	MaxBatchSize = 100
)

// Config holds Twitch app credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	APIURL       string
	AuthURL      string
	HTTPClient   *http.Client
}

// Client looks up live streams through Helix using an app access token.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *platform.TokenCache
	logger *zap.Logger
}

// NewClient creates a Twitch client. The token cache is owned by the client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{cfg: cfg, http: hc, logger: logger}
	c.tokens = platform.NewTokenCache(platform.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.AuthURL,
	}, hc)
	return c
}

// Platform implements platform.Client.
func (c *Client) Platform() string { return models.PlatformTwitch }

// MaxBatchSize implements platform.Client.
func (c *Client) MaxBatchSize() int { return MaxBatchSize }

type stream struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	UserLogin   string `json:"user_login"`
	GameName    string `json:"game_name"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	ViewerCount *int   `json:"viewer_count"`
	StartedAt   string `json:"started_at"`
}

// Data is a pointer so a body without the key is told apart from an empty list.
type streamsResponse struct {
	Data *[]stream `json:"data"`
}

// CheckLive implements platform.Client using GET /streams?user_id=...
func (c *Client) CheckLive(ctx context.Context, ids []string) (map[string]platform.Verdict, error) {
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("twitch: batch of %d exceeds limit %d", len(ids), MaxBatchSize)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("user_id", id)
	}
	q.Set("first", fmt.Sprint(MaxBatchSize))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/streams?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create streams request: %w", err)
	}
	req.Header.Set("Client-Id", c.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)

	var out streamsResponse
	if err := platform.DoJSON(c.http, req, &out); err != nil {
		var se *platform.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return nil, fmt.Errorf("twitch streams: %w", err)
	}

	if out.Data == nil {
		return nil, fmt.Errorf("twitch streams: %w: no data list", platform.ErrMalformedResponse)
	}

	verdicts := make(map[string]platform.Verdict, len(ids))
	orphans := 0
	for _, s := range *out.Data {
		if s.UserID == "" {
			orphans++
			continue
		}
		if !slices.Contains(ids, s.UserID) {
			continue
		}
		verdicts[s.UserID] = toVerdict(s)
	}
	if orphans > 0 {
		c.logger.Warn("twitch stream entries without user_id", zap.Int("count", orphans))
	}
	return platform.FillUnattributed(verdicts, ids, orphans > 0), nil
}

func toVerdict(s stream) platform.Verdict {
	if s.ID == "" {
		return platform.Unknown("stream entry without id")
	}
	if s.Type != "" && s.Type != "live" {
		return platform.NotLive()
	}
	viewers := platform.FailedCount("viewer_count missing")
	if s.ViewerCount != nil {
		viewers = platform.Observed(*s.ViewerCount)
	}
	var started time.Time
	if s.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339, s.StartedAt); err == nil {
			started = t
		}
	}
	return platform.Live(platform.Stream{
		ExternalStreamID: s.ID,
		Viewers:          viewers,
		Title:            s.Title,
		Category:         s.GameName,
		StartedAt:        started,
	})
}
