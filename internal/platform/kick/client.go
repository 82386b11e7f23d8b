// Package kick implements the platform client for the Kick public API.
package kick

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/platform"
)

const (
	DefaultAPIURL  = "https://api.kick.com/public/v1"
	DefaultAuthURL = "https://id.kick.com/oauth/token"
	MaxBatchSize   = 50
)

// Config holds Kick app credentials and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	APIURL       string
	AuthURL      string
	HTTPClient   *http.Client
}

// Client looks up live streams through GET /livestreams.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *platform.TokenCache
	logger *zap.Logger
}

// NewClient creates a Kick client.
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

func (c *Client) Platform() string  { return models.PlatformKick }
func (c *Client) MaxBatchSize() int { return MaxBatchSize }

type category struct {
	Name string `json:"name"`
}

type livestream struct {
	BroadcasterUserID *int64    `json:"broadcaster_user_id"`
	Slug              string    `json:"slug"`
	StreamTitle       string    `json:"stream_title"`
	Category          *category `json:"category"`
	StartedAt         string    `json:"started_at"`
	ViewerCount       *int      `json:"viewer_count"`
}

// Data is a pointer so a body without the key is told apart from an empty list.
type livestreamsResponse struct {
	Data *[]livestream `json:"data"`
}

// CheckLive implements platform.Client. Kick does not expose a stream id, so the broadcast
// is identified by broadcaster id plus start time, which is stable for one broadcast.
func (c *Client) CheckLive(ctx context.Context, ids []string) (map[string]platform.Verdict, error) {
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("kick: batch of %d exceeds limit %d", len(ids), MaxBatchSize)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("broadcaster_user_id", id)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/livestreams?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create livestreams request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	var out livestreamsResponse
	if err := platform.DoJSON(c.http, req, &out); err != nil {
		var se *platform.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return nil, fmt.Errorf("kick livestreams: %w", err)
	}

	if out.Data == nil {
		return nil, fmt.Errorf("kick livestreams: %w: no data list", platform.ErrMalformedResponse)
	}

	verdicts := make(map[string]platform.Verdict, len(ids))
	orphans := 0
	for _, ls := range *out.Data {
		if ls.BroadcasterUserID == nil {
			orphans++
			continue
		}
		id := strconv.FormatInt(*ls.BroadcasterUserID, 10)
		if !slices.Contains(ids, id) {
			continue
		}
		verdicts[id] = toVerdict(id, ls)
	}
	if orphans > 0 {
		c.logger.Warn("kick livestream entries without broadcaster_user_id", zap.Int("count", orphans))
	}
	return platform.FillUnattributed(verdicts, ids, orphans > 0), nil
}

func toVerdict(id string, ls livestream) platform.Verdict {
	started, err := time.Parse(time.RFC3339, ls.StartedAt)
	if err != nil {
		return platform.Unknownf("unparseable started_at %q", ls.StartedAt)
	}
	viewers := platform.FailedCount("viewer_count missing")
	if ls.ViewerCount != nil {
		viewers = platform.Observed(*ls.ViewerCount)
	}
	var cat string
	if ls.Category != nil {
		cat = ls.Category.Name
	}
	return platform.Live(platform.Stream{
		ExternalStreamID: id + ":" + strconv.FormatInt(started.Unix(), 10),
		Viewers:          viewers,
		Title:            ls.StreamTitle,
		Category:         cat,
		StartedAt:        started,
	})
}
