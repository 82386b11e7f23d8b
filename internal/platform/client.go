package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

var (
	// ErrUnsupportedPlatform is returned when no client is registered for a platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrMalformedResponse is returned for a 2xx body that does not carry a data list.
	ErrMalformedResponse = errors.New("malformed platform response")
)

// Client looks up live status for batches of platform identifiers.
//
// CheckLive returns an error only when the whole batch failed (transport, auth, 5xx, 429,
// or a body without its data list). Identifiers whose entry was malformed come back as
// Unknown. Identifiers missing from a well-formed response are NotLive, unless the response
// holds an entry that names no owner, in which case every unattributed identifier is Unknown.
type Client interface {
	Platform() string
	MaxBatchSize() int
	CheckLive(ctx context.Context, ids []string) (map[string]Verdict, error)
}

// Clients maps platform names to clients.
type Clients map[string]Client

// NewClients registers the given clients by their platform name.
func NewClients(clients ...Client) Clients {
	out := make(Clients, len(clients))
	for _, c := range clients {
		if c != nil {
			out[c.Platform()] = c
		}
	}
	return out
}

// Get returns the client for platform or ErrUnsupportedPlatform.
func (c Clients) Get(platform string) (Client, error) {
	client, ok := c[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return client, nil
}

// Names returns the registered platform names, sorted.
func (c Clients) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusError is a non-2xx response from a platform API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient: 5xx, rate limited, or an expired
// token (the client invalidates its token before returning a 401).
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusUnauthorized
}
