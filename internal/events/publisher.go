// Package events publishes session lifecycle events to Redis pub/sub so other
// services can react to a creator going live or offline.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "creator:"
	publishTimeout = 5 * time.Second
)

// Event names.
const (
	SessionOpened = "session.opened"
	SessionClosed = "session.closed"
)

// SessionEvent is the data carried by session.opened and session.closed.
type SessionEvent struct {
	SessionID        uuid.UUID `json:"session_id"`
	CreatorID        uuid.UUID `json:"creator_id"`
	Platform         string    `json:"platform"`
	ExternalStreamID string    `json:"external_stream_id"`
	Title            string    `json:"title,omitempty"`
	Category         string    `json:"category,omitempty"`
	HoursWatched     float64   `json:"hours_watched,omitempty"`
	PeakViewers      int       `json:"peak_viewers,omitempty"`
}

// envelope is the message written to the channel.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// Publisher sends session events to creator:<id> channels.
type Publisher interface {
	Publish(ctx context.Context, event string, data SessionEvent) error
}

// RedisPublisher implements Publisher using Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisPublisher creates a Redis-backed publisher.
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger, now: time.Now}
}

// Channel returns the pub/sub channel for a creator.
func Channel(creatorID uuid.UUID) string {
	return channelPrefix + creatorID.String()
}

// Publish marshals the event and publishes it on the creator's channel.
func (p *RedisPublisher) Publish(ctx context.Context, event string, data SessionEvent) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	body, err := json.Marshal(envelope{Event: event, Data: raw, At: p.now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, Channel(data.CreatorID), body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	p.logger.Debug("session event published", zap.String("event", event), zap.String("creator_id", data.CreatorID.String()))
	return nil
}

// Subscribe listens on a creator's channel and calls handler for each event until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, creatorID uuid.UUID, handler func(event string, data SessionEvent)) error {
	pubsub := client.Subscribe(ctx, Channel(creatorID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			var data SessionEvent
			if err := json.Unmarshal(env.Data, &data); err != nil {
				continue
			}
			handler(env.Event, data)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, string, SessionEvent) error { return nil }
