package events

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins; the token gates access
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string       `json:"event"`
	Data  SessionEvent `json:"data"`
}

// TokenValidator checks an API token.
type TokenValidator func(token string) error

// Feed streams one creator's session events to a WebSocket client.
type Feed struct {
	client   *redis.Client
	validate TokenValidator
	logger   *zap.Logger
}

// NewFeed creates a feed reading from the creator channels on client.
func NewFeed(client *redis.Client, validate TokenValidator, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{client: client, validate: validate, logger: logger}
}

// Serve handles GET /creators/:id/events. Browsers cannot set headers on a WebSocket
// handshake, so the token may also come in ?token=.
func (f *Feed) Serve(c *gin.Context) {
	creatorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid creator id"})
		return
	}
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" || f.validate(token) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or missing token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	log := f.logger.With(zap.String("creator_id", creatorID.String()))
	log.Debug("event feed connected")

	ctx, cancel := context.WithCancel(context.Background())
	send := make(chan WSMessage, sendBuffer)
	go func() {
		err := Subscribe(ctx, f.client, creatorID, func(event string, data SessionEvent) {
			select {
			case send <- WSMessage{Event: event, Data: data}:
			default:
				log.Warn("event feed client too slow, dropping event", zap.String("event", event))
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("event feed subscription ended", zap.Error(err))
		}
		cancel()
	}()
	go writePump(ctx, conn, send)
	readPump(conn)
	cancel()
	log.Debug("event feed disconnected")
}

// readPump discards client messages and returns when the connection dies.
func readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, send <-chan WSMessage) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
