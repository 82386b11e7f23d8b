// Package archive writes the raw samples of finalized sessions to object storage
// as JSON lines, one object per session.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/models"
)

const (
	folderSamples = "samples"
	contentType   = "application/x-ndjson"
)

// ObjectStore is the subset of storage.S3 the archiver needs.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// Key returns the object key: samples/{creator_id}/{session_id}.jsonl.
func Key(creatorID, sessionID uuid.UUID) string {
	return path.Join(folderSamples, creatorID.String(), sessionID.String()+".jsonl")
}

type line struct {
	ViewerCount int    `json:"viewer_count"`
	RecordedAt  string `json:"recorded_at"`
	Category    string `json:"category,omitempty"`
}

// Archiver uploads sample series. A nil *Archiver is valid and does nothing.
type Archiver struct {
	store  ObjectStore
	logger *zap.Logger
}

// NewArchiver creates an archiver backed by store.
func NewArchiver(store ObjectStore, logger *zap.Logger) *Archiver {
	return &Archiver{store: store, logger: logger}
}

// Archive uploads the samples of a finalized session. Re-archiving overwrites the object.
func (a *Archiver) Archive(ctx context.Context, session *models.StreamSession, samples []models.Sample) error {
	if a == nil || len(samples) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range samples {
		if err := enc.Encode(line{
			ViewerCount: s.ViewerCount,
			RecordedAt:  s.RecordedAt.UTC().Format(time.RFC3339),
			Category:    s.Category,
		}); err != nil {
			return fmt.Errorf("encode sample: %w", err)
		}
	}
	key := Key(session.CreatorID, session.ID)
	if err := a.store.Put(ctx, key, contentType, &buf); err != nil {
		return err
	}
	a.logger.Debug("samples archived", zap.String("key", key), zap.Int("samples", len(samples)))
	return nil
}
