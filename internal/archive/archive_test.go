package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/streams"
)

type fakeStore struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeStore) Put(_ context.Context, key, ct string, body io.Reader) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = b
	f.types[key] = ct
	return nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string) (string, error) {
	return "https://bucket.example/" + key + "?sig=1", nil
}

func TestArchiveWritesJSONLines(t *testing.T) {
	store := newFakeStore()
	a := NewArchiver(store, zap.NewNop())
	session := &models.StreamSession{ID: uuid.New(), CreatorID: uuid.New()}
	t0 := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	samples := []models.Sample{
		{SessionID: session.ID, ViewerCount: 100, RecordedAt: t0, Category: "Chess"},
		{SessionID: session.ID, ViewerCount: 200, RecordedAt: t0.Add(5 * time.Minute)},
	}

	require.NoError(t, a.Archive(context.Background(), session, samples))

	key := Key(session.CreatorID, session.ID)
	assert.Equal(t, "samples/"+session.CreatorID.String()+"/"+session.ID.String()+".jsonl", key)
	assert.Equal(t, contentType, store.types[key])

	sc := bufio.NewScanner(bytes.NewReader(store.objects[key]))
	var got []line
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		got = append(got, l)
	}
	require.Len(t, got, 2)
	assert.Equal(t, line{ViewerCount: 100, RecordedAt: "2026-10-01T12:00:00Z", Category: "Chess"}, got[0])
	assert.Equal(t, 200, got[1].ViewerCount)
}

func TestArchiveNilAndEmpty(t *testing.T) {
	var a *Archiver
	assert.NoError(t, a.Archive(context.Background(), &models.StreamSession{}, []models.Sample{{ViewerCount: 1}}))

	store := newFakeStore()
	assert.NoError(t, NewArchiver(store, zap.NewNop()).Archive(context.Background(), &models.StreamSession{}, nil))
	assert.Empty(t, store.objects)
}

func TestHandlerGetURL(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := streams.NewMemoryRepository()
	session := models.StreamSession{ID: uuid.New(), CreatorID: uuid.New()}
	repo.Put(session)
	store := newFakeStore()

	r := gin.New()
	r.GET("/sessions/:id/archive", NewHandler(repo, store).GetURL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+session.ID.String()+"/archive", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	store.objects[Key(session.CreatorID, session.ID)] = []byte("{}\n")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+session.ID.String()+"/archive", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sig=1")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.NewString()+"/archive", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/nope/archive", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
