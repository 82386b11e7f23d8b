package kick

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinypull/backend/internal/platform"
)

func TestCheckLive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"kick-token","expires_in":3600}`))
	})
	mux.HandleFunc("/public/v1/livestreams", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer kick-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[
			{"broadcaster_user_id":10,"stream_title":"late night","category":{"name":"Just Chatting"},"started_at":"2026-10-16T01:02:03Z","viewer_count":42},
			{"broadcaster_user_id":11,"stream_title":"broken","started_at":"yesterday","viewer_count":3}
		],"message":"OK"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		APIURL:       srv.URL + "/public/v1",
		AuthURL:      srv.URL + "/oauth/token",
	}, nil)

	verdicts, err := client.CheckLive(context.Background(), []string{"10", "11", "12"})
	require.NoError(t, err)

	live := verdicts["10"]
	require.True(t, live.IsLive())
	assert.Equal(t, "10:1792112523", live.Stream.ExternalStreamID)
	assert.Equal(t, "Just Chatting", live.Stream.Category)
	n, ok := live.Stream.Viewers.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	assert.Equal(t, platform.StatusUnknown, verdicts["11"].Status)
	assert.Equal(t, platform.StatusNotLive, verdicts["12"].Status)
}

func TestCheckLive_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"kick-token","expires_in":3600}`))
	})
	mux.HandleFunc("/public/v1/livestreams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(Config{APIURL: srv.URL + "/public/v1", AuthURL: srv.URL + "/oauth/token"}, nil)
	_, err := client.CheckLive(context.Background(), []string{"10"})
	var se *platform.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

func newLivestreamsClient(t *testing.T, body string) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"kick-token","expires_in":3600}`))
	})
	mux.HandleFunc("/public/v1/livestreams", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIURL: srv.URL + "/public/v1", AuthURL: srv.URL + "/oauth/token"}, nil)
}

func TestCheckLive_BodyWithoutDataFailsBatch(t *testing.T) {
	for name, body := range map[string]string{
		"error message": `{"message":"Internal error"}`,
		"null data":     `{"data":null}`,
		"empty object":  `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			verdicts, err := newLivestreamsClient(t, body).CheckLive(context.Background(), []string{"10", "11"})
			assert.ErrorIs(t, err, platform.ErrMalformedResponse)
			assert.Nil(t, verdicts)
		})
	}
}

func TestCheckLive_EntryWithoutOwnerMakesRestUnknown(t *testing.T) {
	client := newLivestreamsClient(t, `{"data":[
		{"broadcaster_user_id":10,"started_at":"2026-10-16T01:02:03Z","viewer_count":5},
		{"stream_title":"whose?","started_at":"2026-10-16T01:02:03Z","viewer_count":7}
	]}`)

	verdicts, err := client.CheckLive(context.Background(), []string{"10", "11", "12"})
	require.NoError(t, err)
	assert.True(t, verdicts["10"].IsLive())
	assert.Equal(t, platform.StatusUnknown, verdicts["11"].Status)
	assert.Equal(t, platform.StatusUnknown, verdicts["12"].Status)
}

func TestCheckLive_EmptyListIsNotLive(t *testing.T) {
	verdicts, err := newLivestreamsClient(t, `{"data":[]}`).CheckLive(context.Background(), []string{"10"})
	require.NoError(t, err)
	assert.Equal(t, platform.StatusNotLive, verdicts["10"].Status)
}
