package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/model"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestRegistryClient_CreateSession(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "Bearer caller-token", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "patient-1", body["owner_id"])
		assert.Equal(t, "patient", body["initiator_type"])
		assert.Equal(t, true, body["has_dialog"])

		w.Write([]byte(`{"session_id": 42, "created_at": "2026-01-02T03:04:05Z"}`))
	})

	c := NewRegistryClient(&config.ServiceConfig{BaseURL: srv.URL, Timeout: 5})
	ctx := WithCredential(context.Background(), "caller-token")

	session, err := c.CreateSession(ctx, "patient-1", model.InitiatorPatient, true)
	require.NoError(t, err)
	assert.Equal(t, int64(42), session.SessionID)
	assert.Equal(t, "patient-1", session.OwnerID)
	assert.Equal(t, 2026, session.CreatedAt.Year())
}

func TestRegistryClient_NonSuccessIsAPIError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail":"down"}`))
	})

	c := NewRegistryClient(&config.ServiceConfig{BaseURL: srv.URL, Timeout: 5})
	_, err := c.CreateSession(context.Background(), "p", model.InitiatorPatient, false)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "Registry", apiErr.Service)
}

func TestRegistryClient_MissingSessionID(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	c := NewRegistryClient(&config.ServiceConfig{BaseURL: srv.URL, Timeout: 5})
	_, err := c.CreateSession(context.Background(), "p", model.InitiatorPatient, false)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestPromptClient_Synthesize(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/7/prompt", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body struct {
			Guideline model.Guideline `json:"guideline"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"Piano"}, body.Guideline.PreferredGenres)

		w.Write([]byte(`{"session_id": 7, "prompt_text": "  calm piano at 80 BPM  "}`))
	})

	c := NewPromptClient(&config.PromptConfig{BaseURL: srv.URL, Timeout: 5})
	ctx := WithCredential(context.Background(), "tok")

	prompt, err := c.Synthesize(ctx, 7, &model.Guideline{PreferredGenres: []string{"Piano"}})
	require.NoError(t, err)
	assert.Equal(t, "calm piano at 80 BPM", prompt)
}

func TestPromptClient_MalformedBody(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	c := NewPromptClient(&config.PromptConfig{BaseURL: srv.URL, Timeout: 5})
	_, err := c.Synthesize(context.Background(), 1, &model.Guideline{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestComposerClient_Compose(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/compose", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(120000), body["music_length_ms"])
		assert.Equal(t, true, body["force_instrumental"])
		assert.Equal(t, "calm piano", body["prompt"])

		w.Write([]byte(`{"session_id": 3, "track_url": "r2://tracks/3.mp3"}`))
	})

	c := NewComposerClient(&config.ServiceConfig{BaseURL: srv.URL, Timeout: 5})
	ref, err := c.Compose(context.Background(), 3, "calm piano", model.RenderConstraints{DurationMs: 120000, ForceInstrumental: true})
	require.NoError(t, err)
	assert.Equal(t, "r2://tracks/3.mp3", ref)
}

func TestComposerClient_MissingTrackURL(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"session_id": 3}`))
	})

	c := NewComposerClient(&config.ServiceConfig{BaseURL: srv.URL, Timeout: 5})
	ref, err := c.Compose(context.Background(), 3, "p", model.RenderConstraints{DurationMs: 10000})
	require.NoError(t, err)
	assert.Empty(t, ref)
}

func TestArtifactClient_PersistAndQuery(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tracks":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "r2://a.mp3", body["track_url"])
			assert.Equal(t, float64(9), body["session_id"])
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"track_id": 101, "created_at": "2026-05-01T00:00:00Z"}`))
		case r.Method == http.MethodGet && r.URL.Query().Get("owner_id") == "p1":
			w.Write([]byte(`{"tracks":[{"track_id":101,"session_id":9,"owner_id":"p1","track_url":"r2://a.mp3"}]}`))
		case r.Method == http.MethodGet && r.URL.Query().Get("session_id") == "9":
			w.Write([]byte(`{"tracks":[{"track_id":101,"session_id":9,"owner_id":"p1","track_url":"r2://a.mp3"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/tracks/404":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte(`{"tracks":[]}`))
		}
	})

	c := NewArtifactClient(&config.ServiceConfig{BaseURL: srv.URL, Timeout: 5})
	ctx := context.Background()

	track := &model.Track{SessionID: 9, OwnerID: "p1", AudioRef: "r2://a.mp3"}
	id, err := c.PersistTrack(ctx, track)
	require.NoError(t, err)
	assert.Equal(t, int64(101), id)
	assert.Equal(t, int64(101), track.TrackID)
	assert.False(t, track.CreatedAt.IsZero())

	tracks, err := c.ListTracksByOwner(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "r2://a.mp3", tracks[0].AudioRef)

	bySession, err := c.GetTrackBySession(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(101), bySession.TrackID)

	_, err = c.GetTrackBySession(ctx, 10)
	assert.ErrorIs(t, err, ErrTrackNotFound)

	_, err = c.GetTrack(ctx, 404)
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestConnectionClient_Status(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connections", r.URL.Path)
		if r.URL.Query().Get("patient_id") == "unknown" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "c1", r.URL.Query().Get("therapist_id"))
		w.Write([]byte(`{"status":"accepted"}`))
	})

	c := NewConnectionClient(&config.ServiceConfig{BaseURL: srv.URL, Timeout: 5})

	status, err := c.ConnectionStatus(context.Background(), "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionAccepted, status)

	status, err = c.ConnectionStatus(context.Background(), "c1", "unknown")
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionNone, status)
}

func TestCredentialNotSentWhenAbsent(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":"PENDING"}`))
	})

	c := NewConnectionClient(&config.ServiceConfig{BaseURL: srv.URL, Timeout: 5})
	status, err := c.ConnectionStatus(context.Background(), "c", "p")
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionPending, status)
}

func TestR2Key(t *testing.T) {
	key, ok := R2Key("r2://tracks/1.mp3")
	assert.True(t, ok)
	assert.Equal(t, "tracks/1.mp3", key)

	_, ok = R2Key("https://cdn.example.com/1.mp3")
	assert.False(t, ok)

	_, ok = R2Key("r2://")
	assert.False(t, ok)
}
