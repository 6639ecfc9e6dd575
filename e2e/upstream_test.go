package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// upstream fakes every collaborator the pipeline talks to behind one server.
// Failure knobs are read under the lock on each request.
type upstream struct {
	server *httptest.Server

	mu              sync.Mutex
	nextSession     int64
	nextTrack       int64
	tracks          map[int64]map[string]interface{}
	connections     map[string]string
	audioURL        string
	promptFailures  int
	composeStatus   int
	persistStatus   int
	sessionCalls    int
	promptCalls     int
	composeCalls    int
	persistCalls    int
	lastCompose     map[string]interface{}
	lastCredentials []string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{
		nextSession: 100,
		nextTrack:   500,
		tracks:      make(map[int64]map[string]interface{}),
		connections: make(map[string]string),
		audioURL:    "https://cdn.example.com/audio/track.mp3",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", u.createSession)
	mux.HandleFunc("POST /sessions/{id}/prompt", u.synthesize)
	mux.HandleFunc("POST /compose", u.compose)
	mux.HandleFunc("POST /tracks", u.persist)
	mux.HandleFunc("GET /tracks", u.listTracks)
	mux.HandleFunc("GET /tracks/{id}", u.getTrack)
	mux.HandleFunc("GET /connections", u.connection)

	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) URL() string {
	return u.server.URL
}

func (u *upstream) connect(counselorID, patientID, status string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.connections[counselorID+"|"+patientID] = status
}

func (u *upstream) set(fn func(u *upstream)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fn(u)
}

func (u *upstream) calls() (session, prompt, compose, persist int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessionCalls, u.promptCalls, u.composeCalls, u.persistCalls
}

func (u *upstream) composed() map[string]interface{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastCompose
}

func (u *upstream) record(r *http.Request) {
	u.lastCredentials = append(u.lastCredentials, r.Header.Get("Authorization"))
}

func (u *upstream) createSession(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.record(r)
	u.sessionCalls++
	u.nextSession++

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": u.nextSession,
		"created_at": time.Now().UTC(),
	})
}

func (u *upstream) synthesize(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.record(r)
	u.promptCalls++

	if u.promptFailures != 0 {
		if u.promptFailures > 0 {
			u.promptFailures--
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "model overloaded"})
		return
	}

	sessionID, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":  sessionID,
		"prompt_text": "calm solo piano, 72 BPM, C major, no vocals, two minutes",
	})
}

func (u *upstream) compose(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.record(r)
	u.composeCalls++

	if u.composeStatus != 0 {
		writeJSON(w, u.composeStatus, map[string]string{"detail": "render failed"})
		return
	}

	var req map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&req)
	u.lastCompose = req
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": req["session_id"],
		"track_url":  u.audioURL,
	})
}

func (u *upstream) persist(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.record(r)
	u.persistCalls++

	if u.persistStatus != 0 {
		writeJSON(w, u.persistStatus, map[string]string{"detail": "database unavailable"})
		return
	}

	var rec map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	u.nextTrack++
	now := time.Now().UTC()
	rec["track_id"] = u.nextTrack
	rec["created_at"] = now
	u.tracks[u.nextTrack] = rec

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"track_id":   u.nextTrack,
		"created_at": now,
	})
}

func (u *upstream) listTracks(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()

	ownerID := r.URL.Query().Get("owner_id")
	sessionID := r.URL.Query().Get("session_id")

	tracks := make([]map[string]interface{}, 0)
	for _, rec := range u.tracks {
		if ownerID != "" && rec["owner_id"] != ownerID {
			continue
		}
		if sessionID != "" && fmt.Sprint(rec["session_id"]) != sessionID {
			continue
		}
		tracks = append(tracks, rec)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
}

func (u *upstream) getTrack(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()

	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	rec, ok := u.tracks[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (u *upstream) connection(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()

	key := r.URL.Query().Get("therapist_id") + "|" + r.URL.Query().Get("patient_id")
	status, ok := u.connections[key]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "no connection"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
