package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/model"
)

// ErrTrackNotFound is returned when the artifact store has no matching track
var ErrTrackNotFound = errors.New("track not found")

// TrackRepository defines the interface for track persistence and lookup
type TrackRepository interface {
	PersistTrack(ctx context.Context, track *model.Track) (int64, error)
	ListTracksByOwner(ctx context.Context, ownerID string) ([]model.Track, error)
	GetTrackBySession(ctx context.Context, sessionID int64) (*model.Track, error)
	GetTrack(ctx context.Context, trackID int64) (*model.Track, error)
}

// ArtifactClient implements TrackRepository against the artifact store
type ArtifactClient struct {
	restClient
}

type trackRecord struct {
	TrackID       int64     `json:"track_id,omitempty"`
	SessionID     int64     `json:"session_id"`
	OwnerID       string    `json:"owner_id"`
	Title         string    `json:"title"`
	Prompt        string    `json:"prompt"`
	TrackURL      string    `json:"track_url"`
	InitiatorType string    `json:"initiator_type"`
	HasDialog     bool      `json:"has_dialog"`
	DurationMs    int       `json:"duration_ms,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type persistResponse struct {
	TrackID   int64     `json:"track_id"`
	CreatedAt time.Time `json:"created_at"`
}

type trackListResponse struct {
	Tracks []trackRecord `json:"tracks"`
}

// NewArtifactClient creates a new artifact store client
func NewArtifactClient(cfg *config.ServiceConfig) *ArtifactClient {
	return &ArtifactClient{
		restClient: newRESTClient("Artifacts", cfg.BaseURL, time.Duration(cfg.Timeout)*time.Second),
	}
}

// PersistTrack stores the track and returns its assigned id. On success
// track.TrackID and track.CreatedAt are filled in.
func (c *ArtifactClient) PersistTrack(ctx context.Context, track *model.Track) (int64, error) {
	req := toRecord(track)

	var result persistResponse
	if err := c.post(ctx, "/tracks", req, &result); err != nil {
		return 0, err
	}

	if result.TrackID <= 0 {
		return 0, fmt.Errorf("%w: missing track_id", ErrMalformedResponse)
	}

	track.TrackID = result.TrackID
	track.CreatedAt = result.CreatedAt
	if track.CreatedAt.IsZero() {
		track.CreatedAt = time.Now()
	}
	return result.TrackID, nil
}

// ListTracksByOwner returns every track owned by ownerID
func (c *ArtifactClient) ListTracksByOwner(ctx context.Context, ownerID string) ([]model.Track, error) {
	var result trackListResponse
	if err := c.get(ctx, "/tracks?owner_id="+url.QueryEscape(ownerID), &result); err != nil {
		return nil, err
	}

	tracks := make([]model.Track, 0, len(result.Tracks))
	for i := range result.Tracks {
		tracks = append(tracks, fromRecord(&result.Tracks[i]))
	}
	return tracks, nil
}

// GetTrackBySession returns the track created for a session
func (c *ArtifactClient) GetTrackBySession(ctx context.Context, sessionID int64) (*model.Track, error) {
	var result trackListResponse
	if err := c.get(ctx, fmt.Sprintf("/tracks?session_id=%d", sessionID), &result); err != nil {
		return nil, notFound(err)
	}
	if len(result.Tracks) == 0 {
		return nil, ErrTrackNotFound
	}

	track := fromRecord(&result.Tracks[0])
	return &track, nil
}

// GetTrack returns a single track by id
func (c *ArtifactClient) GetTrack(ctx context.Context, trackID int64) (*model.Track, error) {
	var result trackRecord
	if err := c.get(ctx, fmt.Sprintf("/tracks/%d", trackID), &result); err != nil {
		return nil, notFound(err)
	}

	track := fromRecord(&result)
	return &track, nil
}

func notFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return ErrTrackNotFound
	}
	return err
}

func toRecord(t *model.Track) *trackRecord {
	return &trackRecord{
		SessionID:     t.SessionID,
		OwnerID:       t.OwnerID,
		Title:         t.Title,
		Prompt:        t.Prompt,
		TrackURL:      t.AudioRef,
		InitiatorType: string(t.InitiatorType),
		HasDialog:     t.HasDialog,
		DurationMs:    t.DurationMs,
	}
}

func fromRecord(r *trackRecord) model.Track {
	return model.Track{
		TrackID:       r.TrackID,
		SessionID:     r.SessionID,
		OwnerID:       r.OwnerID,
		Title:         r.Title,
		Prompt:        r.Prompt,
		AudioRef:      r.TrackURL,
		InitiatorType: model.InitiatorType(r.InitiatorType),
		HasDialog:     r.HasDialog,
		DurationMs:    r.DurationMs,
		CreatedAt:     r.CreatedAt,
	}
}
