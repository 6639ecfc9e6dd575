package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mindtune/api/internal/client"
	"github.com/mindtune/api/internal/model"
	"github.com/mindtune/api/internal/pipeline"
)

// TrackService answers track queries on behalf of a caller
type TrackService struct {
	tracks     client.TrackRepository
	locator    client.AudioLocator
	authorizer *pipeline.Authorizer
	urlExpiry  time.Duration
}

// NewTrackService creates a track service. locator may be nil, in which case
// only http(s) audio references are playable.
func NewTrackService(tracks client.TrackRepository, locator client.AudioLocator, authorizer *pipeline.Authorizer, urlExpiry time.Duration) *TrackService {
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	return &TrackService{
		tracks:     tracks,
		locator:    locator,
		authorizer: authorizer,
		urlExpiry:  urlExpiry,
	}
}

// ListByOwner returns every persisted track of ownerID
func (s *TrackService) ListByOwner(ctx context.Context, caller model.Caller, ownerID string) (*model.TrackListResponse, error) {
	if ownerID == "" {
		ownerID = caller.UserID
	}

	ctx = client.WithCredential(ctx, caller.Credential)
	if gerr := s.authorizer.Authorize(ctx, caller, ownerID); gerr != nil {
		return nil, gerr
	}

	tracks, err := s.tracks.ListTracksByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	if tracks == nil {
		tracks = []model.Track{}
	}
	return &model.TrackListResponse{Tracks: tracks, Total: len(tracks)}, nil
}

// BySession returns the track linked to a session
func (s *TrackService) BySession(ctx context.Context, caller model.Caller, sessionID int64) (*model.Track, error) {
	ctx = client.WithCredential(ctx, caller.Credential)

	track, err := s.tracks.GetTrackBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if gerr := s.authorizer.Authorize(ctx, caller, track.OwnerID); gerr != nil {
		return nil, client.ErrTrackNotFound
	}
	return track, nil
}

// Playback resolves a playable URL for a track's audio reference
func (s *TrackService) Playback(ctx context.Context, caller model.Caller, trackID int64) (*model.PlaybackResponse, error) {
	ctx = client.WithCredential(ctx, caller.Credential)

	track, err := s.tracks.GetTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if gerr := s.authorizer.Authorize(ctx, caller, track.OwnerID); gerr != nil {
		return nil, client.ErrTrackNotFound
	}

	resp := &model.PlaybackResponse{TrackID: track.TrackID}

	if key, ok := client.R2Key(track.AudioRef); ok {
		if s.locator == nil {
			return nil, fmt.Errorf("audio storage is not configured for %s", track.AudioRef)
		}
		url, err := s.locator.GetSignedURL(ctx, key, s.urlExpiry)
		if err != nil {
			// fall back to the public bucket URL
			resp.URL = s.locator.GetPublicURL(key)
			return resp, nil
		}
		expires := time.Now().Add(s.urlExpiry)
		resp.URL = url
		resp.ExpiresAt = &expires
		return resp, nil
	}

	if strings.HasPrefix(track.AudioRef, "https://") || strings.HasPrefix(track.AudioRef, "http://") {
		resp.URL = track.AudioRef
		return resp, nil
	}

	return nil, fmt.Errorf("unsupported audio reference %q", track.AudioRef)
}
