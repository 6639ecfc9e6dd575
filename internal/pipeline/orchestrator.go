// Package pipeline drives one generation request through session creation,
// prompt synthesis, audio composition and persistence, in that order, and
// reports failures as a single typed error.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/mindtune/api/internal/client"
	"github.com/mindtune/api/internal/logger"
	"github.com/mindtune/api/internal/model"
)

// SessionRegistry creates the session that anchors a generation
type SessionRegistry interface {
	CreateSession(ctx context.Context, ownerID string, initiator model.InitiatorType, hasDialog bool) (*model.Session, error)
}

// PromptSynthesizer turns a guideline into a text prompt
type PromptSynthesizer interface {
	Synthesize(ctx context.Context, sessionID int64, guideline *model.Guideline) (string, error)
}

// AudioComposer renders audio for a prompt and returns its reference
type AudioComposer interface {
	Compose(ctx context.Context, sessionID int64, prompt string, constraints model.RenderConstraints) (string, error)
}

// ArtifactStore persists finished tracks
type ArtifactStore interface {
	PersistTrack(ctx context.Context, track *model.Track) (int64, error)
}

// ConnectionDirectory reports counselor/patient links
type ConnectionDirectory interface {
	ConnectionStatus(ctx context.Context, counselorID, patientID string) (model.ConnectionStatus, error)
}

// Observer is told about every state change. Implementations must not block
// for long and handle their own errors.
type Observer interface {
	OnTransition(ctx context.Context, run Run)
}

// OrphanHandler receives the result of a composition whose caller went away
type OrphanHandler interface {
	OnOrphanedAudio(ctx context.Context, run Run, audioRef string, err error)
}

// Submitter runs a generation request to completion
type Submitter interface {
	Submit(ctx context.Context, req *model.GenerationRequest) (*model.Track, error)
}

// Config wires an Orchestrator. Registry, Prompts, Composer and Artifacts
// are required.
type Config struct {
	Registry    SessionRegistry
	Prompts     PromptSynthesizer
	Composer    AudioComposer
	Artifacts   ArtifactStore
	Connections ConnectionDirectory

	Validate  *validator.Validate
	Ledger    RequestLedger
	Observers []Observer
	Orphans   OrphanHandler

	Retry          RetryPolicy
	ComposeTimeout time.Duration
}

// Orchestrator is the generation saga
type Orchestrator struct {
	registry   SessionRegistry
	prompts    PromptSynthesizer
	composer   AudioComposer
	artifacts  ArtifactStore
	authorizer *Authorizer

	validate  *validator.Validate
	ledger    RequestLedger
	observers []Observer
	orphans   OrphanHandler

	retry          RetryPolicy
	composeTimeout time.Duration
	now            func() time.Time
}

func New(cfg Config) *Orchestrator {
	v := cfg.Validate
	if v == nil {
		v = validator.New()
		RegisterValidations(v)
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger(24 * time.Hour)
	}
	retryPolicy := cfg.Retry
	if retryPolicy.MaxAttempts == 0 {
		retryPolicy = DefaultRetryPolicy()
	}

	return &Orchestrator{
		registry:       cfg.Registry,
		prompts:        cfg.Prompts,
		composer:       cfg.Composer,
		artifacts:      cfg.Artifacts,
		authorizer:     NewAuthorizer(cfg.Connections),
		validate:       v,
		ledger:         ledger,
		observers:      cfg.Observers,
		orphans:        cfg.Orphans,
		retry:          retryPolicy,
		composeTimeout: cfg.ComposeTimeout,
		now:            time.Now,
	}
}

// Submit runs req through every stage. On failure the returned error is a
// *GenerationError carrying the failing stage and any partial output.
func (o *Orchestrator) Submit(ctx context.Context, req *model.GenerationRequest) (*model.Track, error) {
	if req == nil {
		return nil, invalidRequest("request is required", nil)
	}

	r := *req
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	r.InitiatorType = initiatorFor(&r)
	r.ApplyGuidelineDefaults()

	now := o.now()
	run := &Run{
		ID:            ulid.Make().String(),
		RequestID:     r.RequestID,
		OwnerID:       r.OwnerID,
		CallerID:      r.Caller.UserID,
		InitiatorType: r.InitiatorType,
		HasDialog:     r.HasDialog,
		State:         model.StateValidating,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	// Observers outlive the caller so history is complete even after a cancel.
	notifyCtx := context.WithoutCancel(ctx)
	o.notify(notifyCtx, run)

	if gerr := validateRequest(o.validate, &r); gerr != nil {
		return nil, o.fail(notifyCtx, run, gerr)
	}

	ctx = client.WithCredential(ctx, r.Caller.Credential)

	if gerr := o.authorizer.Authorize(ctx, r.Caller, r.OwnerID); gerr != nil {
		return nil, o.fail(notifyCtx, run, gerr)
	}

	claimed, err := o.ledger.Claim(ctx, r.RequestID)
	if err != nil {
		return nil, o.fail(notifyCtx, run, newError(model.StageValidating, model.ErrorUnavailable, err, "request ledger unavailable"))
	}
	if !claimed {
		return nil, o.fail(notifyCtx, run, invalidRequest("request already submitted", nil))
	}

	// Stage 1
	session, err := o.registry.CreateSession(ctx, r.OwnerID, r.InitiatorType, r.HasDialog)
	if err != nil {
		return nil, o.fail(notifyCtx, run, newError(model.StageCreateSession,
			classify(model.StageCreateSession, err), err, "failed to create session"))
	}
	run.Session = session
	if err := o.transition(notifyCtx, run, model.StateSessionCreated, model.StageCreateSession); err != nil {
		return nil, err
	}

	// Stage 2
	promptText, err := o.synthesize(ctx, session.SessionID, &r.Guideline)
	if err != nil {
		return nil, o.fail(notifyCtx, run, newError(model.StageSynthesizePrompt,
			classify(model.StageSynthesizePrompt, err), err, "failed to synthesize prompt"))
	}
	run.Prompt = &model.PromptArtifact{
		SessionID: session.SessionID,
		Text:      promptText,
		Guideline: r.Guideline,
	}
	if err := o.transition(notifyCtx, run, model.StatePromptReady, model.StageSynthesizePrompt); err != nil {
		return nil, err
	}

	// Stage 3
	audioRef, err := o.compose(ctx, run, promptText, r.RenderConstraints)
	if err != nil {
		return nil, o.fail(notifyCtx, run, newError(model.StageComposeAudio,
			classify(model.StageComposeAudio, err), err, "failed to compose audio"))
	}
	if audioRef == "" {
		return nil, o.fail(notifyCtx, run, newError(model.StageComposeAudio,
			model.ErrorInvalidAudioResult, nil, "composer returned no audio reference"))
	}
	run.AudioRef = audioRef
	if err := o.transition(notifyCtx, run, model.StateAudioReady, model.StageComposeAudio); err != nil {
		return nil, err
	}

	// Stage 4
	track := &model.Track{
		SessionID:     session.SessionID,
		OwnerID:       r.OwnerID,
		Title:         deriveTitle(r.Title, r.OwnerName, r.OwnerID, r.InitiatorType, session.SessionID),
		Prompt:        promptText,
		AudioRef:      audioRef,
		InitiatorType: r.InitiatorType,
		HasDialog:     r.HasDialog,
		DurationMs:    r.RenderConstraints.DurationMs,
	}
	if _, err := o.artifacts.PersistTrack(ctx, track); err != nil {
		return nil, o.fail(notifyCtx, run, newError(model.StagePersist,
			classify(model.StagePersist, err), err, "failed to persist track"))
	}
	run.Track = track
	if err := o.transition(notifyCtx, run, model.StatePersisted, model.StagePersist); err != nil {
		return nil, err
	}

	logger.Info("generation persisted", logger.Fields{
		"request_id": run.RequestID,
		"owner_id":   run.OwnerID,
		"session_id": session.SessionID,
		"track_id":   track.TrackID,
		"duration":   o.now().Sub(run.StartedAt).String(),
	})
	return track, nil
}

// Repair re-attempts only the persistence stage from a preserved audio
// reference. Nothing upstream is re-run.
func (o *Orchestrator) Repair(ctx context.Context, req *model.RepairRequest) (*model.Track, error) {
	if req == nil {
		return nil, invalidRequest("request is required", nil)
	}
	if err := o.validate.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return nil, invalidRequest("repair validation failed", FormatValidationErrors(verrs))
		}
		return nil, invalidRequest(err.Error(), nil)
	}
	if req.Caller.UserID == "" {
		return nil, invalidRequest("caller identity is required", nil)
	}

	ctx = client.WithCredential(ctx, req.Caller.Credential)
	if gerr := o.authorizer.Authorize(ctx, req.Caller, req.OwnerID); gerr != nil {
		return nil, gerr
	}

	initiator := req.InitiatorType
	if initiator == "" {
		initiator = initiatorFor(&model.GenerationRequest{OwnerID: req.OwnerID, Caller: req.Caller})
	}

	track := &model.Track{
		SessionID:     req.SessionID,
		OwnerID:       req.OwnerID,
		Title:         deriveTitle(req.Title, req.OwnerName, req.OwnerID, initiator, req.SessionID),
		Prompt:        req.Prompt,
		AudioRef:      req.AudioRef,
		InitiatorType: initiator,
		HasDialog:     req.HasDialog,
		DurationMs:    req.DurationMs,
	}
	if _, err := o.artifacts.PersistTrack(ctx, track); err != nil {
		sessionID := req.SessionID
		gerr := newError(model.StagePersist, classify(model.StagePersist, err), err, "failed to persist track")
		gerr.PartialSessionID = &sessionID
		gerr.PartialPrompt = req.Prompt
		gerr.PartialAudioRef = req.AudioRef
		gerr.InitiatorType = initiator
		gerr.HasDialog = req.HasDialog
		logger.Error("track repair failed", gerr, logger.Fields{
			"owner_id":   req.OwnerID,
			"session_id": req.SessionID,
			"stage":      string(gerr.Stage),
			"kind":       string(gerr.Kind),
		})
		return nil, gerr
	}

	log.Printf("[pipeline] repaired track %d for session %d", track.TrackID, req.SessionID)
	return track, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, sessionID int64, guideline *model.Guideline) (string, error) {
	var text string
	err := retry(ctx, o.retry, "SynthesizePrompt", func(ctx context.Context) error {
		t, err := o.prompts.Synthesize(ctx, sessionID, guideline)
		if err != nil {
			return err
		}
		if t == "" {
			return errEmptyPrompt
		}
		text = t
		return nil
	})
	return text, err
}

type composeResult struct {
	ref string
	err error
}

// compose is called at most once per run. It runs detached from the caller so
// a render already paid for is never abandoned mid-flight. If the caller
// leaves first the result goes to the orphan handler.
func (o *Orchestrator) compose(ctx context.Context, run *Run, prompt string, constraints model.RenderConstraints) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("caller cancelled before composition: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	cancel := func() {}
	if o.composeTimeout > 0 {
		detached, cancel = context.WithTimeout(detached, o.composeTimeout)
	}

	sessionID := run.Session.SessionID
	done := make(chan composeResult, 1)
	go func() {
		defer cancel()
		ref, err := o.composer.Compose(detached, sessionID, prompt, constraints)
		done <- composeResult{ref: ref, err: err}
	}()

	select {
	case res := <-done:
		return res.ref, res.err
	case <-ctx.Done():
		snapshot := run.Snapshot()
		go o.awaitOrphan(snapshot, done)
		return "", fmt.Errorf("caller cancelled during composition: %w", ctx.Err())
	}
}

func (o *Orchestrator) awaitOrphan(run Run, done <-chan composeResult) {
	res := <-done
	if o.orphans == nil {
		log.Printf("[pipeline] orphaned composition for session %d finished (ref=%q, err=%v)", run.Session.SessionID, res.ref, res.err)
		return
	}
	o.orphans.OnOrphanedAudio(context.Background(), run, res.ref, res.err)
}

func (o *Orchestrator) transition(ctx context.Context, run *Run, to model.PipelineState, stage model.Stage) error {
	if err := run.advance(to, o.now()); err != nil {
		return o.fail(ctx, run, newError(stage, model.ErrorUpstream, err, "internal state error"))
	}
	o.notify(ctx, run)
	return nil
}

// fail moves run to Failed, attaches partial output to gerr and returns it
func (o *Orchestrator) fail(ctx context.Context, run *Run, gerr *GenerationError) error {
	gerr.PartialSessionID = run.SessionID()
	if run.Prompt != nil {
		gerr.PartialPrompt = run.Prompt.Text
	}
	gerr.PartialAudioRef = run.AudioRef
	gerr.InitiatorType = run.InitiatorType
	gerr.HasDialog = run.HasDialog

	run.Err = gerr
	if err := run.advance(model.StateFailed, o.now()); err != nil {
		log.Printf("[pipeline] %v", err)
	}
	o.notify(ctx, run)

	fields := logger.Fields{
		"request_id": run.RequestID,
		"owner_id":   run.OwnerID,
		"stage":      string(gerr.Stage),
		"kind":       string(gerr.Kind),
		"retryable":  gerr.Retryable,
	}
	if gerr.PartialSessionID != nil {
		fields["session_id"] = *gerr.PartialSessionID
	}
	if gerr.PartialAudioRef != "" {
		fields["audio_ref"] = gerr.PartialAudioRef
	}

	switch gerr.Kind {
	case model.ErrorInvalidRequest, model.ErrorForbidden, model.ErrorUnauthorized:
		logger.Warn(gerr.Error(), fields)
	default:
		logger.Error("generation failed", gerr, fields)
	}
	return gerr
}

func (o *Orchestrator) notify(ctx context.Context, run *Run) {
	if len(o.observers) == 0 {
		return
	}
	snapshot := run.Snapshot()
	for _, obs := range o.observers {
		obs.OnTransition(ctx, snapshot)
	}
}
