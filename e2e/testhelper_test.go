package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/mindtune/api/internal/auth"
	"github.com/mindtune/api/internal/client"
	"github.com/mindtune/api/internal/config"
	"github.com/mindtune/api/internal/handler"
	"github.com/mindtune/api/internal/middleware"
	"github.com/mindtune/api/internal/pipeline"
	"github.com/mindtune/api/internal/service"
	"github.com/mindtune/api/internal/storage"
	ws "github.com/mindtune/api/internal/websocket"
	"github.com/mindtune/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	upstream *upstream
	store    *storage.Store
	jobs     *service.JobStore
	worker   *worker.GenerationWorker
}

// setupApp builds the same graph as main.go against fake collaborators,
// an in-process Redis and a throwaway sqlite file.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	up := newUpstream(t)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { asynqClient.Close() })

	store, err := storage.New("sqlite", filepath.Join(t.TempDir(), "attempts.db"), false)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	ctx := context.Background()
	if err := store.Start(ctx); err != nil {
		t.Fatalf("failed to start store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	recorder := storage.NewRecorder(store)

	validate := validator.New()
	pipeline.RegisterValidations(validate)

	hub := ws.NewHub()
	go hub.Run()

	svcCfg := &config.ServiceConfig{BaseURL: up.URL(), Timeout: 5}
	registryClient := client.NewRegistryClient(svcCfg)
	promptClient := client.NewPromptClient(&config.PromptConfig{BaseURL: up.URL(), Timeout: 5})
	composerClient := client.NewComposerClient(svcCfg)
	artifactClient := client.NewArtifactClient(svcCfg)
	connectionClient := client.NewConnectionClient(svcCfg)

	jobStore := service.NewJobStore(redisClient)

	orchestrator := pipeline.New(pipeline.Config{
		Registry:    registryClient,
		Prompts:     promptClient,
		Composer:    composerClient,
		Artifacts:   artifactClient,
		Connections: connectionClient,
		Validate:    validate,
		Ledger:      pipeline.NewRedisLedger(redisClient, time.Hour),
		Observers: []pipeline.Observer{
			recorder,
			worker.NewProgressObserver(jobStore, hub),
		},
		Orphans: recorder,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Multiplier:  2,
		},
		ComposeTimeout: 5 * time.Second,
	})
	authorizer := pipeline.NewAuthorizer(connectionClient)

	generationService := service.NewGenerationService(orchestrator, orchestrator, authorizer, jobStore, asynqClient, store)
	trackService := service.NewTrackService(artifactClient, nil, authorizer, time.Hour)

	generationHandler := handler.NewGenerationHandler(generationService, validate)
	trackHandler := handler.NewTrackHandler(trackService)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"registry": registryClient.IsConfigured(),
				"database": store.Ping(c.UserContext()) == nil,
				"auth":     true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.GenerationLimit(10000), generationHandler.Submit)
	generations.Post("/async", rateLimiter.GenerationLimit(10000), generationHandler.SubmitAsync)
	generations.Post("/repair", rateLimiter.RepairLimit(10000), generationHandler.Repair)
	generations.Get("/jobs/:jobId", generationHandler.JobStatus)
	generations.Get("/jobs/:jobId/result", generationHandler.JobResult)
	generations.Get("/history", generationHandler.History)
	generations.Get("/history/:attemptId", generationHandler.HistoryDetail)

	tracks := api.Group("/tracks")
	tracks.Get("/", trackHandler.List)
	tracks.Get("/:trackId/playback", trackHandler.Playback)
	api.Get("/sessions/:sessionId/track", trackHandler.BySession)

	app.Use("/ws", authMiddleware.Authenticate(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", generationHandler.WatchGuard, websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	return &testApp{
		app:      app,
		upstream: up,
		store:    store,
		jobs:     jobStore,
		worker:   worker.NewGenerationWorker(generationService, jobStore, hub),
	}
}

// displayNames are carried in the name claim of test tokens
var displayNames = map[string]string{
	"patient-1": "Jane",
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID, role string) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(userID, userID+"@example.com", displayNames[userID], role, testJWTSecret)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as the given user.
func doAuthRequest(t *testing.T, app *fiber.App, userID, role, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID, role),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorDetails returns error.details from an error envelope.
func errorDetails(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	errBody, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	details, _ := errBody["details"].(map[string]interface{})
	return details
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
