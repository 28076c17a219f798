package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/drumscribe/api/internal/config"
	"github.com/drumscribe/api/internal/handler"
	"github.com/drumscribe/api/internal/middleware"
	"github.com/drumscribe/api/internal/service"
	"github.com/drumscribe/api/internal/storage"
	"github.com/drumscribe/api/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app  *fiber.App
	jobs *store.Jobs
}

// testConfig mirrors the defaults main.go loads, shrunk for tests.
func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{Secret: testJWTSecret},
		RateLimit: config.RateLimitConfig{
			UploadPerHour: 10000,
			ExportPerHour: 10000,
		},
		Storage: config.StorageConfig{PresignTTL: time.Hour},
		Audio: config.AudioConfig{
			MaxUploadSize:  25 * 1024 * 1024,
			AllowedFormats: []string{"mp3", "wav", "m4a"},
			MinDuration:    5 * time.Second,
			MaxDuration:    360 * time.Second,
		},
		Pipeline: config.PipelineConfig{
			Timeout:    5 * time.Minute,
			MaxRetries: 3,
			RetryDelay: time.Second,
			Retention:  time.Hour,
		},
	}
}

// setupApp creates a Fiber app wired like main.go, with local-only storage
// and Redis on DB 15. Handler validation paths work without Redis; tests that
// need the job store call requireRedis first.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	cfg := testConfig()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	localBackend, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	objects := storage.NewManager(nil, localBackend)

	jobs := store.NewJobs(redisClient, cfg.Pipeline.Retention)

	transcriptionService := service.NewTranscriptionService(jobs, objects, asynqClient, cfg)
	exportService := service.NewExportService(jobs, objects, cfg)

	transcriptionHandler := handler.NewTranscriptionHandler(transcriptionService, cfg, validate)
	exportHandler := handler.NewExportHandler(exportService, validate)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.Audio.MaxUploadSize) + 1024*1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	transcription := api.Group("/transcription")
	transcription.Post("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), transcriptionHandler.Upload)
	transcription.Get("/status/:jobId", transcriptionHandler.Status)
	transcription.Get("/result/:jobId", transcriptionHandler.Result)
	transcription.Delete("/:jobId", transcriptionHandler.Delete)

	export := api.Group("/export", rateLimiter.ExportLimit(cfg.RateLimit.ExportPerHour))
	export.Get("/:kind/:jobId", exportHandler.Download)

	return &testApp{app: app, jobs: jobs}
}

// requireRedis skips the test when the local Redis is not reachable.
func requireRedis(t *testing.T) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "drumscribe-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
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

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
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

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
