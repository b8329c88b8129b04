package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/moby/sys/reexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/jobbox/api"
	"github.com/isdmx/jobbox/config"
	"github.com/isdmx/jobbox/job"
	"github.com/isdmx/jobbox/language"
	"github.com/isdmx/jobbox/logger"
	"github.com/isdmx/jobbox/sandbox"
	"github.com/isdmx/jobbox/store"
	"github.com/isdmx/jobbox/worker"
)

func TestMain(m *testing.M) {
	if reexec.Init() {
		return
	}
	os.Exit(m.Run())
}

// stack is a complete in-process deployment on memory backends
type stack struct {
	url string
	cfg *config.Config
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("SANDBOX_STORE_BACKEND", "memory")
	t.Setenv("SANDBOX_QUEUE_BACKEND", "memory")
	t.Setenv("SANDBOX_WORKER_CONCURRENCY", "2")
	cfg, err := config.New()
	require.NoError(t, err)
	return cfg
}

func newStack(t *testing.T, cfg *config.Config, log *zap.Logger) *stack {
	t.Helper()

	backends, err := store.New(log, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backends.Close() })

	registry, err := language.NewRegistryFromConfig(log, cfg, sandbox.NewExecutor(log, cfg))
	require.NoError(t, err)

	lifecycle := job.NewLifecycle(log, backends.States, job.NewProcessor(cfg, registry), cfg.JobTTL())
	service := job.NewService(log, cfg, registry, backends.Queue, backends.States, lifecycle)

	srv := httptest.NewServer(api.New(log, cfg, service).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := worker.NewFromConfig(log, cfg, backends.Queue, lifecycle)
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &stack{url: srv.URL, cfg: cfg}
}

func (s *stack) request(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.url+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func (s *stack) submit(t *testing.T, body map[string]any) string {
	t.Helper()
	code, payload := s.request(t, http.MethodPost, "/sandbox/run", body)
	require.Equal(t, http.StatusOK, code, payload)
	return payload["job_id"].(string)
}

// await polls the result endpoint until the job is terminal
func (s *stack) await(t *testing.T, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		code, payload := s.request(t, http.MethodGet, "/sandbox/result/"+jobID, nil)
		require.Equal(t, http.StatusOK, code, payload)
		if status, _ := payload["status"].(string); job.Status(status).Terminal() {
			return payload
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return nil
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestIntegrationConfigLogger(t *testing.T) {
	cfg := loadConfig(t)

	testLogger, err := logger.NewFromConfig(cfg)
	require.NoError(t, err)
	testLogger.Info("integration test started")
	_ = testLogger.Sync()

	assert.Equal(t, []string{"python"}, cfg.Sandbox.AllowedLanguages)
	assert.Equal(t, config.ModeQueue, cfg.Sandbox.Mode)
}

func TestIntegrationScenarios(t *testing.T) {
	requirePython(t)
	cfg := loadConfig(t)
	s := newStack(t, cfg, zaptest.NewLogger(t))

	t.Run("HelloWorld", func(t *testing.T) {
		jobID := s.submit(t, map[string]any{"language": "python", "code": "print('hi')", "timeout": 3})

		payload := s.await(t, jobID)
		require.Equal(t, "done", payload["status"], payload)
		result := payload["result"].(map[string]any)
		assert.Equal(t, "hi\n", result["stdout"])
		assert.Equal(t, float64(0), result["exit_code"])
		assert.Equal(t, false, result["timed_out"])

		code, status := s.request(t, http.MethodGet, "/sandbox/status/"+jobID, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "done", status["status"])
		assert.LessOrEqual(t, status["created_at"].(float64), status["started_at"].(float64))
		assert.LessOrEqual(t, status["started_at"].(float64), status["finished_at"].(float64))
	})

	t.Run("Timeout", func(t *testing.T) {
		jobID := s.submit(t, map[string]any{"language": "python", "code": "import time; time.sleep(10)", "timeout": 1})

		payload := s.await(t, jobID)
		require.Equal(t, "done", payload["status"], payload)
		result := payload["result"].(map[string]any)
		assert.Equal(t, true, result["timed_out"])
		assert.Equal(t, float64(sandbox.ExitCodeTimeout), result["exit_code"])
		assert.Less(t, result["duration_ms"].(float64), float64(5000))
	})

	t.Run("UnsupportedLanguage", func(t *testing.T) {
		code, payload := s.request(t, http.MethodPost, "/sandbox/run",
			map[string]any{"language": "ruby", "code": "puts 1", "timeout": 3})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, payload["detail"], "ruby")
	})

	t.Run("Truncation", func(t *testing.T) {
		limit := cfg.Sandbox.OutputLimitBytes
		code := "import sys\nsys.stdout.write('x' * " + strconv.Itoa(10*limit) + ")"
		jobID := s.submit(t, map[string]any{"language": "python", "code": code, "timeout": 5})

		payload := s.await(t, jobID)
		require.Equal(t, "done", payload["status"], payload)
		result := payload["result"].(map[string]any)
		assert.Equal(t, true, result["truncated_stdout"])
		assert.Len(t, result["stdout"], limit)
	})

	t.Run("UnknownJob", func(t *testing.T) {
		code, payload := s.request(t, http.MethodGet, "/sandbox/result/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "Job not found", payload["detail"])
	})

	t.Run("Isolation", func(t *testing.T) {
		code := strings.Join([]string{
			"import os, time",
			"print(os.path.exists('shared.txt'))",
			"open('shared.txt', 'w').write(os.environ['HOME'])",
			"time.sleep(0.5)",
			"print(open('shared.txt').read() == os.environ['HOME'])",
		}, "\n")

		// worker.concurrency is 2, so both run at the same time.
		ids := []string{
			s.submit(t, map[string]any{"language": "python", "code": code, "timeout": 5}),
			s.submit(t, map[string]any{"language": "python", "code": code, "timeout": 5}),
		}

		for _, id := range ids {
			payload := s.await(t, id)
			require.Equal(t, "done", payload["status"], payload)
			result := payload["result"].(map[string]any)
			assert.Equal(t, "False\nTrue\n", result["stdout"])
		}
	})
}

func TestIntegrationSyncMode(t *testing.T) {
	requirePython(t)
	t.Setenv("SANDBOX_RUN_MODE", "sync")
	cfg := loadConfig(t)
	s := newStack(t, cfg, zaptest.NewLogger(t))

	jobID := s.submit(t, map[string]any{"language": "py", "code": "print(6 * 7)"})

	code, payload := s.request(t, http.MethodGet, "/sandbox/result/"+jobID, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "done", payload["status"])
	assert.Equal(t, "42\n", payload["result"].(map[string]any)["stdout"])
}
