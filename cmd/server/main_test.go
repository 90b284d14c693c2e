package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-roadmap/internal/ai"
	"github.com/p-n-ai/pai-roadmap/internal/platform/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantJSON  bool
		wantDebug bool
	}{
		{"json info", config.LogConfig{Level: "info", Format: "json"}, true, false},
		{"text debug", config.LogConfig{Level: "debug", Format: "text"}, false, true},
		{"unknown level falls back to info", config.LogConfig{Level: "chatty", Format: "json"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.cfg)

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			logger.Info("hello", "k", "v")
			isJSON := json.Valid(bytes.TrimSpace(buf.Bytes()))
			if isJSON != tt.wantJSON {
				t.Errorf("output %q: json = %v, want %v", buf.String(), isJSON, tt.wantJSON)
			}
		})
	}
}

func TestNewRouter(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AIConfig
		want bool
	}{
		{"no keys", config.AIConfig{}, false},
		{"groq only", config.AIConfig{Groq: config.GroqConfig{APIKey: "gsk"}}, true},
		{"openai only", config.AIConfig{OpenAI: config.OpenAIConfig{APIKey: "sk"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newRouter(tt.cfg).HasProvider(); got != tt.want {
				t.Errorf("HasProvider() = %v, want %v", got, tt.want)
			}
		})
	}
}

func writeCurriculum(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	syllabus := `
id: demo
name: Demo
subjects:
  - id: math
    name: Mathematics
    topic_ids: [M1]
`
	if err := os.WriteFile(filepath.Join(dir, "demo.syllabus.yaml"), []byte(syllabus), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "m1.yaml"), []byte("id: M1\nname: Numbers\nsubject_id: math\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestNewApp_RequiresProvider(t *testing.T) {
	t.Setenv("LEARN_STORE_BACKEND", "memory")
	t.Setenv("LEARN_CACHE_ENABLED", "false")
	t.Setenv("LEARN_CURRICULUM_PATH", writeCurriculum(t))
	t.Setenv("LEARN_AI_GROQ_API_KEY", "")
	t.Setenv("LEARN_AI_OPENAI_API_KEY", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := newApp(t.Context(), cfg); !errors.Is(err, ai.ErrNoProvider) {
		t.Fatalf("newApp() error = %v, want ErrNoProvider", err)
	}
}

func TestNewApp_MemoryBackend(t *testing.T) {
	t.Setenv("LEARN_STORE_BACKEND", "memory")
	t.Setenv("LEARN_CACHE_ENABLED", "false")
	t.Setenv("LEARN_CURRICULUM_PATH", writeCurriculum(t))
	t.Setenv("LEARN_AI_GROQ_API_KEY", "gsk-test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	a, err := newApp(t.Context(), cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"healthz", "/healthz", http.StatusOK, `"status":"ok"`},
		{"linear roadmap", "/v1/students/s-1/subjects/math/roadmap", http.StatusOK, `"topic_id":"M1"`},
		{"unknown subject", "/v1/students/s-1/subjects/art/roadmap", http.StatusNotFound, `subject not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			a.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}
