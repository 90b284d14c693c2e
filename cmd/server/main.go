package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/activity"
	"github.com/p-n-ai/pai-roadmap/internal/ai"
	"github.com/p-n-ai/pai-roadmap/internal/api"
	"github.com/p-n-ai/pai-roadmap/internal/curriculum"
	"github.com/p-n-ai/pai-roadmap/internal/linear"
	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/platform/cache"
	"github.com/p-n-ai/pai-roadmap/internal/platform/config"
	"github.com/p-n-ai/pai-roadmap/internal/platform/database"
	"github.com/p-n-ai/pai-roadmap/internal/platform/metrics"
	"github.com/p-n-ai/pai-roadmap/internal/roadmap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Roadmap.GenerationTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// newRouter registers the configured generator providers in fallback order:
// Groq first, then OpenAI.
func newRouter(cfg config.AIConfig) *ai.Router {
	router := ai.NewRouter()
	if cfg.Groq.APIKey != "" {
		router.Register("groq", ai.NewGroqProvider(cfg.Groq.APIKey,
			ai.WithBaseURL(cfg.Groq.BaseURL),
			ai.WithDefaultModel(cfg.Model),
		))
	}
	if cfg.OpenAI.APIKey != "" {
		opts := []ai.OpenAIOption{}
		if cfg.Groq.APIKey == "" {
			opts = append(opts, ai.WithDefaultModel(cfg.Model))
		}
		router.Register("openai", ai.NewOpenAIProvider(cfg.OpenAI.APIKey, opts...))
	}
	return router
}

type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires stores, services and the HTTP API from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ready := map[string]api.HealthChecker{}

	loader, err := curriculum.NewLoader(cfg.CurriculumPath)
	if err != nil {
		return nil, fmt.Errorf("load curriculum: %w", err)
	}
	slog.Info("curriculum loaded", "path", cfg.CurriculumPath, "subjects", len(loader.Subjects()), "topics", len(loader.AllTopics()))

	m := metrics.New()
	router := newRouter(cfg.AI)
	if !router.HasProvider() {
		return nil, fmt.Errorf("build generator: %w", ai.ErrNoProvider)
	}
	ready["ai"] = router

	var (
		nodes    roadmap.NodeStore
		progress roadmap.ProgressStore
		topics   linear.Store
		sink     activity.Logger = activity.NopLogger{}
	)
	switch cfg.Store.Backend {
	case "memory":
		nodes = roadmap.NewMemoryNodeStore()
		progress = roadmap.NewMemoryProgressStore()
		topics = linear.NewMemoryStore()
	default:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		ready["database"] = db

		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				a.close()
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		if nodes, err = roadmap.NewPostgresNodeStore(db.Pool); err != nil {
			a.close()
			return nil, err
		}
		if progress, err = roadmap.NewPostgresProgressStore(db.Pool); err != nil {
			a.close()
			return nil, err
		}
		if topics, err = linear.NewPostgresStore(db.Pool); err != nil {
			a.close()
			return nil, err
		}
		sink = activity.NewPostgresLogger(db.Pool)
	}

	var feed activity.Feed = activity.NewMemoryFeed()
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Warn("cache unavailable, continuing without it", "error", err)
		} else {
			a.closers = append(a.closers, func() { c.Close() })
			ready["cache"] = c
			nodes = roadmap.NewCachedNodeStore(nodes, c, cfg.Cache.NodeTTL, m)
			feed = activity.NewRedisFeed(c.Client)
		}
	}
	events := activity.Multi(sink, activity.FeedLogger{Feed: feed})

	tracker := mastery.NewTracker(mastery.Config{
		PriorWeight:     cfg.Mastery.PriorWeight,
		PassRatio:       cfg.Mastery.PassRatio,
		ExcelledMastery: cfg.Mastery.ExcelledMastery,
	})
	tc := tracker.Config()
	slog.Info("mastery tracker configured",
		"prior_weight", tc.PriorWeight,
		"pass_ratio", tc.PassRatio,
		"excelled_mastery", tc.ExcelledMastery,
	)

	cur := roadmap.NewCurriculum(roadmap.CurriculumConfig{
		Store: nodes,
		Generator: roadmap.NewAIGenerator(router, roadmap.GeneratorConfig{
			MinChildren: cfg.Roadmap.MinChildren,
			MaxChildren: cfg.Roadmap.MaxChildren,
			Task:        ai.TaskCurriculum,
		}),
		Events:            events,
		Metrics:           m,
		GenerationTimeout: cfg.Roadmap.GenerationTimeout,
		MaxChildren:       cfg.Roadmap.MaxChildren,
	})
	roadmapSvc := roadmap.NewService(roadmap.ServiceConfig{
		Subjects:   loader,
		Curriculum: cur,
		Progress:   progress,
		Tracker:    tracker,
		Events:     events,
		Metrics:    m,
	})
	linearSvc := linear.NewService(linear.ServiceConfig{
		Curriculum: loader,
		Store:      topics,
		Thresholds: linear.Config{
			MasteredScore:   cfg.Linear.MasteredScore,
			DevelopingScore: cfg.Linear.DevelopingScore,
		},
		Generator: roadmap.NewAIGenerator(router, roadmap.GeneratorConfig{
			MinChildren: cfg.Roadmap.MinChildren,
			MaxChildren: cfg.Roadmap.MaxChildren,
			Task:        ai.TaskSubtopics,
		}),
		GenerationTimeout: cfg.Roadmap.GenerationTimeout,
		MaxSubtopics:      cfg.Roadmap.MaxChildren,
		Events:            events,
		Metrics:           m,
	})

	a.handler = api.New(api.Config{
		Roadmap: roadmapSvc,
		Linear:  linearSvc,
		Events:  events,
		Feed:    feed,
		Metrics: m,
		Ready:   ready,
	}).Handler()
	return a, nil
}
