// Package api exposes the roadmap and linear services over HTTP.
package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/activity"
	"github.com/p-n-ai/pai-roadmap/internal/linear"
	"github.com/p-n-ai/pai-roadmap/internal/nodekey"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
	"github.com/p-n-ai/pai-roadmap/internal/platform/metrics"
	"github.com/p-n-ai/pai-roadmap/internal/report"
	"github.com/p-n-ai/pai-roadmap/internal/roadmap"
)

const readinessTimeout = 2 * time.Second

// HealthChecker is a dependency that must be reachable for readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config wires a Server.
type Config struct {
	Roadmap *roadmap.Service
	Linear  *linear.Service
	// Events receives client-logged learning events.
	Events activity.Logger
	// Feed backs the live activity stream. Optional.
	Feed    activity.Feed
	Metrics *metrics.Metrics
	// Ready maps dependency names to readiness checks.
	Ready map[string]HealthChecker
}

// Server holds the HTTP handlers.
type Server struct {
	roadmap *roadmap.Service
	linear  *linear.Service
	events  activity.Logger
	feed    activity.Feed
	metrics *metrics.Metrics
	ready   map[string]HealthChecker
}

// New creates a Server.
func New(cfg Config) *Server {
	events := cfg.Events
	if events == nil {
		events = activity.NopLogger{}
	}
	return &Server{
		roadmap: cfg.Roadmap,
		linear:  cfg.Linear,
		events:  events,
		feed:    cfg.Feed,
		metrics: cfg.Metrics,
		ready:   cfg.Ready,
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /v1/students/{studentID}/subjects/{subjectID}/nodes", s.handleGetNode)
	mux.HandleFunc("POST /v1/students/{studentID}/nodes/quiz", s.handleSubmitChildQuiz)

	mux.HandleFunc("GET /v1/students/{studentID}/subjects/{subjectID}/roadmap", s.handleGetRoadmap)
	mux.HandleFunc("GET /v1/students/{studentID}/subjects/{subjectID}/roadmap.xlsx", s.handleExportRoadmap)
	mux.HandleFunc("POST /v1/students/{studentID}/topics/{topicID}/quiz", s.handleSubmitTopicQuiz)
	mux.HandleFunc("POST /v1/students/{studentID}/topics/{topicID}/subtopics", s.handleAttachSubtopics)
	mux.HandleFunc("GET /v1/students/{studentID}/analytics", s.handleAnalytics)

	mux.HandleFunc("POST /v1/students/{studentID}/events", s.handleLogEvent)
	mux.HandleFunc("GET /v1/students/{studentID}/events/stream", s.handleEventStream)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, dep := range s.ready {
		if err := dep.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "dependency", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	view, err := s.roadmap.GetNode(r.Context(), r.PathValue("studentID"), r.PathValue("subjectID"), r.URL.Query()["path"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type childQuizRequest struct {
	// NodeKey identifies the node directly. Clients that only know the
	// path send SubjectID and Path instead.
	NodeKey        string   `json:"node_key"`
	SubjectID      string   `json:"subject_id"`
	Path           []string `json:"path"`
	ChildName      string   `json:"child_name" validate:"notblank,max=200"`
	Correct        int      `json:"correct" validate:"gte=0,ltefield=Total"`
	Total          int      `json:"total" validate:"gte=1"`
	ElapsedSeconds int      `json:"elapsed_seconds" validate:"gte=0"`
}

func (req childQuizRequest) nodeKey() (string, error) {
	if req.NodeKey != "" {
		subjectID, path := nodekey.Split(req.NodeKey)
		if strings.TrimSpace(subjectID) == "" {
			return "", apperr.Invalid("node_key", "must start with a subject id")
		}
		if req.SubjectID != "" && req.SubjectID != subjectID {
			return "", apperr.Invalid("subject_id", "does not match node_key subject %q", subjectID)
		}
		return nodekey.Build(subjectID, path), nil
	}
	if req.SubjectID == "" {
		return "", apperr.Invalid("node_key", "node_key or subject_id is required")
	}
	return nodekey.Build(req.SubjectID, req.Path), nil
}

func (s *Server) handleSubmitChildQuiz(w http.ResponseWriter, r *http.Request) {
	var req childQuizRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	key, err := req.nodeKey()
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.roadmap.SubmitChildQuiz(r.Context(), roadmap.ChildSubmission{
		StudentID:      r.PathValue("studentID"),
		NodeKey:        key,
		ChildName:      req.ChildName,
		Correct:        req.Correct,
		Total:          req.Total,
		ElapsedSeconds: req.ElapsedSeconds,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetRoadmap(w http.ResponseWriter, r *http.Request) {
	rm, err := s.linear.BuildRoadmap(r.Context(), r.PathValue("studentID"), r.PathValue("subjectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

func (s *Server) handleExportRoadmap(w http.ResponseWriter, r *http.Request) {
	rm, err := s.linear.BuildRoadmap(r.Context(), r.PathValue("studentID"), r.PathValue("subjectID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteRoadmapXLSX(&buf, rm); err != nil {
		writeError(w, r, fmt.Errorf("export roadmap: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="roadmap-%s.xlsx"`, rm.SubjectID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

type topicQuizRequest struct {
	Answers          []int  `json:"answers" validate:"required,min=1,dive,gte=0"`
	TimeSpentSeconds int    `json:"time_spent_seconds" validate:"gte=0"`
	HintsUsed        int    `json:"hints_used" validate:"gte=0"`
	ContentMode      string `json:"content_mode" validate:"omitempty,oneof=text visual audio video"`
}

func (s *Server) handleSubmitTopicQuiz(w http.ResponseWriter, r *http.Request) {
	var req topicQuizRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.linear.SubmitQuiz(r.Context(), linear.QuizSubmission{
		StudentID:        r.PathValue("studentID"),
		TopicID:          r.PathValue("topicID"),
		Answers:          req.Answers,
		TimeSpentSeconds: req.TimeSpentSeconds,
		HintsUsed:        req.HintsUsed,
		ContentMode:      req.ContentMode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAttachSubtopics(w http.ResponseWriter, r *http.Request) {
	rec, err := s.linear.AttachSubtopics(r.Context(), r.PathValue("studentID"), r.PathValue("topicID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.linear.Analytics(r.Context(), r.PathValue("studentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type eventRequest struct {
	EventType string         `json:"event_type" validate:"notblank"`
	SubjectID string         `json:"subject_id" validate:"max=200"`
	TopicID   string         `json:"topic_id" validate:"max=200"`
	NodeKey   string         `json:"node_key" validate:"max=2000"`
	Data      map[string]any `json:"data"`
}

func (s *Server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	typ, err := activity.ParseClientType(req.EventType)
	if err != nil {
		writeError(w, r, err)
		return
	}

	event := activity.Event{
		StudentID: r.PathValue("studentID"),
		SubjectID: req.SubjectID,
		TopicID:   req.TopicID,
		NodeKey:   req.NodeKey,
		Type:      typ,
		Data:      req.Data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.events.LogEvent(r.Context(), event); err != nil {
		writeError(w, r, fmt.Errorf("log event: %w", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
