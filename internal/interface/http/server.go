// Package http exposes the learning engine to the app backend: player
// phase and practice events, family activities, achievement
// acknowledgements, snapshot ingestion, the progress screen and the
// support-only learner reset.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nurkids/nur-learning-hub/internal/application/command"
	"github.com/nurkids/nur-learning-hub/internal/application/query"
	"github.com/nurkids/nur-learning-hub/internal/interface/http/handlers"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes caps request bodies; snapshots are the largest.
	MaxBodyBytes int64
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// PhaseCompleter records a finished lesson phase.
type PhaseCompleter interface {
	Handle(ctx context.Context, cmd command.CompletePhaseCommand) (*command.CompletePhaseResult, error)
}

// PracticeAnswerer records a practice answer.
type PracticeAnswerer interface {
	Handle(ctx context.Context, cmd command.SubmitPracticeAnswerCommand) (*command.SubmitPracticeAnswerResult, error)
}

// LessonRestarter restarts a lesson.
type LessonRestarter interface {
	Handle(ctx context.Context, cmd command.RestartLessonCommand) (*command.RestartLessonResult, error)
}

// FamilyActivityRecorder records a family activity.
type FamilyActivityRecorder interface {
	Handle(ctx context.Context, cmd command.RecordFamilyActivityCommand) (*command.RecordFamilyActivityResult, error)
}

// AchievementSeenMarker acknowledges a celebration.
type AchievementSeenMarker interface {
	Handle(ctx context.Context, cmd command.MarkAchievementSeenCommand) error
}

// LearnerResetter wipes a learner's progress.
type LearnerResetter interface {
	Handle(ctx context.Context, cmd command.ResetLearnerCommand) (*command.ResetLearnerResult, error)
}

// ProgressReader serves the progress screen.
type ProgressReader interface {
	Handle(ctx context.Context, q query.GetLearnerProgressQuery) (*query.LearnerProgressDTO, error)
}

// SnapshotPublisher queues a device snapshot for reconciliation.
type SnapshotPublisher interface {
	PublishPayload(ctx context.Context, payload []byte) (string, error)
}

// Dependencies contains everything the handlers call. Nil entries disable
// their routes.
type Dependencies struct {
	CompletePhase       PhaseCompleter
	SubmitPractice      PracticeAnswerer
	RestartLesson       LessonRestarter
	RecordFamily        FamilyActivityRecorder
	MarkAchievementSeen AchievementSeenMarker
	ResetLearner        LearnerResetter
	GetProgress         ProgressReader
	Snapshots           SnapshotPublisher

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	log        *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		log:    deps.Logger,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With(logger.Component("http"))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the router wrapped in middleware.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	h = s.loggingMiddleware(h)
	h = s.requestIDMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /live", s.handleLive)

	const lessonPath = "/api/v1/learners/{learnerID}/lessons/{lessonID}"
	if s.deps.CompletePhase != nil {
		s.router.HandleFunc("POST "+lessonPath+"/phases", s.handleCompletePhase)
	}
	if s.deps.SubmitPractice != nil {
		s.router.HandleFunc("POST "+lessonPath+"/practice", s.handleSubmitPractice)
	}
	if s.deps.RestartLesson != nil {
		s.router.HandleFunc("POST "+lessonPath+"/restart", s.handleRestartLesson)
	}
	if s.deps.RecordFamily != nil {
		s.router.HandleFunc("POST /api/v1/learners/{learnerID}/family-activities", s.handleRecordFamilyActivity)
	}
	if s.deps.MarkAchievementSeen != nil {
		s.router.HandleFunc("POST /api/v1/learners/{learnerID}/achievements/{achievementID}/seen", s.handleMarkAchievementSeen)
	}
	if s.deps.ResetLearner != nil {
		s.router.HandleFunc("POST /api/v1/admin/learners/{learnerID}/reset", s.handleResetLearner)
	}
	if s.deps.GetProgress != nil {
		s.router.HandleFunc("GET /api/v1/learners/{learnerID}/progress", s.handleGetProgress)
	}
	if s.deps.Snapshots != nil {
		s.router.HandleFunc("POST /api/v1/snapshots", s.handlePublishSnapshot)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.log.Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rw.statusCode),
			logger.Latency(time.Since(start)),
			logger.String("request_id", getRequestID(r.Context())),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic recovered",
					logger.Any("error", err),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("starting HTTP server", logger.String("address", s.config.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server. Called before Start, it makes Start
// return immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every response.
type JSONResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		RequestID: getRequestID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Error: &APIError{Code: code, Message: message},
	})
}

type contextKey string

const contextKeyRequestID contextKey = "request_id"

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
