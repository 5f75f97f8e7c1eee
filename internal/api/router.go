// Package api exposes the progression engine over HTTP.
//
// Learner identity is asserted by the upstream gateway in the X-Learner-ID
// header. All engine routes live under /api/v1; /healthz and /readyz sit at
// the root.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/p-n-ai/pai-learn/internal/progression"
)

// Engine is the subset of *progression.Engine served over HTTP.
type Engine interface {
	RecordWatchProgress(ctx context.Context, learnerID, enrollmentID, sessionID string, watchPercentage float64, watchTimeSeconds int) (progression.SessionProgress, error)
	RecordResourceAccess(ctx context.Context, learnerID, enrollmentID, sessionID string) (progression.SessionProgress, error)
	IsUnlocked(ctx context.Context, enrollmentID, sessionID string) (bool, error)
	GetEnrollmentProgress(ctx context.Context, enrollmentID string) (progression.EnrollmentProgress, error)
	PresentQuiz(ctx context.Context, learnerID, quizID string) (progression.AttemptView, error)
	SubmitQuizAttempt(ctx context.Context, learnerID, quizID string, answers []progression.Answer, elapsedSeconds int) (progression.QuizAttempt, error)
	ListAttempts(ctx context.Context, learnerID, quizID string) ([]progression.QuizAttempt, error)
	ReviewAttempt(ctx context.Context, learnerID, attemptID string) (progression.AttemptReview, error)
	GetCertificate(ctx context.Context, learnerID, courseID string) (*progression.Certificate, error)
	IssueIfEligible(ctx context.Context, learnerID, courseID string) (*progression.Certificate, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config wires the router.
type Config struct {
	Engine Engine
	Logger *slog.Logger
	// Ready lists named dependencies pinged by /readyz.
	Ready map[string]HealthCheck
}

const readyTimeout = 2 * time.Second

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		engine:   cfg.Engine,
		logger:   logger,
		validate: newValidator(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(cfg.Ready))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireLearner)

		r.Route("/enrollments/{enrollmentID}", func(r chi.Router) {
			r.Get("/progress", h.getProgress)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Post("/watch", h.recordWatch)
				r.Post("/resources", h.recordResources)
				r.Get("/unlocked", h.getUnlocked)
				r.Get("/heartbeat", h.heartbeat)
			})
		})

		r.Route("/quizzes/{quizID}", func(r chi.Router) {
			r.Get("/presentation", h.presentQuiz)
			r.Post("/attempts", h.submitAttempt)
			r.Get("/attempts", h.listAttempts)
		})
		r.Get("/attempts/{attemptID}", h.reviewAttempt)

		r.Get("/learners/{learnerID}/courses/{courseID}/certificate", h.getCertificate)
		r.Post("/learners/{learnerID}/courses/{courseID}/certificate", h.issueCertificate)
	})

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReadyz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				slog.Warn("readiness check failed", "dependency", name, "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "dependency": name})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
