package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-learn/internal/progression"
)

type handler struct {
	engine   Engine
	logger   *slog.Logger
	validate *validator.Validate
}

func (h *handler) recordWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	progress, err := h.engine.RecordWatchProgress(r.Context(),
		learnerFrom(r.Context()),
		chi.URLParam(r, "enrollmentID"),
		chi.URLParam(r, "sessionID"),
		*req.WatchPercentage,
		req.WatchTimeSeconds,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handler) recordResources(w http.ResponseWriter, r *http.Request) {
	progress, err := h.engine.RecordResourceAccess(r.Context(),
		learnerFrom(r.Context()),
		chi.URLParam(r, "enrollmentID"),
		chi.URLParam(r, "sessionID"),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handler) getUnlocked(w http.ResponseWriter, r *http.Request) {
	enrollmentID := chi.URLParam(r, "enrollmentID")
	if !h.ownsEnrollment(w, r, enrollmentID) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	unlocked, err := h.engine.IsUnlocked(r.Context(), enrollmentID, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "is_unlocked": unlocked})
}

func (h *handler) getProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.engine.GetEnrollmentProgress(r.Context(), chi.URLParam(r, "enrollmentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if progress.LearnerID != learnerFrom(r.Context()) {
		writeError(w, r, notFoundError("enrollment not found"))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// ownsEnrollment writes a 404 and returns false when the enrollment belongs
// to someone else.
func (h *handler) ownsEnrollment(w http.ResponseWriter, r *http.Request, enrollmentID string) bool {
	progress, err := h.engine.GetEnrollmentProgress(r.Context(), enrollmentID)
	if err != nil {
		writeError(w, r, err)
		return false
	}
	if progress.LearnerID != learnerFrom(r.Context()) {
		writeError(w, r, notFoundError("enrollment not found"))
		return false
	}
	return true
}

func (h *handler) presentQuiz(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.PresentQuiz(r.Context(), learnerFrom(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	attempt, err := h.engine.SubmitQuizAttempt(r.Context(),
		learnerFrom(r.Context()),
		chi.URLParam(r, "quizID"),
		req.toAnswers(),
		req.ElapsedSeconds,
	)
	if err != nil {
		if attempt.ID == "" {
			writeError(w, r, err)
			return
		}
		// The attempt stands; the completion cascade re-runs on the next event.
		h.logger.Warn("quiz attempt recorded with follow-up failure",
			"attempt_id", attempt.ID,
			"quiz_id", attempt.QuizID,
			"error", err,
		)
	}
	writeJSON(w, http.StatusCreated, attempt)
}

func (h *handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.engine.ListAttempts(r.Context(), learnerFrom(r.Context()), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (h *handler) reviewAttempt(w http.ResponseWriter, r *http.Request) {
	review, err := h.engine.ReviewAttempt(r.Context(), learnerFrom(r.Context()), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (h *handler) getCertificate(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	if learnerID != learnerFrom(r.Context()) {
		writeError(w, r, notFoundError("certificate not found"))
		return
	}
	cert, err := h.engine.GetCertificate(r.Context(), learnerID, chi.URLParam(r, "courseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cert == nil {
		writeError(w, r, notFoundError("certificate not issued"))
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// issueCertificate re-runs the eligibility check, for learners whose
// completion cascade failed part way.
func (h *handler) issueCertificate(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	if learnerID != learnerFrom(r.Context()) {
		writeError(w, r, notFoundError("certificate not found"))
		return
	}
	cert, err := h.engine.IssueIfEligible(r.Context(), learnerID, chi.URLParam(r, "courseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cert == nil {
		writeErrorBody(w, http.StatusConflict, string(progression.KindConflict), "not_eligible", "course requirements are not yet met")
		return
	}
	writeJSON(w, http.StatusOK, cert)
}
