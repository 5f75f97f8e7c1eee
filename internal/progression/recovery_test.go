package progression_test

import (
	"context"
	"errors"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

var errTransient = errors.New("transient write failure")

// flakyStore fails the follow-up writes of a quiz submission a set number of
// times; everything else goes to the embedded MemoryStore.
type flakyStore struct {
	*progression.MemoryStore
	quizMergeFailures int
	finalPassFailures int
}

func (s *flakyStore) MergeSessionProgress(ctx context.Context, d progression.ProgressDelta) (progression.SessionProgress, error) {
	if d.QuizScore != nil && s.quizMergeFailures > 0 {
		s.quizMergeFailures--
		return progression.SessionProgress{}, errTransient
	}
	return s.MemoryStore.MergeSessionProgress(ctx, d)
}

func (s *flakyStore) MarkFinalAssessmentPassed(ctx context.Context, enrollmentID string, score int) (progression.Enrollment, error) {
	if s.finalPassFailures > 0 {
		s.finalPassFailures--
		return progression.Enrollment{}, errTransient
	}
	return s.MemoryStore.MarkFinalAssessmentPassed(ctx, enrollmentID, score)
}

func allCorrect(ids ...string) []progression.Answer {
	answers := make([]progression.Answer, 0, len(ids))
	for _, id := range ids {
		answers = append(answers, answer(id, "a"))
	}
	return answers
}

func TestSubmitQuizAttempt_LostSessionWriteRecoveredOnNextWatch(t *testing.T) {
	course := quizCourse()
	course.Modules[0].Sessions[0].MaxQuizAttempts = 1
	store := &flakyStore{MemoryStore: progression.NewMemoryStore(), quizMergeFailures: 1}
	f := newFixtureWithConfig(t, progression.EngineConfig{Store: store}, course)

	f.watch(t, "s-lesson", 90)
	attempt, err := f.engine.SubmitQuizAttempt(t.Context(), learnerID, "q-lesson", allCorrect("q1", "q2", "q3", "q4"), 30)
	if !errors.Is(err, errTransient) {
		t.Fatalf("SubmitQuizAttempt() error = %v, want transient failure", err)
	}
	if attempt.Score != 100 || !attempt.IsPassed {
		t.Fatalf("attempt = score %d passed %v, want recorded pass", attempt.Score, attempt.IsPassed)
	}

	p := f.watch(t, "s-lesson", 90)
	if !p.QuizPassed || !p.IsCompleted {
		t.Fatalf("after re-watch quizPassed = %v, isCompleted = %v, want both true", p.QuizPassed, p.IsCompleted)
	}
	if p.QuizAttemptCount != 1 || p.QuizScore == nil || *p.QuizScore != 100 {
		t.Errorf("progress = %d attempts, score %v, want 1 attempt scoring 100", p.QuizAttemptCount, p.QuizScore)
	}
	if !f.unlocked(t, "s-wrapup") {
		t.Error("s-wrapup should unlock once s-lesson completes")
	}
	if got := f.events.Count(progression.EventSessionCompleted); got != 1 {
		t.Errorf("session_completed events = %d, want 1", got)
	}

	if _, err := f.engine.SubmitQuizAttempt(t.Context(), learnerID, "q-lesson", nil, 10); !errors.Is(err, progression.ErrAttemptLimitExceeded) {
		t.Errorf("second SubmitQuizAttempt() error = %v, want ErrAttemptLimitExceeded", err)
	}
}

func TestIssueIfEligible_RecoversLostSessionQuizResult(t *testing.T) {
	course := catalog.Course{
		ID: "quiz-only",
		Modules: []catalog.Module{{
			ID: "m1",
			Sessions: []catalog.Session{{
				ID:                     "s-quiz",
				QuizCompletionRequired: true,
				QuizPassingScore:       70,
				MaxQuizAttempts:        1,
				Quizzes:                []catalog.Quiz{fourQuestionQuiz("q-only", 70, 1)},
			}},
		}},
	}
	store := &flakyStore{MemoryStore: progression.NewMemoryStore(), quizMergeFailures: 1}
	f := newFixtureWithConfig(t, progression.EngineConfig{Store: store}, course)

	if _, err := f.engine.SubmitQuizAttempt(t.Context(), learnerID, "q-only", allCorrect("q1", "q2", "q3", "q4"), 30); !errors.Is(err, errTransient) {
		t.Fatalf("SubmitQuizAttempt() error = %v, want transient failure", err)
	}
	if _, err := f.store.GetSessionProgress(t.Context(), learnerID, "s-quiz"); !errors.Is(err, progression.ErrNotFound) {
		t.Fatalf("GetSessionProgress() error = %v, want no progress row yet", err)
	}

	cert, err := f.engine.IssueIfEligible(t.Context(), learnerID, "quiz-only")
	if err != nil {
		t.Fatalf("IssueIfEligible() error = %v", err)
	}
	if cert == nil || !cert.IsValid {
		t.Fatalf("IssueIfEligible() = %+v, want a valid certificate", cert)
	}

	progress, err := f.engine.GetEnrollmentProgress(t.Context(), f.enrollment.ID)
	if err != nil {
		t.Fatalf("GetEnrollmentProgress() error = %v", err)
	}
	if progress.ProgressPercentage != 100 || progress.CompletedAt == nil {
		t.Errorf("progress = %v%%, completedAt %v, want 100%% and set", progress.ProgressPercentage, progress.CompletedAt)
	}
}

func TestIssueIfEligible_RecoversLostFinalAssessmentResult(t *testing.T) {
	store := &flakyStore{MemoryStore: progression.NewMemoryStore(), finalPassFailures: 1}
	f := newFixtureWithConfig(t, progression.EngineConfig{Store: store}, finalCourse())

	f.watch(t, "fs1", 60)
	if _, err := f.engine.SubmitQuizAttempt(t.Context(), learnerID, "q-final", []progression.Answer{answer("f1", "a", "b"), answer("f2", "a")}, 30); !errors.Is(err, errTransient) {
		t.Fatalf("SubmitQuizAttempt() error = %v, want transient failure", err)
	}
	enr, err := f.store.GetEnrollment(t.Context(), f.enrollment.ID)
	if err != nil {
		t.Fatalf("GetEnrollment() error = %v", err)
	}
	if enr.FinalAssessmentPassed {
		t.Fatal("FinalAssessmentPassed set despite the failed write")
	}

	cert, err := f.engine.IssueIfEligible(t.Context(), learnerID, "final-course")
	if err != nil {
		t.Fatalf("IssueIfEligible() error = %v", err)
	}
	if cert == nil {
		t.Fatal("IssueIfEligible() = nil, want a certificate from the recorded passing attempt")
	}
	enr, _ = f.store.GetEnrollment(t.Context(), f.enrollment.ID)
	if !enr.FinalAssessmentPassed || enr.FinalAssessmentScore == nil || *enr.FinalAssessmentScore != 100 {
		t.Errorf("enrollment = passed %v score %v, want passed with 100", enr.FinalAssessmentPassed, enr.FinalAssessmentScore)
	}
	if got := f.events.Count(progression.EventFinalAssessmentPassed); got != 1 {
		t.Errorf("final_assessment_passed events = %d, want 1", got)
	}
}

func TestSubmitQuizAttempt_FailedAttemptsDoNotComplete(t *testing.T) {
	course := quizCourse()
	store := &flakyStore{MemoryStore: progression.NewMemoryStore(), quizMergeFailures: 1}
	f := newFixtureWithConfig(t, progression.EngineConfig{Store: store}, course)

	f.watch(t, "s-lesson", 90)
	if _, err := f.engine.SubmitQuizAttempt(t.Context(), learnerID, "q-lesson", []progression.Answer{answer("q1", "a")}, 10); !errors.Is(err, errTransient) {
		t.Fatalf("SubmitQuizAttempt() error = %v, want transient failure", err)
	}

	p := f.watch(t, "s-lesson", 95)
	if p.QuizPassed || p.IsCompleted {
		t.Errorf("progress = %+v, a failing attempt must not complete the session", p)
	}
	if p.QuizAttemptCount != 1 {
		t.Errorf("QuizAttemptCount = %d, want 1 counted from recorded attempts", p.QuizAttemptCount)
	}
}
