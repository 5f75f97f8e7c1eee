package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/p-n-ai/pai-learn/internal/catalog"
)

// quizContext is a quiz resolved against the learner's enrollment.
type quizContext struct {
	quiz    catalog.Quiz
	cc      courseContext
	session *catalog.Session // set for session-scoped quizzes
	limit   int              // 0 = unlimited
}

// SubmitQuizAttempt grades a submission and records it as the learner's next
// attempt. Submissions for one (learner, quiz) are serialized so attempt
// numbers are assigned against a consistent count. The attempt is recorded
// even when the completion cascade that follows fails; that error is returned
// alongside it.
func (e *Engine) SubmitQuizAttempt(ctx context.Context, learnerID, quizID string, answers []Answer, elapsedSeconds int) (QuizAttempt, error) {
	if elapsedSeconds < 0 {
		return QuizAttempt{}, ErrInvalidInput.withf("elapsed time %d is negative", elapsedSeconds)
	}

	qc, err := e.quizAccess(ctx, learnerID, quizID)
	if err != nil {
		return QuizAttempt{}, err
	}
	submitted, err := normalizeAnswers(qc.quiz, answers)
	if err != nil {
		return QuizAttempt{}, err
	}

	unlock, err := e.locker.Lock(ctx, attemptLockKey(learnerID, quizID))
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return QuizAttempt{}, ErrSubmissionInProgress.wrap(err, "another submission for quiz %s is in progress", quizID)
		}
		return QuizAttempt{}, fmt.Errorf("acquire submission lock: %w", err)
	}
	defer unlock()

	prior, err := e.store.CountAttempts(ctx, learnerID, quizID)
	if err != nil {
		return QuizAttempt{}, fmt.Errorf("count attempts: %w", err)
	}
	if qc.limit > 0 && prior >= qc.limit {
		return QuizAttempt{}, ErrAttemptLimitExceeded.withf("quiz %s allows %d attempts", quizID, qc.limit)
	}

	attempt := grade(qc.quiz, submitted, elapsedSeconds)
	attempt.AttemptNumber = prior + 1
	attempt.ID = AttemptID(quizID, learnerID, attempt.AttemptNumber)
	attempt.QuizID = quizID
	attempt.LearnerID = learnerID
	attempt.EnrollmentID = qc.cc.enrollment.ID
	attempt.CompletedAt = e.now()
	attempt.StartedAt = attempt.CompletedAt.Add(-time.Duration(elapsedSeconds) * time.Second)

	if err := e.store.CreateAttempt(ctx, attempt); err != nil {
		return QuizAttempt{}, err
	}

	slog.Info("quiz attempt graded",
		"learner_id", learnerID,
		"quiz_id", quizID,
		"attempt", attempt.AttemptNumber,
		"score", attempt.Score,
		"passed", attempt.IsPassed,
		"timed_out", attempt.TimedOut,
	)
	e.logEvent(ctx, Event{
		LearnerID:    learnerID,
		EnrollmentID: attempt.EnrollmentID,
		EventType:    EventQuizAttemptGraded,
		Data: map[string]any{
			"quiz_id":        quizID,
			"attempt_number": attempt.AttemptNumber,
			"score":          attempt.Score,
			"is_passed":      attempt.IsPassed,
			"timed_out":      attempt.TimedOut,
		},
	})

	if err := e.applyAttempt(ctx, qc, attempt); err != nil {
		return attempt, fmt.Errorf("apply attempt outcome: %w", err)
	}
	return attempt, nil
}

// applyAttempt feeds a graded attempt into session or course state.
// Module-scoped quizzes carry no completion requirement. A failure here leaves
// the stored attempt authoritative; settleSession and settleCourse fold it back
// in on the next event.
func (e *Engine) applyAttempt(ctx context.Context, qc quizContext, attempt QuizAttempt) error {
	switch qc.quiz.Scope.Kind {
	case catalog.ScopeSession:
		session := *qc.session
		score := attempt.Score
		now := e.now()
		merged, err := e.store.MergeSessionProgress(ctx, ProgressDelta{
			EnrollmentID:     qc.cc.enrollment.ID,
			LearnerID:        attempt.LearnerID,
			SessionID:        session.ID,
			QuizPassed:       passesSessionQuiz(session, attempt),
			QuizScore:        &score,
			QuizAttemptCount: attempt.AttemptNumber,
			IsUnlocked:       true,
			AccessedAt:       &now,
		})
		if err != nil {
			return fmt.Errorf("record quiz result: %w", err)
		}
		_, err = e.settleSession(ctx, qc.cc, session, merged)
		return err

	case catalog.ScopeCourse:
		if !passesFinalAssessment(qc.cc.course, attempt) {
			return nil
		}
		enr, err := e.passFinalAssessment(ctx, qc.cc, attempt.QuizID, attempt.Score)
		if err != nil {
			return err
		}
		qc.cc.enrollment = enr
		_, err = e.settleCourse(ctx, qc.cc)
		return err
	}
	return nil
}

// passFinalAssessment records a passing final assessment score on the enrollment.
func (e *Engine) passFinalAssessment(ctx context.Context, cc courseContext, quizID string, score int) (Enrollment, error) {
	enr, err := e.store.MarkFinalAssessmentPassed(ctx, cc.enrollment.ID, score)
	if err != nil {
		return Enrollment{}, fmt.Errorf("mark final assessment passed: %w", err)
	}
	slog.Info("final assessment passed",
		"learner_id", enr.LearnerID,
		"course_id", enr.CourseID,
		"score", score,
	)
	e.logEvent(ctx, Event{
		LearnerID:    enr.LearnerID,
		EnrollmentID: enr.ID,
		EventType:    EventFinalAssessmentPassed,
		Data:         map[string]any{"quiz_id": quizID, "score": score},
	})
	return enr, nil
}

func passesSessionQuiz(session catalog.Session, a QuizAttempt) bool {
	return a.IsPassed && a.Score >= session.QuizPassingScore
}

func passesFinalAssessment(course catalog.Course, a QuizAttempt) bool {
	return a.IsPassed && a.Score >= course.FinalAssessmentPassingScore
}

// reconcileSessionQuiz folds the learner's recorded attempts into session
// progress while the quiz requirement is still open. Stored attempts are the
// record of truth for quiz results.
func (e *Engine) reconcileSessionQuiz(ctx context.Context, cc courseContext, session catalog.Session, p SessionProgress) (SessionProgress, error) {
	if !session.QuizCompletionRequired || p.QuizPassed {
		return p, nil
	}
	quiz, ok := e.catalog.SessionQuiz(session.ID)
	if !ok {
		return p, nil
	}
	attempts, err := e.store.ListAttempts(ctx, cc.enrollment.LearnerID, quiz.ID)
	if err != nil {
		return p, fmt.Errorf("list attempts: %w", err)
	}

	passed, best := false, 0
	for _, a := range attempts {
		passed = passed || passesSessionQuiz(session, a)
		best = max(best, a.Score)
	}
	if !passed && len(attempts) <= p.QuizAttemptCount {
		return p, nil
	}

	merged, err := e.store.MergeSessionProgress(ctx, ProgressDelta{
		EnrollmentID:     cc.enrollment.ID,
		LearnerID:        cc.enrollment.LearnerID,
		SessionID:        session.ID,
		QuizPassed:       passed,
		QuizScore:        &best,
		QuizAttemptCount: len(attempts),
		IsUnlocked:       true,
	})
	if err != nil {
		return p, fmt.Errorf("reconcile quiz result: %w", err)
	}
	slog.Warn("quiz result restored from recorded attempts",
		"learner_id", cc.enrollment.LearnerID,
		"session_id", session.ID,
		"quiz_id", quiz.ID,
		"attempts", len(attempts),
		"quiz_passed", passed,
	)
	return merged, nil
}

// reconcileFinalAssessment marks the final assessment passed when a recorded
// attempt passed it but the enrollment never took the result.
func (e *Engine) reconcileFinalAssessment(ctx context.Context, cc courseContext) (courseContext, error) {
	if !cc.course.FinalAssessmentRequired || cc.enrollment.FinalAssessmentPassed {
		return cc, nil
	}
	quiz, ok := e.catalog.FinalAssessment(cc.course.ID)
	if !ok {
		return cc, nil
	}
	attempts, err := e.store.ListAttempts(ctx, cc.enrollment.LearnerID, quiz.ID)
	if err != nil {
		return cc, fmt.Errorf("list attempts: %w", err)
	}

	best := -1
	for _, a := range attempts {
		if passesFinalAssessment(cc.course, a) {
			best = max(best, a.Score)
		}
	}
	if best < 0 {
		return cc, nil
	}
	enr, err := e.passFinalAssessment(ctx, cc, quiz.ID, best)
	if err != nil {
		return cc, err
	}
	cc.enrollment = enr
	return cc, nil
}

// quizAccess requires an approved enrollment in the quiz's course and, for a
// session-scoped quiz, an unlocked session.
func (e *Engine) quizAccess(ctx context.Context, learnerID, quizID string) (quizContext, error) {
	quiz, ok := e.catalog.Quiz(quizID)
	if !ok {
		return quizContext{}, notFound("quiz", quizID)
	}

	enr, err := e.store.FindEnrollment(ctx, learnerID, quiz.CourseID)
	if err != nil {
		if isNotFound(err) {
			return quizContext{}, ErrEnrollmentNotActive.withf("learner %s is not enrolled in %s", learnerID, quiz.CourseID)
		}
		return quizContext{}, err
	}
	if !enr.Active() {
		return quizContext{}, ErrEnrollmentNotActive.withf("enrollment %s is %s", enr.ID, enr.Status)
	}
	cc, err := e.loadCourse(enr)
	if err != nil {
		return quizContext{}, err
	}

	qc := quizContext{quiz: quiz, cc: cc, limit: attemptLimit(quiz.MaxAttempts)}
	if quiz.Scope.Kind == catalog.ScopeSession {
		session, ok := e.catalog.Session(quiz.Scope.ID)
		if !ok {
			return quizContext{}, notFound("session", quiz.Scope.ID)
		}
		unlocked, err := e.unlocked(ctx, cc, session.ID)
		if err != nil {
			return quizContext{}, err
		}
		if !unlocked {
			return quizContext{}, ErrSessionLocked.withf("session %s is locked", session.ID)
		}
		qc.session = &session
		qc.limit = attemptLimit(quiz.MaxAttempts, session.MaxQuizAttempts)
	}
	return qc, nil
}

// attemptLimit is the smallest positive limit, or 0 when all are unlimited.
func attemptLimit(limits ...int) int {
	limit := 0
	for _, l := range limits {
		if l > 0 && (limit == 0 || l < limit) {
			limit = l
		}
	}
	return limit
}

func attemptLockKey(learnerID, quizID string) string {
	return "quiz-attempt:" + quizID + ":" + learnerID
}

// normalizeAnswers rejects unknown or repeated questions and options and
// returns the answers keyed by question id with option ids sorted.
func normalizeAnswers(quiz catalog.Quiz, answers []Answer) (map[string]Answer, error) {
	out := make(map[string]Answer, len(answers))
	for _, a := range answers {
		q, ok := quiz.Question(a.QuestionID)
		if !ok {
			return nil, ErrInvalidAnswer.withf("question %q is not part of quiz %s", a.QuestionID, quiz.ID)
		}
		if _, dup := out[a.QuestionID]; dup {
			return nil, ErrInvalidAnswer.withf("question %q answered twice", a.QuestionID)
		}
		if a.AnsweredAtSeconds != nil && *a.AnsweredAtSeconds < 0 {
			return nil, ErrInvalidAnswer.withf("question %q has a negative answer time", a.QuestionID)
		}

		options := slices.Clone(a.OptionIDs)
		slices.Sort(options)
		for i, id := range options {
			if !q.HasOption(id) {
				return nil, ErrInvalidAnswer.withf("option %q is not part of question %q", id, q.ID)
			}
			if i > 0 && options[i-1] == id {
				return nil, ErrInvalidAnswer.withf("option %q selected twice", id)
			}
		}
		a.OptionIDs = options
		out[a.QuestionID] = a
	}
	return out, nil
}

// grade scores a submission. A question earns its points only when the
// selected set equals the correct set exactly; multi-correct questions get no
// partial credit. Past the time limit, answers stamped after the limit are
// dropped and their questions score zero.
func grade(quiz catalog.Quiz, answers map[string]Answer, elapsedSeconds int) QuizAttempt {
	attempt := QuizAttempt{
		TotalQuestions:   len(quiz.Questions),
		TimeSpentSeconds: elapsedSeconds,
		Answers:          make([]QuestionAnswer, 0, len(quiz.Questions)),
	}

	limit := quiz.TimeLimitSeconds
	if limit > 0 && elapsedSeconds > limit {
		attempt.TimedOut = true
		attempt.TimeSpentSeconds = limit
	}

	for _, q := range quiz.Questions {
		attempt.TotalPoints += q.Points

		a, answered := answers[q.ID]
		if answered && attempt.TimedOut && a.AnsweredAtSeconds != nil && *a.AnsweredAtSeconds > limit {
			answered = false
		}

		qa := QuestionAnswer{QuestionID: q.ID, SelectedOptionIDs: []string{}}
		if answered {
			qa.SelectedOptionIDs = a.OptionIDs
			correct := q.CorrectOptionIDs()
			slices.Sort(correct)
			qa.IsCorrect = len(correct) > 0 && slices.Equal(a.OptionIDs, correct)
		}
		if qa.IsCorrect {
			qa.PointsEarned = q.Points
			attempt.PointsEarned += q.Points
			attempt.CorrectAnswers++
		}
		attempt.Answers = append(attempt.Answers, qa)
	}

	if attempt.TotalPoints > 0 {
		attempt.Score = int(math.Round(100 * float64(attempt.PointsEarned) / float64(attempt.TotalPoints)))
	}
	attempt.IsPassed = attempt.Score >= quiz.PassingScore
	return attempt
}
