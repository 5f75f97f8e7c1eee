package progression

import (
	"context"
	"fmt"
	"log/slog"
)

// IsUnlocked reports whether the session is currently open for the
// enrollment. An enrollment that is not approved unlocks nothing.
func (e *Engine) IsUnlocked(ctx context.Context, enrollmentID, sessionID string) (bool, error) {
	enr, err := e.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	session, ok := e.catalog.Session(sessionID)
	if !ok || session.CourseID != enr.CourseID {
		return false, notFound("session", sessionID)
	}
	if !enr.Active() {
		return false, nil
	}
	cc, err := e.loadCourse(enr)
	if err != nil {
		return false, err
	}
	return e.unlocked(ctx, cc, sessionID)
}

// unlocked evaluates the gate from the source of truth: the first session is
// always open; otherwise the course is free-order or the predecessor is complete.
func (e *Engine) unlocked(ctx context.Context, cc courseContext, sessionID string) (bool, error) {
	pos, ok := cc.seq.Position(sessionID)
	if !ok {
		return false, notFound("session", sessionID)
	}
	if pos == 0 || !cc.course.SequentialProgressRequired {
		return true, nil
	}

	prev, _ := cc.seq.Predecessor(sessionID)
	p, err := e.store.GetSessionProgress(ctx, cc.enrollment.LearnerID, prev.ID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get predecessor progress: %w", err)
	}
	return p.IsCompleted, nil
}

// unlockSuccessor caches the unlock flag on the next session's record,
// creating it when absent.
func (e *Engine) unlockSuccessor(ctx context.Context, cc courseContext, sessionID string) error {
	next, ok := cc.seq.Successor(sessionID)
	if !ok {
		return nil
	}

	unlocked, err := e.unlocked(ctx, cc, next.ID)
	if err != nil || !unlocked {
		return err
	}

	learnerID := cc.enrollment.LearnerID
	before, err := e.store.GetSessionProgress(ctx, learnerID, next.ID)
	if err != nil && !isNotFound(err) {
		return err
	}
	if err == nil && before.IsUnlocked {
		return nil
	}

	if _, err := e.store.MergeSessionProgress(ctx, ProgressDelta{
		EnrollmentID: cc.enrollment.ID,
		LearnerID:    learnerID,
		SessionID:    next.ID,
		IsUnlocked:   true,
	}); err != nil {
		return err
	}

	slog.Info("session unlocked",
		"learner_id", learnerID,
		"enrollment_id", cc.enrollment.ID,
		"session_id", next.ID,
	)
	e.logEvent(ctx, Event{
		LearnerID:    learnerID,
		EnrollmentID: cc.enrollment.ID,
		EventType:    EventSessionUnlocked,
		Data:         map[string]any{"session_id": next.ID, "after_session_id": sessionID},
	})
	return nil
}
