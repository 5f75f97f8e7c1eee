package progression

import (
	"context"
	"fmt"
	"math"

	"github.com/p-n-ai/pai-learn/internal/catalog"
)

// RecordWatchProgress merges a watch heartbeat into the learner's session
// progress. Percentages and watch time only ever grow; repeating an update
// that changes nothing performs no write.
func (e *Engine) RecordWatchProgress(ctx context.Context, learnerID, enrollmentID, sessionID string, watchPercentage float64, watchTimeSeconds int) (SessionProgress, error) {
	if math.IsNaN(watchPercentage) || watchPercentage < 0 || watchPercentage > 100 {
		return SessionProgress{}, ErrInvalidWatchPercentage.withf("watch percentage %v outside [0,100]", watchPercentage)
	}
	if watchTimeSeconds < 0 {
		return SessionProgress{}, ErrInvalidInput.withf("watch time %d is negative", watchTimeSeconds)
	}

	cc, session, err := e.sessionAccess(ctx, learnerID, enrollmentID, sessionID)
	if err != nil {
		return SessionProgress{}, err
	}

	existing, found, err := e.currentProgress(ctx, learnerID, sessionID)
	if err != nil {
		return SessionProgress{}, err
	}
	videoCompleted := max(watchPercentage, existing.WatchPercentage) >= session.RequiredWatchPercentage

	if found &&
		watchPercentage <= existing.WatchPercentage &&
		watchTimeSeconds <= existing.WatchTimeSeconds &&
		(!videoCompleted || existing.VideoCompleted) &&
		existing.IsUnlocked {
		return e.settleSession(ctx, cc, session, existing)
	}

	now := e.now()
	merged, err := e.store.MergeSessionProgress(ctx, ProgressDelta{
		EnrollmentID:     enrollmentID,
		LearnerID:        learnerID,
		SessionID:        sessionID,
		WatchPercentage:  watchPercentage,
		WatchTimeSeconds: watchTimeSeconds,
		VideoCompleted:   videoCompleted,
		IsUnlocked:       true,
		AccessedAt:       &now,
	})
	if err != nil {
		return SessionProgress{}, fmt.Errorf("record watch progress: %w", err)
	}
	return e.settleSession(ctx, cc, session, merged)
}

// RecordResourceAccess marks the session's resources as accessed.
func (e *Engine) RecordResourceAccess(ctx context.Context, learnerID, enrollmentID, sessionID string) (SessionProgress, error) {
	cc, session, err := e.sessionAccess(ctx, learnerID, enrollmentID, sessionID)
	if err != nil {
		return SessionProgress{}, err
	}

	existing, found, err := e.currentProgress(ctx, learnerID, sessionID)
	if err != nil {
		return SessionProgress{}, err
	}
	if found && existing.ResourcesAccessed && existing.IsUnlocked {
		return e.settleSession(ctx, cc, session, existing)
	}

	now := e.now()
	merged, err := e.store.MergeSessionProgress(ctx, ProgressDelta{
		EnrollmentID:      enrollmentID,
		LearnerID:         learnerID,
		SessionID:         sessionID,
		ResourcesAccessed: true,
		IsUnlocked:        true,
		AccessedAt:        &now,
	})
	if err != nil {
		return SessionProgress{}, fmt.Errorf("record resource access: %w", err)
	}
	return e.settleSession(ctx, cc, session, merged)
}

func (e *Engine) currentProgress(ctx context.Context, learnerID, sessionID string) (SessionProgress, bool, error) {
	p, err := e.store.GetSessionProgress(ctx, learnerID, sessionID)
	if err != nil {
		if isNotFound(err) {
			return SessionProgress{}, false, nil
		}
		return SessionProgress{}, false, fmt.Errorf("get session progress: %w", err)
	}
	return p, true, nil
}

// sessionSatisfied is the completion rule: watch threshold reached, resources
// accessed when required, quiz passed when required. A quiz requirement on a
// session without a quiz has nothing to pass and is satisfied.
func (e *Engine) sessionSatisfied(session catalog.Session, p SessionProgress) bool {
	if p.WatchPercentage < session.RequiredWatchPercentage {
		return false
	}
	if session.ResourceAccessRequired && !p.ResourcesAccessed {
		return false
	}
	if session.QuizCompletionRequired && !p.QuizPassed {
		if _, hasQuiz := e.catalog.SessionQuiz(session.ID); hasQuiz {
			return false
		}
	}
	return true
}
