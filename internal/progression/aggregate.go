package progression

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// SessionState is one row of an enrollment's per-session view.
type SessionState struct {
	SessionID         string     `json:"session_id"`
	ModuleID          string     `json:"module_id"`
	Position          int        `json:"position"`
	IsUnlocked        bool       `json:"is_unlocked"`
	IsCompleted       bool       `json:"is_completed"`
	WatchPercentage   float64    `json:"watch_percentage"`
	WatchTimeSeconds  int        `json:"watch_time_seconds"`
	ResourcesAccessed bool       `json:"resources_accessed"`
	QuizPassed        bool       `json:"quiz_passed"`
	QuizAttemptCount  int        `json:"quiz_attempt_count"`
	QuizScore         *int       `json:"quiz_score,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// ModuleState is derived: a module is complete iff all its sessions are.
type ModuleState struct {
	ModuleID          string `json:"module_id"`
	CompletedSessions int    `json:"completed_sessions"`
	TotalSessions     int    `json:"total_sessions"`
	IsCompleted       bool   `json:"is_completed"`
}

// Rollup is the recomputed completion state of one enrollment.
type Rollup struct {
	CompletedSessions  int            `json:"completed_sessions"`
	TotalSessions      int            `json:"total_sessions"`
	ProgressPercentage float64        `json:"progress_percentage"`
	CourseCompleted    bool           `json:"course_completed"`
	Modules            []ModuleState  `json:"modules"`
	Sessions           []SessionState `json:"sessions"`
}

// EnrollmentProgress is the dashboard view of one enrollment.
type EnrollmentProgress struct {
	EnrollmentID          string     `json:"enrollment_id"`
	LearnerID             string     `json:"learner_id"`
	CourseID              string     `json:"course_id"`
	Status                string     `json:"status"`
	FinalAssessmentPassed bool       `json:"final_assessment_passed"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	Rollup
}

// GetEnrollmentProgress recomputes and returns the enrollment's progress.
func (e *Engine) GetEnrollmentProgress(ctx context.Context, enrollmentID string) (EnrollmentProgress, error) {
	enr, err := e.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return EnrollmentProgress{}, err
	}
	cc, err := e.loadCourse(enr)
	if err != nil {
		return EnrollmentProgress{}, err
	}

	progress, err := e.store.ListSessionProgress(ctx, enr.ID)
	if err != nil {
		return EnrollmentProgress{}, fmt.Errorf("list session progress: %w", err)
	}
	roll := e.computeRollup(cc, progress)

	return EnrollmentProgress{
		EnrollmentID:          enr.ID,
		LearnerID:             enr.LearnerID,
		CourseID:              enr.CourseID,
		Status:                string(enr.Status),
		FinalAssessmentPassed: enr.FinalAssessmentPassed,
		CompletedAt:           enr.CompletedAt,
		Rollup:                roll,
	}, nil
}

// aggregate recomputes the rollup and writes the percentage back, setting
// completedAt the first time the course is complete.
func (e *Engine) aggregate(ctx context.Context, cc courseContext) (Enrollment, Rollup, error) {
	progress, err := e.store.ListSessionProgress(ctx, cc.enrollment.ID)
	if err != nil {
		return Enrollment{}, Rollup{}, fmt.Errorf("list session progress: %w", err)
	}
	roll := e.computeRollup(cc, progress)

	var completedAt *time.Time
	if roll.CourseCompleted {
		now := e.now()
		completedAt = &now
	}
	enr, newlyCompleted, err := e.store.UpdateEnrollmentProgress(ctx, cc.enrollment.ID, roll.ProgressPercentage, completedAt)
	if err != nil {
		return Enrollment{}, Rollup{}, fmt.Errorf("update enrollment progress: %w", err)
	}

	if newlyCompleted {
		slog.Info("enrollment completed",
			"learner_id", enr.LearnerID,
			"enrollment_id", enr.ID,
			"course_id", enr.CourseID,
		)
		e.logEvent(ctx, Event{
			LearnerID:    enr.LearnerID,
			EnrollmentID: enr.ID,
			EventType:    EventEnrollmentCompleted,
			Data:         map[string]any{"course_id": enr.CourseID},
		})
	}
	return enr, roll, nil
}

// computeRollup is pure over the enrollment, course order and progress rows.
func (e *Engine) computeRollup(cc courseContext, rows []SessionProgress) Rollup {
	progress := make(map[string]SessionProgress, len(rows))
	for _, p := range rows {
		progress[p.SessionID] = p
	}

	roll := Rollup{TotalSessions: cc.seq.Len()}
	moduleIdx := make(map[string]int)
	for _, m := range cc.course.Modules {
		moduleIdx[m.ID] = len(roll.Modules)
		roll.Modules = append(roll.Modules, ModuleState{ModuleID: m.ID, TotalSessions: len(m.Sessions)})
	}

	prevCompleted := false
	for pos, session := range cc.seq.sessions {
		p := progress[session.ID]
		state := SessionState{
			SessionID:         session.ID,
			ModuleID:          session.ModuleID,
			Position:          pos,
			IsUnlocked:        pos == 0 || !cc.course.SequentialProgressRequired || prevCompleted,
			IsCompleted:       p.IsCompleted,
			WatchPercentage:   p.WatchPercentage,
			WatchTimeSeconds:  p.WatchTimeSeconds,
			ResourcesAccessed: p.ResourcesAccessed,
			QuizPassed:        p.QuizPassed,
			QuizAttemptCount:  p.QuizAttemptCount,
			QuizScore:         p.QuizScore,
			CompletedAt:       p.CompletedAt,
		}
		roll.Sessions = append(roll.Sessions, state)
		prevCompleted = p.IsCompleted

		if p.IsCompleted {
			roll.CompletedSessions++
			if i, ok := moduleIdx[session.ModuleID]; ok {
				roll.Modules[i].CompletedSessions++
			}
		}
	}

	allModules := true
	for i := range roll.Modules {
		m := &roll.Modules[i]
		m.IsCompleted = m.CompletedSessions == m.TotalSessions
		allModules = allModules && m.IsCompleted
	}

	if roll.TotalSessions > 0 {
		pct := 100 * float64(roll.CompletedSessions) / float64(roll.TotalSessions)
		roll.ProgressPercentage = math.Round(pct*100) / 100
	}

	roll.CourseCompleted = roll.TotalSessions > 0 && allModules && e.finalAssessmentSatisfied(cc)
	return roll
}

// finalAssessmentSatisfied holds when none is required, when the course has
// no course-scoped quiz to pass, or when the enrollment has passed it.
func (e *Engine) finalAssessmentSatisfied(cc courseContext) bool {
	if !cc.course.FinalAssessmentRequired {
		return true
	}
	if _, ok := e.catalog.FinalAssessment(cc.course.ID); !ok {
		return true
	}
	return cc.enrollment.FinalAssessmentPassed
}
