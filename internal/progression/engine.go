// Package progression decides when a learner may open the next session, when
// sessions, modules and courses count as done, how quiz attempts are scored
// and when a certificate is minted.
package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-learn/internal/catalog"
)

const defaultCertificatePrefix = "PAI"

// Catalog is the read-only view of course definitions the engine evaluates.
type Catalog interface {
	Course(id string) (catalog.Course, bool)
	Session(id string) (catalog.Session, bool)
	Quiz(id string) (catalog.Quiz, bool)
	SessionQuiz(sessionID string) (catalog.Quiz, bool)
	FinalAssessment(courseID string) (catalog.Quiz, bool)
}

// EngineConfig holds dependencies for the progression engine.
type EngineConfig struct {
	Catalog           Catalog
	Store             Store
	Locker            Locker      // serializes quiz submissions per (learner, quiz)
	Events            EventLogger // defaults to NopEventLogger
	CertificatePrefix string      // default "PAI"
	Now               func() time.Time
	// CertificateNumber overrides number generation, mainly for tests.
	CertificateNumber func(prefix, courseID string, issuedAt time.Time) string
}

// Engine is the progression and certification state machine. Every operation
// is a synchronous request; cascades (unlock, rollup, certify) run inline
// after the triggering write succeeds.
type Engine struct {
	catalog    Catalog
	store      Store
	locker     Locker
	events     EventLogger
	certPrefix string
	now        func() time.Time
	certNumber func(prefix, courseID string, issuedAt time.Time) string
}

// NewEngine creates a new progression engine.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	prefix := cfg.CertificatePrefix
	if prefix == "" {
		prefix = defaultCertificatePrefix
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	certNumber := cfg.CertificateNumber
	if certNumber == nil {
		certNumber = NewCertificateNumber
	}
	return &Engine{
		catalog:    cfg.Catalog,
		store:      store,
		locker:     locker,
		events:     events,
		certPrefix: prefix,
		now:        now,
		certNumber: certNumber,
	}
}

// courseContext bundles the definitions and enrollment an operation acts on.
type courseContext struct {
	enrollment Enrollment
	course     catalog.Course
	seq        Sequence
}

// Sequence returns the ordered session ids of a course.
func (e *Engine) Sequence(courseID string) ([]string, error) {
	course, ok := e.catalog.Course(courseID)
	if !ok {
		return nil, notFound("course", courseID)
	}
	return Resolve(course).IDs(), nil
}

func (e *Engine) loadCourse(enr Enrollment) (courseContext, error) {
	course, ok := e.catalog.Course(enr.CourseID)
	if !ok {
		return courseContext{}, notFound("course", enr.CourseID)
	}
	return courseContext{enrollment: enr, course: course, seq: Resolve(course)}, nil
}

// enrollmentFor loads an enrollment acted on by learnerID and requires it to be active.
func (e *Engine) enrollmentFor(ctx context.Context, learnerID, enrollmentID string) (Enrollment, error) {
	enr, err := e.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return Enrollment{}, err
	}
	if enr.LearnerID != learnerID {
		return Enrollment{}, ErrLearnerMismatch.withf("enrollment %s does not belong to learner %s", enrollmentID, learnerID)
	}
	if !enr.Active() {
		return Enrollment{}, ErrEnrollmentNotActive.withf("enrollment %s is %s", enrollmentID, enr.Status)
	}
	return enr, nil
}

// sessionAccess resolves the session within the enrollment's course and
// requires it to be unlocked.
func (e *Engine) sessionAccess(ctx context.Context, learnerID, enrollmentID, sessionID string) (courseContext, catalog.Session, error) {
	enr, err := e.enrollmentFor(ctx, learnerID, enrollmentID)
	if err != nil {
		return courseContext{}, catalog.Session{}, err
	}
	session, ok := e.catalog.Session(sessionID)
	if !ok || session.CourseID != enr.CourseID {
		return courseContext{}, catalog.Session{}, notFound("session", sessionID)
	}
	cc, err := e.loadCourse(enr)
	if err != nil {
		return courseContext{}, catalog.Session{}, err
	}

	unlocked, err := e.unlocked(ctx, cc, sessionID)
	if err != nil {
		return courseContext{}, catalog.Session{}, err
	}
	if !unlocked {
		return courseContext{}, catalog.Session{}, ErrSessionLocked.withf("session %s is locked", sessionID)
	}
	return cc, session, nil
}

// settleSession marks the session completed when its requirements hold and,
// on the false to true transition only, runs the cascade.
func (e *Engine) settleSession(ctx context.Context, cc courseContext, session catalog.Session, p SessionProgress) (SessionProgress, error) {
	if p.IsCompleted {
		return p, nil
	}
	p, err := e.reconcileSessionQuiz(ctx, cc, session, p)
	if err != nil {
		return p, err
	}
	if !e.sessionSatisfied(session, p) {
		return p, nil
	}

	completed, transitioned, err := e.store.MarkSessionCompleted(ctx, p.LearnerID, p.SessionID, e.now())
	if err != nil {
		return p, fmt.Errorf("mark session completed: %w", err)
	}
	if !transitioned {
		return completed, nil
	}

	slog.Info("session completed",
		"learner_id", p.LearnerID,
		"enrollment_id", cc.enrollment.ID,
		"session_id", p.SessionID,
	)
	e.logEvent(ctx, Event{
		LearnerID:    p.LearnerID,
		EnrollmentID: cc.enrollment.ID,
		EventType:    EventSessionCompleted,
		Data:         map[string]any{"session_id": p.SessionID, "module_id": session.ModuleID},
	})

	if err := e.cascade(ctx, cc, session.ID); err != nil {
		return completed, err
	}
	return completed, nil
}

// cascade runs unlock successor, rollup, then certificate issuance. Each step
// re-checks its own precondition, so the whole pipeline is safe to re-run.
func (e *Engine) cascade(ctx context.Context, cc courseContext, completedSessionID string) error {
	if completedSessionID != "" {
		if err := e.unlockSuccessor(ctx, cc, completedSessionID); err != nil {
			return fmt.Errorf("unlock successor: %w", err)
		}
	}
	if _, err := e.settleCourse(ctx, cc); err != nil {
		return err
	}
	return nil
}

// settleCourse recomputes the rollup and issues a certificate when the course is complete.
func (e *Engine) settleCourse(ctx context.Context, cc courseContext) (*Certificate, error) {
	cc, err := e.reconcileFinalAssessment(ctx, cc)
	if err != nil {
		return nil, err
	}
	enr, roll, err := e.aggregate(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("aggregate progress: %w", err)
	}
	if !roll.CourseCompleted {
		return nil, nil
	}
	cc.enrollment = enr
	cert, err := e.issue(ctx, cc, roll)
	if err != nil {
		return nil, fmt.Errorf("issue certificate: %w", err)
	}
	return cert, nil
}

// resettleSessions re-evaluates every session not yet completed, in course
// order, so a result whose follow-up write failed still completes its session.
func (e *Engine) resettleSessions(ctx context.Context, cc courseContext) error {
	rows, err := e.store.ListSessionProgress(ctx, cc.enrollment.ID)
	if err != nil {
		return fmt.Errorf("list session progress: %w", err)
	}
	progress := make(map[string]SessionProgress, len(rows))
	for _, p := range rows {
		progress[p.SessionID] = p
	}

	for _, session := range cc.seq.sessions {
		p, ok := progress[session.ID]
		if !ok {
			// Only a recorded quiz attempt can complete a session with no progress row.
			p, err = e.reconcileSessionQuiz(ctx, cc, session, SessionProgress{
				EnrollmentID: cc.enrollment.ID,
				LearnerID:    cc.enrollment.LearnerID,
				SessionID:    session.ID,
			})
			if err != nil {
				return err
			}
			if p.ID == "" {
				continue
			}
		}
		if _, err := e.settleSession(ctx, cc, session, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) logEvent(ctx context.Context, event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now()
	}
	if err := e.events.LogEvent(ctx, event); err != nil {
		slog.Warn("failed to log progression event", "type", event.EventType, "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
