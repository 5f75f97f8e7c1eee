package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

const maxCertificateNumberTries = 5

// GetCertificate returns the learner's certificate for a course, valid or
// revoked, or nil when none was ever issued.
func (e *Engine) GetCertificate(ctx context.Context, learnerID, courseID string) (*Certificate, error) {
	if _, ok := e.catalog.Course(courseID); !ok {
		return nil, notFound("course", courseID)
	}
	return e.store.FindCertificate(ctx, learnerID, courseID)
}

// IssueIfEligible mints the certificate for (learner, course) once the course
// is complete. It is a no-op returning nil when the course is not complete,
// and returns the existing certificate when one was already issued. Sessions
// are re-evaluated first, so it also completes a cascade that failed midway.
func (e *Engine) IssueIfEligible(ctx context.Context, learnerID, courseID string) (*Certificate, error) {
	enr, err := e.store.FindEnrollment(ctx, learnerID, courseID)
	if err != nil {
		return nil, err
	}
	if !enr.Active() {
		return nil, ErrEnrollmentNotActive.withf("enrollment %s is %s", enr.ID, enr.Status)
	}
	cc, err := e.loadCourse(enr)
	if err != nil {
		return nil, err
	}
	if err := e.resettleSessions(ctx, cc); err != nil {
		return nil, err
	}
	return e.settleCourse(ctx, cc)
}

// issue creates the certificate for a completed course. A revoked certificate
// blocks automatic re-issuance; a concurrent insert is treated as success.
func (e *Engine) issue(ctx context.Context, cc courseContext, roll Rollup) (*Certificate, error) {
	enr := cc.enrollment

	existing, err := e.store.FindCertificate(ctx, enr.LearnerID, enr.CourseID)
	if err != nil {
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	if existing != nil {
		slog.Debug("certificate already issued",
			"learner_id", enr.LearnerID,
			"course_id", enr.CourseID,
			"certificate_number", existing.CertificateNumber,
			"is_valid", existing.IsValid,
		)
		return existing, nil
	}

	issuedAt := e.now()
	cert := Certificate{
		ID:           generateID(),
		LearnerID:    enr.LearnerID,
		CourseID:     enr.CourseID,
		EnrollmentID: enr.ID,
		IssuedAt:     issuedAt,
		CompletedAt:  enr.CompletedAt,
		FinalScore:   finalScore(enr, roll),
		IsValid:      true,
	}

	for try := 1; ; try++ {
		cert.CertificateNumber = e.certNumber(e.certPrefix, enr.CourseID, issuedAt)
		err = e.store.CreateCertificate(ctx, cert)
		if !errors.Is(err, ErrDuplicateCertificateNumber) || try >= maxCertificateNumberTries {
			break
		}
		slog.Warn("certificate number collision, retrying", "number", cert.CertificateNumber, "try", try)
	}

	if errors.Is(err, ErrDuplicateCertificate) {
		slog.Warn("certificate issued concurrently, using existing",
			"learner_id", enr.LearnerID,
			"course_id", enr.CourseID,
		)
		return e.store.FindCertificate(ctx, enr.LearnerID, enr.CourseID)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("certificate issued",
		"learner_id", enr.LearnerID,
		"course_id", enr.CourseID,
		"certificate_number", cert.CertificateNumber,
	)
	data := map[string]any{"course_id": enr.CourseID, "certificate_number": cert.CertificateNumber}
	if cert.FinalScore != nil {
		data["final_score"] = *cert.FinalScore
	}
	e.logEvent(ctx, Event{
		LearnerID:    enr.LearnerID,
		EnrollmentID: enr.ID,
		EventType:    EventCertificateIssued,
		Data:         data,
	})
	return &cert, nil
}

// finalScore is the final assessment score when the learner has one, else
// the unweighted mean of passed session quiz scores, else nil.
func finalScore(enr Enrollment, roll Rollup) *float64 {
	if enr.FinalAssessmentPassed && enr.FinalAssessmentScore != nil {
		score := float64(*enr.FinalAssessmentScore)
		return &score
	}

	sum, n := 0, 0
	for _, s := range roll.Sessions {
		if s.QuizPassed && s.QuizScore != nil {
			sum += *s.QuizScore
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := math.Round(float64(sum)/float64(n)*100) / 100
	return &avg
}
