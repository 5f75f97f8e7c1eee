package progression

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists enrollments, session progress, quiz attempts and certificates.
// Implementations must make MergeSessionProgress and MarkSessionCompleted
// atomic per (learner, session) and enforce uniqueness of attempt numbers per
// (learner, quiz) and of valid certificates per (learner, course).
type Store interface {
	CreateEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
	GetEnrollment(ctx context.Context, id string) (Enrollment, error)
	FindEnrollment(ctx context.Context, learnerID, courseID string) (Enrollment, error)
	// UpdateEnrollmentProgress writes the percentage and sets completedAt only
	// if it is still unset. It reports whether completedAt was set by this call.
	UpdateEnrollmentProgress(ctx context.Context, id string, percentage float64, completedAt *time.Time) (Enrollment, bool, error)
	MarkFinalAssessmentPassed(ctx context.Context, id string, score int) (Enrollment, error)

	GetSessionProgress(ctx context.Context, learnerID, sessionID string) (SessionProgress, error)
	ListSessionProgress(ctx context.Context, enrollmentID string) ([]SessionProgress, error)
	MergeSessionProgress(ctx context.Context, delta ProgressDelta) (SessionProgress, error)
	// MarkSessionCompleted flips isCompleted once. It reports whether this
	// call performed the transition.
	MarkSessionCompleted(ctx context.Context, learnerID, sessionID string, at time.Time) (SessionProgress, bool, error)

	CountAttempts(ctx context.Context, learnerID, quizID string) (int, error)
	CreateAttempt(ctx context.Context, attempt QuizAttempt) error
	GetAttempt(ctx context.Context, id string) (QuizAttempt, error)
	ListAttempts(ctx context.Context, learnerID, quizID string) ([]QuizAttempt, error)

	// FindCertificate returns the valid certificate for (learner, course), or
	// the most recently revoked one, or nil.
	FindCertificate(ctx context.Context, learnerID, courseID string) (*Certificate, error)
	CreateCertificate(ctx context.Context, cert Certificate) error
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	enrollments  map[string]*Enrollment
	progress     map[string]*SessionProgress // learner/session
	attempts     map[string]*QuizAttempt
	certificates []Certificate
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory progression store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enrollments: make(map[string]*Enrollment),
		progress:    make(map[string]*SessionProgress),
		attempts:    make(map[string]*QuizAttempt),
	}
}

func progressKey(learnerID, sessionID string) string {
	return learnerID + "/" + sessionID
}

func (s *MemoryStore) CreateEnrollment(_ context.Context, enr Enrollment) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.enrollments {
		if existing.LearnerID == enr.LearnerID && existing.CourseID == enr.CourseID {
			return Enrollment{}, ErrDuplicateEnrollment.withf("learner %s already enrolled in %s", enr.LearnerID, enr.CourseID)
		}
	}
	if enr.ID == "" {
		enr.ID = generateID()
	}
	if enr.Status == "" {
		enr.Status = EnrollmentPending
	}
	now := time.Now()
	if enr.EnrolledAt.IsZero() {
		enr.EnrolledAt = now
	}
	enr.UpdatedAt = now
	s.enrollments[enr.ID] = &enr
	return enr, nil
}

func (s *MemoryStore) GetEnrollment(_ context.Context, id string) (Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enr, ok := s.enrollments[id]
	if !ok {
		return Enrollment{}, notFound("enrollment", id)
	}
	return *enr, nil
}

func (s *MemoryStore) FindEnrollment(_ context.Context, learnerID, courseID string) (Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, enr := range s.enrollments {
		if enr.LearnerID == learnerID && enr.CourseID == courseID {
			return *enr, nil
		}
	}
	return Enrollment{}, notFound("enrollment", learnerID+"/"+courseID)
}

func (s *MemoryStore) UpdateEnrollmentProgress(_ context.Context, id string, percentage float64, completedAt *time.Time) (Enrollment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enr, ok := s.enrollments[id]
	if !ok {
		return Enrollment{}, false, notFound("enrollment", id)
	}
	enr.ProgressPercentage = percentage
	newlyCompleted := false
	if enr.CompletedAt == nil && completedAt != nil {
		at := *completedAt
		enr.CompletedAt = &at
		newlyCompleted = true
	}
	enr.UpdatedAt = time.Now()
	return *enr, newlyCompleted, nil
}

// SetEnrollmentStatus changes approval state the way the enrollment workflow does.
func (s *MemoryStore) SetEnrollmentStatus(_ context.Context, id string, status EnrollmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enr, ok := s.enrollments[id]
	if !ok {
		return notFound("enrollment", id)
	}
	enr.Status = status
	enr.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkFinalAssessmentPassed(_ context.Context, id string, score int) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enr, ok := s.enrollments[id]
	if !ok {
		return Enrollment{}, notFound("enrollment", id)
	}
	enr.FinalAssessmentPassed = true
	if enr.FinalAssessmentScore == nil || score > *enr.FinalAssessmentScore {
		enr.FinalAssessmentScore = &score
	}
	enr.UpdatedAt = time.Now()
	return *enr, nil
}

func (s *MemoryStore) GetSessionProgress(_ context.Context, learnerID, sessionID string) (SessionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[progressKey(learnerID, sessionID)]
	if !ok {
		return SessionProgress{}, notFound("session progress", progressKey(learnerID, sessionID))
	}
	return *p, nil
}

func (s *MemoryStore) ListSessionProgress(_ context.Context, enrollmentID string) ([]SessionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SessionProgress
	for _, p := range s.progress {
		if p.EnrollmentID == enrollmentID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b SessionProgress) int { return cmp.Compare(a.SessionID, b.SessionID) })
	return out, nil
}

func (s *MemoryStore) MergeSessionProgress(_ context.Context, d ProgressDelta) (SessionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey(d.LearnerID, d.SessionID)
	p, ok := s.progress[key]
	if !ok {
		p = &SessionProgress{
			ID:           generateID(),
			EnrollmentID: d.EnrollmentID,
			LearnerID:    d.LearnerID,
			SessionID:    d.SessionID,
		}
		s.progress[key] = p
	}

	p.WatchPercentage = max(p.WatchPercentage, d.WatchPercentage)
	p.WatchTimeSeconds = max(p.WatchTimeSeconds, d.WatchTimeSeconds)
	p.VideoCompleted = p.VideoCompleted || d.VideoCompleted
	p.ResourcesAccessed = p.ResourcesAccessed || d.ResourcesAccessed
	p.QuizPassed = p.QuizPassed || d.QuizPassed
	p.QuizAttemptCount = max(p.QuizAttemptCount, d.QuizAttemptCount)
	p.IsUnlocked = p.IsUnlocked || d.IsUnlocked
	if d.QuizScore != nil && (p.QuizScore == nil || *d.QuizScore > *p.QuizScore) {
		score := *d.QuizScore
		p.QuizScore = &score
	}
	if d.AccessedAt != nil && (p.LastAccessedAt == nil || d.AccessedAt.After(*p.LastAccessedAt)) {
		at := *d.AccessedAt
		p.LastAccessedAt = &at
	}
	return *p, nil
}

func (s *MemoryStore) MarkSessionCompleted(_ context.Context, learnerID, sessionID string, at time.Time) (SessionProgress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[progressKey(learnerID, sessionID)]
	if !ok {
		return SessionProgress{}, false, notFound("session progress", progressKey(learnerID, sessionID))
	}
	if p.IsCompleted {
		return *p, false, nil
	}
	p.IsCompleted = true
	p.CompletedAt = &at
	return *p, true, nil
}

func (s *MemoryStore) CountAttempts(_ context.Context, learnerID, quizID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.attempts {
		if a.LearnerID == learnerID && a.QuizID == quizID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateAttempt(_ context.Context, attempt QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attempts {
		if a.LearnerID == attempt.LearnerID && a.QuizID == attempt.QuizID && a.AttemptNumber == attempt.AttemptNumber {
			return ErrDuplicateAttempt.withf("attempt %d of quiz %s already recorded", attempt.AttemptNumber, attempt.QuizID)
		}
	}
	if _, exists := s.attempts[attempt.ID]; exists {
		return ErrDuplicateAttempt.withf("attempt %s already recorded", attempt.ID)
	}
	attempt.Answers = slices.Clone(attempt.Answers)
	s.attempts[attempt.ID] = &attempt
	return nil
}

func (s *MemoryStore) GetAttempt(_ context.Context, id string) (QuizAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return QuizAttempt{}, notFound("attempt", id)
	}
	out := *a
	out.Answers = slices.Clone(a.Answers)
	return out, nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, learnerID, quizID string) ([]QuizAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []QuizAttempt
	for _, a := range s.attempts {
		if a.LearnerID == learnerID && a.QuizID == quizID {
			cp := *a
			cp.Answers = slices.Clone(a.Answers)
			out = append(out, cp)
		}
	}
	slices.SortFunc(out, func(a, b QuizAttempt) int { return cmp.Compare(a.AttemptNumber, b.AttemptNumber) })
	return out, nil
}

func (s *MemoryStore) FindCertificate(_ context.Context, learnerID, courseID string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Certificate
	for i := range s.certificates {
		c := s.certificates[i]
		if c.LearnerID != learnerID || c.CourseID != courseID {
			continue
		}
		if c.IsValid {
			return &c, nil
		}
		if found == nil || c.IssuedAt.After(found.IssuedAt) {
			found = &c
		}
	}
	return found, nil
}

func (s *MemoryStore) CreateCertificate(_ context.Context, cert Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.certificates {
		if c.CertificateNumber == cert.CertificateNumber {
			return ErrDuplicateCertificateNumber.withf("certificate number %s already used", cert.CertificateNumber)
		}
		if cert.IsValid && c.IsValid && c.LearnerID == cert.LearnerID && c.CourseID == cert.CourseID {
			return ErrDuplicateCertificate.withf("learner %s already holds a certificate for %s", cert.LearnerID, cert.CourseID)
		}
	}
	s.certificates = append(s.certificates, cert)
	return nil
}

// RevokeCertificate invalidates a certificate the way an administrator would.
func (s *MemoryStore) RevokeCertificate(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.certificates {
		if s.certificates[i].ID == id {
			s.certificates[i].IsValid = false
			s.certificates[i].InvalidationReason = reason
			return nil
		}
	}
	return notFound("certificate", id)
}

func generateID() string {
	return uuid.NewString()
}
