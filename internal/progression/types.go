package progression

import "time"

// EnrollmentStatus is the approval state owned by the enrollment workflow.
type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "pending"
	EnrollmentApproved  EnrollmentStatus = "approved"
	EnrollmentRejected  EnrollmentStatus = "rejected"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Enrollment binds one learner to one course.
type Enrollment struct {
	ID                    string           `json:"id"`
	LearnerID             string           `json:"learner_id"`
	CourseID              string           `json:"course_id"`
	Status                EnrollmentStatus `json:"status"`
	ProgressPercentage    float64          `json:"progress_percentage"`
	FinalAssessmentPassed bool             `json:"final_assessment_passed"`
	FinalAssessmentScore  *int             `json:"final_assessment_score,omitempty"`
	CompletedAt           *time.Time       `json:"completed_at,omitempty"`
	EnrolledAt            time.Time        `json:"enrolled_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Active reports whether session and quiz actions are allowed.
func (e Enrollment) Active() bool {
	return e.Status == EnrollmentApproved
}

// SessionProgress is the per (learner, session) progress record.
type SessionProgress struct {
	ID                string     `json:"id"`
	EnrollmentID      string     `json:"enrollment_id"`
	LearnerID         string     `json:"learner_id"`
	SessionID         string     `json:"session_id"`
	WatchPercentage   float64    `json:"watch_percentage"`
	WatchTimeSeconds  int        `json:"watch_time_seconds"`
	VideoCompleted    bool       `json:"video_completed"`
	ResourcesAccessed bool       `json:"resources_accessed"`
	QuizPassed        bool       `json:"quiz_passed"`
	QuizAttemptCount  int        `json:"quiz_attempt_count"`
	QuizScore         *int       `json:"quiz_score,omitempty"`
	IsCompleted       bool       `json:"is_completed"`
	IsUnlocked        bool       `json:"is_unlocked"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	LastAccessedAt    *time.Time `json:"last_accessed_at,omitempty"`
}

// ProgressDelta is merged into a SessionProgress record: percentages, times,
// scores and the attempt count by max, flags by OR. The record is created when
// absent.
type ProgressDelta struct {
	EnrollmentID      string
	LearnerID         string
	SessionID         string
	WatchPercentage   float64
	WatchTimeSeconds  int
	VideoCompleted    bool
	ResourcesAccessed bool
	QuizPassed        bool
	QuizScore         *int
	QuizAttemptCount  int // attempts recorded so far, not an increment
	IsUnlocked        bool
	AccessedAt        *time.Time
}

// Answer is one submitted answer. AnsweredAtSeconds is the optional offset
// from the start of the attempt at which the learner answered.
type Answer struct {
	QuestionID        string   `json:"question_id"`
	OptionIDs         []string `json:"option_ids"`
	AnsweredAtSeconds *int     `json:"answered_at_seconds,omitempty"`
}

// QuestionAnswer is the graded answer to one question.
type QuestionAnswer struct {
	QuestionID        string   `json:"question_id"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
	IsCorrect         bool     `json:"is_correct"`
	PointsEarned      int      `json:"points_earned"`
}

// QuizAttempt is one graded submission. It is immutable once stored.
type QuizAttempt struct {
	ID               string           `json:"id"`
	QuizID           string           `json:"quiz_id"`
	LearnerID        string           `json:"learner_id"`
	EnrollmentID     string           `json:"enrollment_id"`
	AttemptNumber    int              `json:"attempt_number"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      time.Time        `json:"completed_at"`
	Score            int              `json:"score"`
	TotalPoints      int              `json:"total_points"`
	PointsEarned     int              `json:"points_earned"`
	CorrectAnswers   int              `json:"correct_answers"`
	TotalQuestions   int              `json:"total_questions"`
	IsPassed         bool             `json:"is_passed"`
	TimedOut         bool             `json:"timed_out"`
	TimeSpentSeconds int              `json:"time_spent_seconds"`
	Answers          []QuestionAnswer `json:"answers"`
}

// Certificate is minted once per (learner, course).
type Certificate struct {
	ID                 string     `json:"id"`
	LearnerID          string     `json:"learner_id"`
	CourseID           string     `json:"course_id"`
	EnrollmentID       string     `json:"enrollment_id"`
	CertificateNumber  string     `json:"certificate_number"`
	IssuedAt           time.Time  `json:"issued_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	FinalScore         *float64   `json:"final_score,omitempty"`
	IsValid            bool       `json:"is_valid"`
	InvalidationReason string     `json:"invalidation_reason,omitempty"`
}
