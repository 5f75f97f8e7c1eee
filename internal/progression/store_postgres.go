package progression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbTimeout          = 5 * time.Second
	uniqueViolation    = "23505"
	validCertIndexName = "certificates_one_valid_idx"
)

const (
	enrollmentColumns = `id, learner_id, course_id, status, progress_percentage,
		final_assessment_passed, final_assessment_score, completed_at, enrolled_at, updated_at`
	progressColumns = `id, enrollment_id, learner_id, session_id, watch_percentage, watch_time_seconds,
		video_completed, resources_accessed, quiz_passed, quiz_attempt_count, quiz_score,
		is_completed, is_unlocked, completed_at, last_accessed_at`
	attemptColumns = `id, quiz_id, learner_id, enrollment_id, attempt_number, started_at, completed_at,
		score, total_points, points_earned, correct_answers, total_questions, is_passed, timed_out,
		time_spent_seconds, answers`
	certificateColumns = `id, learner_id, course_id, enrollment_id, certificate_number, issued_at,
		completed_at, final_score, is_valid, invalidation_reason`
)

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progression store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if enr.LearnerID == "" || enr.CourseID == "" {
		return Enrollment{}, ErrInvalidInput.withf("learner_id and course_id are required")
	}
	if enr.ID == "" {
		enr.ID = generateID()
	}
	if enr.Status == "" {
		enr.Status = EnrollmentPending
	}
	if enr.EnrolledAt.IsZero() {
		enr.EnrolledAt = time.Now()
	}

	out, err := scanEnrollment(s.pool.QueryRow(ctx,
		`INSERT INTO enrollments (id, learner_id, course_id, status, enrolled_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+enrollmentColumns,
		enr.ID, enr.LearnerID, enr.CourseID, string(enr.Status), enr.EnrolledAt,
	))
	if err != nil {
		if isUniqueViolation(err) != nil {
			return Enrollment{}, ErrDuplicateEnrollment.wrap(err, "learner %s already enrolled in %s", enr.LearnerID, enr.CourseID)
		}
		return Enrollment{}, fmt.Errorf("create enrollment: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetEnrollment(ctx context.Context, id string) (Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	enr, err := scanEnrollment(s.pool.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Enrollment{}, notFound("enrollment", id)
		}
		return Enrollment{}, fmt.Errorf("get enrollment: %w", err)
	}
	return enr, nil
}

func (s *PostgresStore) FindEnrollment(ctx context.Context, learnerID, courseID string) (Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	enr, err := scanEnrollment(s.pool.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE learner_id = $1 AND course_id = $2`,
		learnerID, courseID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Enrollment{}, notFound("enrollment", learnerID+"/"+courseID)
		}
		return Enrollment{}, fmt.Errorf("find enrollment: %w", err)
	}
	return enr, nil
}

func (s *PostgresStore) UpdateEnrollmentProgress(ctx context.Context, id string, percentage float64, completedAt *time.Time) (Enrollment, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var enr Enrollment
	var status string
	var newlyCompleted bool
	err := s.pool.QueryRow(ctx,
		`WITH prev AS (
		   SELECT id, completed_at FROM enrollments WHERE id = $1 FOR UPDATE
		 )
		 UPDATE enrollments e
		 SET progress_percentage = $2,
		     completed_at = COALESCE(e.completed_at, $3::timestamptz),
		     updated_at = NOW()
		 FROM prev
		 WHERE e.id = prev.id
		 RETURNING e.id, e.learner_id, e.course_id, e.status, e.progress_percentage,
		           e.final_assessment_passed, e.final_assessment_score, e.completed_at,
		           e.enrolled_at, e.updated_at,
		           (prev.completed_at IS NULL AND $3::timestamptz IS NOT NULL)`,
		id, percentage, completedAt,
	).Scan(
		&enr.ID, &enr.LearnerID, &enr.CourseID, &status, &enr.ProgressPercentage,
		&enr.FinalAssessmentPassed, &enr.FinalAssessmentScore, &enr.CompletedAt,
		&enr.EnrolledAt, &enr.UpdatedAt,
		&newlyCompleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Enrollment{}, false, notFound("enrollment", id)
		}
		return Enrollment{}, false, fmt.Errorf("update enrollment progress: %w", err)
	}
	enr.Status = EnrollmentStatus(status)
	return enr, newlyCompleted, nil
}

func (s *PostgresStore) MarkFinalAssessmentPassed(ctx context.Context, id string, score int) (Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	enr, err := scanEnrollment(s.pool.QueryRow(ctx,
		`UPDATE enrollments
		 SET final_assessment_passed = TRUE,
		     final_assessment_score = GREATEST(final_assessment_score, $2),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+enrollmentColumns,
		id, score,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Enrollment{}, notFound("enrollment", id)
		}
		return Enrollment{}, fmt.Errorf("mark final assessment passed: %w", err)
	}
	return enr, nil
}

func (s *PostgresStore) GetSessionProgress(ctx context.Context, learnerID, sessionID string) (SessionProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanProgress(s.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM session_progress WHERE learner_id = $1 AND session_id = $2`,
		learnerID, sessionID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionProgress{}, notFound("session progress", progressKey(learnerID, sessionID))
		}
		return SessionProgress{}, fmt.Errorf("get session progress: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListSessionProgress(ctx context.Context, enrollmentID string) ([]SessionProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+progressColumns+` FROM session_progress WHERE enrollment_id = $1 ORDER BY session_id`,
		enrollmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session progress: %w", err)
	}
	defer rows.Close()

	var out []SessionProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session progress: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MergeSessionProgress(ctx context.Context, d ProgressDelta) (SessionProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanProgress(s.pool.QueryRow(ctx,
		`INSERT INTO session_progress (
		   id, enrollment_id, learner_id, session_id, watch_percentage, watch_time_seconds,
		   video_completed, resources_accessed, quiz_passed, quiz_attempt_count, quiz_score,
		   is_unlocked, last_accessed_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (learner_id, session_id) DO UPDATE SET
		   watch_percentage   = GREATEST(session_progress.watch_percentage, EXCLUDED.watch_percentage),
		   watch_time_seconds = GREATEST(session_progress.watch_time_seconds, EXCLUDED.watch_time_seconds),
		   video_completed    = session_progress.video_completed OR EXCLUDED.video_completed,
		   resources_accessed = session_progress.resources_accessed OR EXCLUDED.resources_accessed,
		   quiz_passed        = session_progress.quiz_passed OR EXCLUDED.quiz_passed,
		   quiz_attempt_count = GREATEST(session_progress.quiz_attempt_count, EXCLUDED.quiz_attempt_count),
		   quiz_score         = GREATEST(session_progress.quiz_score, EXCLUDED.quiz_score),
		   is_unlocked        = session_progress.is_unlocked OR EXCLUDED.is_unlocked,
		   last_accessed_at   = GREATEST(session_progress.last_accessed_at, EXCLUDED.last_accessed_at)
		 RETURNING `+progressColumns,
		generateID(), d.EnrollmentID, d.LearnerID, d.SessionID, d.WatchPercentage, d.WatchTimeSeconds,
		d.VideoCompleted, d.ResourcesAccessed, d.QuizPassed, d.QuizAttemptCount, d.QuizScore,
		d.IsUnlocked, d.AccessedAt,
	))
	if err != nil {
		return SessionProgress{}, fmt.Errorf("merge session progress: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) MarkSessionCompleted(ctx context.Context, learnerID, sessionID string, at time.Time) (SessionProgress, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanProgress(s.pool.QueryRow(ctx,
		`UPDATE session_progress
		 SET is_completed = TRUE, completed_at = $3
		 WHERE learner_id = $1 AND session_id = $2 AND NOT is_completed
		 RETURNING `+progressColumns,
		learnerID, sessionID, at,
	))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return SessionProgress{}, false, fmt.Errorf("mark session completed: %w", err)
	}

	// Already completed, or no record at all.
	p, err = s.GetSessionProgress(ctx, learnerID, sessionID)
	if err != nil {
		return SessionProgress{}, false, err
	}
	return p, false, nil
}

func (s *PostgresStore) CountAttempts(ctx context.Context, learnerID, quizID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM quiz_attempts WHERE learner_id = $1 AND quiz_id = $2`,
		learnerID, quizID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, a QuizAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	answers := a.Answers
	if answers == nil {
		answers = []QuestionAnswer{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::jsonb)`,
		a.ID, a.QuizID, a.LearnerID, a.EnrollmentID, a.AttemptNumber, a.StartedAt, a.CompletedAt,
		a.Score, a.TotalPoints, a.PointsEarned, a.CorrectAnswers, a.TotalQuestions, a.IsPassed, a.TimedOut,
		a.TimeSpentSeconds, string(data),
	); err != nil {
		if isUniqueViolation(err) != nil {
			return ErrDuplicateAttempt.wrap(err, "attempt %d of quiz %s already recorded", a.AttemptNumber, a.QuizID)
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (QuizAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuizAttempt{}, notFound("attempt", id)
		}
		return QuizAttempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, learnerID, quizID string) ([]QuizAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE learner_id = $1 AND quiz_id = $2
		 ORDER BY attempt_number ASC`,
		learnerID, quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []QuizAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindCertificate(ctx context.Context, learnerID, courseID string) (*Certificate, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	c, err := scanCertificate(s.pool.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates
		 WHERE learner_id = $1 AND course_id = $2
		 ORDER BY is_valid DESC, issued_at DESC
		 LIMIT 1`,
		learnerID, courseID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCertificate(ctx context.Context, c Certificate) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO certificates (`+certificateColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.LearnerID, c.CourseID, c.EnrollmentID, c.CertificateNumber, c.IssuedAt,
		c.CompletedAt, c.FinalScore, c.IsValid, nullIfEmpty(c.InvalidationReason),
	); err != nil {
		if pgErr := isUniqueViolation(err); pgErr != nil {
			if pgErr.ConstraintName == validCertIndexName {
				return ErrDuplicateCertificate.wrap(err, "learner %s already holds a certificate for %s", c.LearnerID, c.CourseID)
			}
			return ErrDuplicateCertificateNumber.wrap(err, "certificate number %s already used", c.CertificateNumber)
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// RevokeCertificate invalidates a certificate the way an administrator would.
func (s *PostgresStore) RevokeCertificate(ctx context.Context, id, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx,
		`UPDATE certificates SET is_valid = FALSE, invalidation_reason = $2 WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("revoke certificate: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return notFound("certificate", id)
	}
	return nil
}

func scanEnrollment(row pgx.Row) (Enrollment, error) {
	var enr Enrollment
	var status string
	err := row.Scan(
		&enr.ID, &enr.LearnerID, &enr.CourseID, &status, &enr.ProgressPercentage,
		&enr.FinalAssessmentPassed, &enr.FinalAssessmentScore, &enr.CompletedAt,
		&enr.EnrolledAt, &enr.UpdatedAt,
	)
	enr.Status = EnrollmentStatus(status)
	return enr, err
}

func scanProgress(row pgx.Row) (SessionProgress, error) {
	var p SessionProgress
	err := row.Scan(
		&p.ID, &p.EnrollmentID, &p.LearnerID, &p.SessionID, &p.WatchPercentage, &p.WatchTimeSeconds,
		&p.VideoCompleted, &p.ResourcesAccessed, &p.QuizPassed, &p.QuizAttemptCount, &p.QuizScore,
		&p.IsCompleted, &p.IsUnlocked, &p.CompletedAt, &p.LastAccessedAt,
	)
	return p, err
}

func scanAttempt(row pgx.Row) (QuizAttempt, error) {
	var a QuizAttempt
	var answers []byte
	if err := row.Scan(
		&a.ID, &a.QuizID, &a.LearnerID, &a.EnrollmentID, &a.AttemptNumber, &a.StartedAt, &a.CompletedAt,
		&a.Score, &a.TotalPoints, &a.PointsEarned, &a.CorrectAnswers, &a.TotalQuestions, &a.IsPassed,
		&a.TimedOut, &a.TimeSpentSeconds, &answers,
	); err != nil {
		return QuizAttempt{}, err
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return QuizAttempt{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	return a, nil
}

func scanCertificate(row pgx.Row) (Certificate, error) {
	var c Certificate
	var reason *string
	err := row.Scan(
		&c.ID, &c.LearnerID, &c.CourseID, &c.EnrollmentID, &c.CertificateNumber, &c.IssuedAt,
		&c.CompletedAt, &c.FinalScore, &c.IsValid, &reason,
	)
	if reason != nil {
		c.InvalidationReason = *reason
	}
	return c, err
}

func isUniqueViolation(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr
	}
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
