package progression_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-learn/internal/progression"
)

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, store progression.Store) {
	ctx := t.Context()

	enr, err := store.CreateEnrollment(ctx, progression.Enrollment{
		LearnerID: "learner-store",
		CourseID:  "course-store",
		Status:    progression.EnrollmentApproved,
	})
	if err != nil {
		t.Fatalf("CreateEnrollment() error = %v", err)
	}
	if _, err := store.CreateEnrollment(ctx, progression.Enrollment{LearnerID: "learner-store", CourseID: "course-store"}); !errors.Is(err, progression.ErrDuplicateEnrollment) {
		t.Errorf("duplicate CreateEnrollment() error = %v, want ErrDuplicateEnrollment", err)
	}
	if found, err := store.FindEnrollment(ctx, "learner-store", "course-store"); err != nil || found.ID != enr.ID {
		t.Errorf("FindEnrollment() = %+v, %v", found, err)
	}

	t.Run("merge", func(t *testing.T) {
		score := 60
		base := progression.ProgressDelta{EnrollmentID: enr.ID, LearnerID: enr.LearnerID, SessionID: "s1"}

		d := base
		d.WatchPercentage, d.WatchTimeSeconds, d.QuizScore, d.QuizAttemptCount = 70, 100, &score, 2
		if _, err := store.MergeSessionProgress(ctx, d); err != nil {
			t.Fatalf("MergeSessionProgress() error = %v", err)
		}

		lower := 40
		d = base
		d.WatchPercentage, d.WatchTimeSeconds, d.QuizScore, d.QuizAttemptCount = 30, 50, &lower, 1
		d.ResourcesAccessed = true
		p, err := store.MergeSessionProgress(ctx, d)
		if err != nil {
			t.Fatalf("MergeSessionProgress() error = %v", err)
		}
		if p.WatchPercentage != 70 || p.WatchTimeSeconds != 100 {
			t.Errorf("watch = %v/%d, want 70/100", p.WatchPercentage, p.WatchTimeSeconds)
		}
		if p.QuizScore == nil || *p.QuizScore != 60 {
			t.Errorf("QuizScore = %v, want 60", p.QuizScore)
		}
		if p.QuizAttemptCount != 2 || !p.ResourcesAccessed {
			t.Errorf("progress = %+v, want attempt count 2 kept and resources accessed", p)
		}

		d = base
		p, err = store.MergeSessionProgress(ctx, d)
		if err != nil {
			t.Fatalf("MergeSessionProgress() error = %v", err)
		}
		if !p.ResourcesAccessed {
			t.Error("ResourcesAccessed reverted to false")
		}
	})

	t.Run("mark-completed-once", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Millisecond)
		p, transitioned, err := store.MarkSessionCompleted(ctx, enr.LearnerID, "s1", at)
		if err != nil || !transitioned || !p.IsCompleted {
			t.Fatalf("MarkSessionCompleted() = %+v, %v, %v", p, transitioned, err)
		}
		_, transitioned, err = store.MarkSessionCompleted(ctx, enr.LearnerID, "s1", at.Add(time.Hour))
		if err != nil || transitioned {
			t.Errorf("second MarkSessionCompleted() transitioned = %v, err = %v", transitioned, err)
		}
		got, _ := store.GetSessionProgress(ctx, enr.LearnerID, "s1")
		if got.CompletedAt == nil || !got.CompletedAt.Equal(at) {
			t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, at)
		}
		if _, _, err := store.MarkSessionCompleted(ctx, enr.LearnerID, "missing", at); !errors.Is(err, progression.ErrNotFound) {
			t.Errorf("MarkSessionCompleted(missing) error = %v, want ErrNotFound", err)
		}
		list, err := store.ListSessionProgress(ctx, enr.ID)
		if err != nil || len(list) != 1 {
			t.Errorf("ListSessionProgress() = %d rows, %v", len(list), err)
		}
	})

	t.Run("enrollment-completed-at-set-once", func(t *testing.T) {
		first := time.Now().UTC().Truncate(time.Millisecond)
		got, newly, err := store.UpdateEnrollmentProgress(ctx, enr.ID, 50, nil)
		if err != nil || newly || got.CompletedAt != nil || got.ProgressPercentage != 50 {
			t.Fatalf("UpdateEnrollmentProgress(nil) = %+v, %v, %v", got, newly, err)
		}
		got, newly, err = store.UpdateEnrollmentProgress(ctx, enr.ID, 100, &first)
		if err != nil || !newly {
			t.Fatalf("UpdateEnrollmentProgress(first) newly = %v, err = %v", newly, err)
		}
		later := first.Add(time.Hour)
		got, newly, err = store.UpdateEnrollmentProgress(ctx, enr.ID, 100, &later)
		if err != nil || newly || !got.CompletedAt.Equal(first) {
			t.Errorf("UpdateEnrollmentProgress(later) = %v, newly %v, err %v, want CompletedAt kept", got.CompletedAt, newly, err)
		}

		got, err = store.MarkFinalAssessmentPassed(ctx, enr.ID, 85)
		if err != nil || !got.FinalAssessmentPassed || *got.FinalAssessmentScore != 85 {
			t.Fatalf("MarkFinalAssessmentPassed() = %+v, %v", got, err)
		}
		got, _ = store.MarkFinalAssessmentPassed(ctx, enr.ID, 70)
		if *got.FinalAssessmentScore != 85 {
			t.Errorf("FinalAssessmentScore = %d, want best score 85 kept", *got.FinalAssessmentScore)
		}
	})

	t.Run("attempts", func(t *testing.T) {
		attempt := progression.QuizAttempt{
			ID:            progression.AttemptID("quiz-store", enr.LearnerID, 1),
			QuizID:        "quiz-store",
			LearnerID:     enr.LearnerID,
			EnrollmentID:  enr.ID,
			AttemptNumber: 1,
			StartedAt:     time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond),
			CompletedAt:   time.Now().UTC().Truncate(time.Millisecond),
			Score:         50,
			Answers: []progression.QuestionAnswer{
				{QuestionID: "q1", SelectedOptionIDs: []string{"a"}, IsCorrect: true, PointsEarned: 5},
			},
		}
		if err := store.CreateAttempt(ctx, attempt); err != nil {
			t.Fatalf("CreateAttempt() error = %v", err)
		}
		dup := attempt
		dup.ID = "another-id"
		if err := store.CreateAttempt(ctx, dup); !errors.Is(err, progression.ErrDuplicateAttempt) {
			t.Errorf("duplicate attempt number error = %v, want ErrDuplicateAttempt", err)
		}

		n, err := store.CountAttempts(ctx, enr.LearnerID, "quiz-store")
		if err != nil || n != 1 {
			t.Errorf("CountAttempts() = %d, %v, want 1", n, err)
		}
		got, err := store.GetAttempt(ctx, attempt.ID)
		if err != nil {
			t.Fatalf("GetAttempt() error = %v", err)
		}
		if len(got.Answers) != 1 || got.Answers[0].SelectedOptionIDs[0] != "a" {
			t.Errorf("GetAttempt().Answers = %+v", got.Answers)
		}
		if _, err := store.GetAttempt(ctx, "missing"); !errors.Is(err, progression.ErrNotFound) {
			t.Errorf("GetAttempt(missing) error = %v, want ErrNotFound", err)
		}
		list, err := store.ListAttempts(ctx, enr.LearnerID, "quiz-store")
		if err != nil || len(list) != 1 {
			t.Errorf("ListAttempts() = %d, %v", len(list), err)
		}
	})

	t.Run("certificates", func(t *testing.T) {
		if c, err := store.FindCertificate(ctx, enr.LearnerID, enr.CourseID); err != nil || c != nil {
			t.Fatalf("FindCertificate() = %+v, %v, want nil", c, err)
		}

		cert := progression.Certificate{
			ID:                "cert-store-1",
			LearnerID:         enr.LearnerID,
			CourseID:          enr.CourseID,
			EnrollmentID:      enr.ID,
			CertificateNumber: "PAI-STORE-1",
			IssuedAt:          time.Now().UTC().Truncate(time.Millisecond),
			IsValid:           true,
		}
		if err := store.CreateCertificate(ctx, cert); err != nil {
			t.Fatalf("CreateCertificate() error = %v", err)
		}

		second := cert
		second.ID, second.CertificateNumber = "cert-store-2", "PAI-STORE-2"
		if err := store.CreateCertificate(ctx, second); !errors.Is(err, progression.ErrDuplicateCertificate) {
			t.Errorf("second valid certificate error = %v, want ErrDuplicateCertificate", err)
		}

		reused := cert
		reused.ID, reused.LearnerID = "cert-store-3", "someone-else"
		if err := store.CreateCertificate(ctx, reused); !errors.Is(err, progression.ErrDuplicateCertificateNumber) {
			t.Errorf("reused number error = %v, want ErrDuplicateCertificateNumber", err)
		}

		found, err := store.FindCertificate(ctx, enr.LearnerID, enr.CourseID)
		if err != nil || found == nil || found.CertificateNumber != "PAI-STORE-1" {
			t.Errorf("FindCertificate() = %+v, %v", found, err)
		}
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, progression.NewMemoryStore())
}

func TestMemoryStore_ConcurrentMerge(t *testing.T) {
	store := progression.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			store.MergeSessionProgress(ctx, progression.ProgressDelta{
				EnrollmentID:     "e1",
				LearnerID:        "l1",
				SessionID:        "s1",
				WatchPercentage:  float64(n * 2),
				QuizAttemptCount: n,
			})
		}(i)
	}
	wg.Wait()

	p, err := store.GetSessionProgress(ctx, "l1", "s1")
	if err != nil {
		t.Fatalf("GetSessionProgress() error = %v", err)
	}
	if p.WatchPercentage != 100 || p.QuizAttemptCount != 50 {
		t.Errorf("progress = %+v, want 100%% and 50 attempts", p)
	}
}

func TestMemoryStore_SetEnrollmentStatus_NotFound(t *testing.T) {
	store := progression.NewMemoryStore()
	if err := store.SetEnrollmentStatus(t.Context(), "missing", progression.EnrollmentApproved); !errors.Is(err, progression.ErrNotFound) {
		t.Errorf("SetEnrollmentStatus() error = %v, want ErrNotFound", err)
	}
}
