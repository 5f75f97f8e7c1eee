package progression_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

// setupPostgres starts a throwaway PostgreSQL container with the schema applied.
func setupPostgres(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pai_learn"),
		postgres.WithUsername("pai"),
		postgres.WithPassword("pai"),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	db, err := database.New(ctx, url, 10, 1)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// A second run must be a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	return db
}

func TestPostgresStore(t *testing.T) {
	db := setupPostgres(t)

	store, err := progression.NewPostgresStore(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}

	t.Run("contract", func(t *testing.T) {
		storeContract(t, store)
	})

	t.Run("revoke", func(t *testing.T) {
		ctx := t.Context()
		enr, err := store.CreateEnrollment(ctx, progression.Enrollment{LearnerID: "learner-revoke", CourseID: "course-revoke"})
		if err != nil {
			t.Fatalf("CreateEnrollment() error = %v", err)
		}
		if enr.Status != progression.EnrollmentPending {
			t.Errorf("Status = %q, want pending default", enr.Status)
		}

		cert := progression.Certificate{
			ID: "cert-revoke", LearnerID: enr.LearnerID, CourseID: enr.CourseID, EnrollmentID: enr.ID,
			CertificateNumber: "PAI-REVOKE-1", IssuedAt: time.Now().UTC(), IsValid: true,
		}
		if err := store.CreateCertificate(ctx, cert); err != nil {
			t.Fatalf("CreateCertificate() error = %v", err)
		}
		if err := store.RevokeCertificate(ctx, cert.ID, "issued in error"); err != nil {
			t.Fatalf("RevokeCertificate() error = %v", err)
		}
		if err := store.RevokeCertificate(ctx, "missing", "x"); !errors.Is(err, progression.ErrNotFound) {
			t.Errorf("RevokeCertificate(missing) error = %v, want ErrNotFound", err)
		}

		found, err := store.FindCertificate(ctx, enr.LearnerID, enr.CourseID)
		if err != nil || found == nil {
			t.Fatalf("FindCertificate() = %v, %v", found, err)
		}
		if found.IsValid || found.InvalidationReason != "issued in error" {
			t.Errorf("FindCertificate() = %+v, want revoked record", found)
		}

		// The partial index only covers valid rows.
		again := cert
		again.ID, again.CertificateNumber = "cert-revoke-2", "PAI-REVOKE-2"
		if err := store.CreateCertificate(ctx, again); err != nil {
			t.Errorf("CreateCertificate() after revoke error = %v", err)
		}
	})
}

func TestPostgresEngine_EndToEnd(t *testing.T) {
	db := setupPostgres(t)
	ctx := t.Context()

	store, err := progression.NewPostgresStore(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	events := progression.NewPostgresEventLogger(db.Pool)

	cat, err := catalog.New(twoByTwoCourse())
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}
	engine := progression.NewEngine(progression.EngineConfig{
		Catalog: cat,
		Store:   store,
		Events:  events,
	})

	enr, err := store.CreateEnrollment(ctx, progression.Enrollment{
		LearnerID: "learner-pg",
		CourseID:  "course-2x2",
		Status:    progression.EnrollmentApproved,
	})
	if err != nil {
		t.Fatalf("CreateEnrollment() error = %v", err)
	}

	for i, sessionID := range []string{"s1", "s2", "s3", "s4"} {
		if _, err := engine.RecordWatchProgress(ctx, enr.LearnerID, enr.ID, sessionID, 85, 500); err != nil {
			t.Fatalf("RecordWatchProgress(%s) error = %v", sessionID, err)
		}
		prog, err := engine.GetEnrollmentProgress(ctx, enr.ID)
		if err != nil {
			t.Fatalf("GetEnrollmentProgress() error = %v", err)
		}
		if want := float64(i+1) * 25; prog.ProgressPercentage != want {
			t.Errorf("after %s ProgressPercentage = %v, want %v", sessionID, prog.ProgressPercentage, want)
		}
	}

	cert, err := engine.GetCertificate(ctx, enr.LearnerID, enr.CourseID)
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate() = %v, %v, want issued certificate", cert, err)
	}

	var n int
	if err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM progress_events WHERE enrollment_id = $1 AND event_type = $2`,
		enr.ID, progression.EventCertificateIssued,
	).Scan(&n); err != nil {
		t.Fatalf("count events error = %v", err)
	}
	if n != 1 {
		t.Errorf("certificate_issued events = %d, want 1", n)
	}
}
