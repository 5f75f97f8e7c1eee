package progression_test

import (
	"testing"

	"github.com/p-n-ai/pai-learn/internal/progression"
)

func TestMemoryEventLogger(t *testing.T) {
	logger := progression.NewMemoryEventLogger()
	ctx := t.Context()

	for _, eventType := range []string{
		progression.EventSessionCompleted,
		progression.EventSessionUnlocked,
		progression.EventSessionCompleted,
	} {
		if err := logger.LogEvent(ctx, progression.Event{LearnerID: "l1", EventType: eventType}); err != nil {
			t.Fatalf("LogEvent() error = %v", err)
		}
	}

	if got := logger.Count(progression.EventSessionCompleted); got != 2 {
		t.Errorf("Count(session_completed) = %d, want 2", got)
	}
	events := logger.Events()
	if len(events) != 3 {
		t.Fatalf("Events() len = %d, want 3", len(events))
	}
	if events[1].EventType != progression.EventSessionUnlocked {
		t.Errorf("Events()[1] = %s, want insertion order", events[1].EventType)
	}

	// Events returns a copy.
	events[0].EventType = "mutated"
	if logger.Events()[0].EventType == "mutated" {
		t.Error("Events() should not expose internal storage")
	}
}

func TestNopEventLogger(t *testing.T) {
	if err := (progression.NopEventLogger{}).LogEvent(t.Context(), progression.Event{}); err != nil {
		t.Errorf("LogEvent() error = %v", err)
	}
}

func TestPostgresEventLogger_Validation(t *testing.T) {
	tests := []struct {
		name   string
		logger *progression.PostgresEventLogger
		event  progression.Event
	}{
		{"nil logger", nil, progression.Event{LearnerID: "l1", EventType: "x"}},
		{"nil pool", progression.NewPostgresEventLogger(nil), progression.Event{LearnerID: "l1", EventType: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.logger.LogEvent(t.Context(), tt.event); err == nil {
				t.Error("LogEvent() should fail without a pool")
			}
		})
	}
}
