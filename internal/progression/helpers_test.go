package progression_test

import (
	"testing"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

const learnerID = "learner-1"

type fixture struct {
	engine     *progression.Engine
	store      *progression.MemoryStore
	events     *progression.MemoryEventLogger
	enrollment progression.Enrollment
}

func newFixture(t *testing.T, courses ...catalog.Course) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, progression.EngineConfig{}, courses...)
}

func newFixtureWithConfig(t *testing.T, cfg progression.EngineConfig, courses ...catalog.Course) *fixture {
	t.Helper()

	cat, err := catalog.New(courses...)
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}

	store := progression.NewMemoryStore()
	if fs, ok := cfg.Store.(*flakyStore); ok {
		store = fs.MemoryStore
	} else {
		cfg.Store = store
	}
	events := progression.NewMemoryEventLogger()
	cfg.Catalog = cat
	cfg.Events = events

	enr, err := store.CreateEnrollment(t.Context(), progression.Enrollment{
		LearnerID: learnerID,
		CourseID:  courses[0].ID,
		Status:    progression.EnrollmentApproved,
	})
	if err != nil {
		t.Fatalf("CreateEnrollment() error = %v", err)
	}

	return &fixture{
		engine:     progression.NewEngine(cfg),
		store:      store,
		events:     events,
		enrollment: enr,
	}
}

func (f *fixture) watch(t *testing.T, sessionID string, pct float64) progression.SessionProgress {
	t.Helper()
	p, err := f.engine.RecordWatchProgress(t.Context(), learnerID, f.enrollment.ID, sessionID, pct, int(pct)*6)
	if err != nil {
		t.Fatalf("RecordWatchProgress(%s, %v) error = %v", sessionID, pct, err)
	}
	return p
}

func (f *fixture) unlocked(t *testing.T, sessionID string) bool {
	t.Helper()
	ok, err := f.engine.IsUnlocked(t.Context(), f.enrollment.ID, sessionID)
	if err != nil {
		t.Fatalf("IsUnlocked(%s) error = %v", sessionID, err)
	}
	return ok
}

func videoSession(id string, sortOrder int) catalog.Session {
	return catalog.Session{ID: id, Kind: "video", SortOrder: sortOrder, RequiredWatchPercentage: 80}
}

// twoByTwoCourse has 2 modules x 2 sessions, sequential, no quizzes.
func twoByTwoCourse() catalog.Course {
	return catalog.Course{
		ID:                         "course-2x2",
		SequentialProgressRequired: true,
		Modules: []catalog.Module{
			{ID: "m1", SortOrder: 1, Sessions: []catalog.Session{videoSession("s1", 1), videoSession("s2", 2)}},
			{ID: "m2", SortOrder: 2, Sessions: []catalog.Session{videoSession("s3", 1), videoSession("s4", 2)}},
		},
	}
}

// singleCorrect is a question whose option "a" is the only correct one.
func singleCorrect(id string, points int) catalog.Question {
	return catalog.Question{
		ID:     id,
		Text:   "question " + id,
		Points: points,
		Options: []catalog.Option{
			{ID: "a", Text: "right", IsCorrect: true},
			{ID: "b", Text: "wrong"},
		},
	}
}

// multiCorrect is a question whose options "a" and "b" are both correct.
func multiCorrect(id string, points int) catalog.Question {
	return catalog.Question{
		ID:     id,
		Text:   "question " + id,
		Points: points,
		Options: []catalog.Option{
			{ID: "a", IsCorrect: true},
			{ID: "b", IsCorrect: true},
			{ID: "c"},
		},
	}
}

func fourQuestionQuiz(id string, passingScore, maxAttempts int) catalog.Quiz {
	return catalog.Quiz{
		ID:           id,
		PassingScore: passingScore,
		MaxAttempts:  maxAttempts,
		Questions: []catalog.Question{
			singleCorrect("q1", 25),
			singleCorrect("q2", 25),
			singleCorrect("q3", 25),
			singleCorrect("q4", 25),
		},
	}
}

// quizCourse has a lesson that requires its quiz, a follow-up session with its
// own quiz, and module-scoped quizzes for timing and shuffling.
func quizCourse() catalog.Course {
	shuffled := catalog.Quiz{ID: "q-shuffled", PassingScore: 50, ShuffleQuestions: true, ShuffleOptions: true}
	for _, id := range []string{"x1", "x2", "x3", "x4", "x5", "x6"} {
		q := singleCorrect(id, 10)
		q.Options = append(q.Options, catalog.Option{ID: "c"}, catalog.Option{ID: "d"})
		shuffled.Questions = append(shuffled.Questions, q)
	}

	return catalog.Course{
		ID:                         "quiz-course",
		SequentialProgressRequired: true,
		Modules: []catalog.Module{{
			ID:        "m1",
			SortOrder: 1,
			Sessions: []catalog.Session{
				{
					ID:                      "s-lesson",
					SortOrder:               1,
					RequiredWatchPercentage: 80,
					QuizCompletionRequired:  true,
					QuizPassingScore:        70,
					Quizzes:                 []catalog.Quiz{fourQuestionQuiz("q-lesson", 70, 3)},
				},
				{
					ID:                      "s-wrapup",
					SortOrder:               2,
					RequiredWatchPercentage: 50,
					Quizzes: []catalog.Quiz{{
						ID:        "q-wrapup",
						Questions: []catalog.Question{singleCorrect("w1", 10)},
					}},
				},
			},
			Quizzes: []catalog.Quiz{
				{
					ID:               "q-timed",
					PassingScore:     50,
					TimeLimitSeconds: 60,
					Questions:        []catalog.Question{singleCorrect("t1", 10), singleCorrect("t2", 10)},
				},
				{
					ID:           "q-multi",
					PassingScore: 50,
					Questions:    []catalog.Question{multiCorrect("mq", 10), singleCorrect("sq", 10)},
				},
				shuffled,
			},
		}},
	}
}

// finalCourse needs a final assessment scored at least 80.
func finalCourse() catalog.Course {
	return catalog.Course{
		ID:                          "final-course",
		FinalAssessmentRequired:     true,
		FinalAssessmentPassingScore: 80,
		Modules: []catalog.Module{{
			ID:       "fm1",
			Sessions: []catalog.Session{{ID: "fs1", RequiredWatchPercentage: 50}},
		}},
		Quizzes: []catalog.Quiz{{
			ID:           "q-final",
			PassingScore: 50,
			Questions:    []catalog.Question{multiCorrect("f1", 50), singleCorrect("f2", 50)},
		}},
	}
}

func answer(questionID string, optionIDs ...string) progression.Answer {
	return progression.Answer{QuestionID: questionID, OptionIDs: optionIDs}
}

func answerAt(seconds int, questionID string, optionIDs ...string) progression.Answer {
	a := answer(questionID, optionIDs...)
	a.AnsweredAtSeconds = &seconds
	return a
}
