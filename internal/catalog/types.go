package catalog

// ScopeKind names the kind of entity a quiz is attached to.
type ScopeKind string

const (
	ScopeSession ScopeKind = "session"
	ScopeModule  ScopeKind = "module"
	ScopeCourse  ScopeKind = "course"
)

// QuizScope is the tagged owner of a quiz: exactly one kind and one id.
type QuizScope struct {
	Kind ScopeKind
	ID   string
}

// Course represents a course loaded from YAML.
type Course struct {
	ID                          string   `yaml:"id"`
	Title                       string   `yaml:"title"`
	SequentialProgressRequired  bool     `yaml:"sequential_progress_required"`
	FinalAssessmentRequired     bool     `yaml:"final_assessment_required"`
	FinalAssessmentPassingScore int      `yaml:"final_assessment_passing_score"`
	Modules                     []Module `yaml:"modules"`
	Quizzes                     []Quiz   `yaml:"quizzes"`
}

// Module is an ordered group of sessions within a course.
type Module struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title"`
	SortOrder int       `yaml:"sort_order"`
	Sessions  []Session `yaml:"sessions"`
	Quizzes   []Quiz    `yaml:"quizzes"`

	CourseID string `yaml:"-"`
	Seq      int    `yaml:"-"` // creation order within the course
}

// Session is the smallest unit of consumable content.
type Session struct {
	ID                      string  `yaml:"id"`
	Title                   string  `yaml:"title"`
	Kind                    string  `yaml:"kind"`
	SortOrder               int     `yaml:"sort_order"`
	RequiredWatchPercentage float64 `yaml:"required_watch_percentage"`
	ResourceAccessRequired  bool    `yaml:"resource_access_required"`
	QuizCompletionRequired  bool    `yaml:"quiz_completion_required"`
	QuizPassingScore        int     `yaml:"quiz_passing_score"`
	MaxQuizAttempts         int     `yaml:"max_quiz_attempts"` // 0 = unlimited
	Quizzes                 []Quiz  `yaml:"quizzes"`

	CourseID string `yaml:"-"`
	ModuleID string `yaml:"-"`
	Seq      int    `yaml:"-"` // creation order within the module
}

// Quiz is a graded set of questions attached to a session, module or course.
type Quiz struct {
	ID                 string     `yaml:"id"`
	Title              string     `yaml:"title"`
	PassingScore       int        `yaml:"passing_score"`
	MaxAttempts        int        `yaml:"max_attempts"`       // 0 = unlimited
	TimeLimitSeconds   int        `yaml:"time_limit_seconds"` // 0 = unlimited
	ShuffleQuestions   bool       `yaml:"shuffle_questions"`
	ShuffleOptions     bool       `yaml:"shuffle_options"`
	ShowCorrectAnswers bool       `yaml:"show_correct_answers"`
	Questions          []Question `yaml:"questions"`

	Scope    QuizScope `yaml:"-"`
	CourseID string    `yaml:"-"`
}

// Question belongs to one quiz and carries single- or multi-correct options.
type Question struct {
	ID      string   `yaml:"id"`
	Text    string   `yaml:"text"`
	Points  int      `yaml:"points"`
	Options []Option `yaml:"options"`
}

// Option is one selectable answer of a question.
type Option struct {
	ID        string `yaml:"id"`
	Text      string `yaml:"text"`
	IsCorrect bool   `yaml:"is_correct"`
}

// CorrectOptionIDs returns the ids of options flagged correct, in definition order.
func (q Question) CorrectOptionIDs() []string {
	var ids []string
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// MultiCorrect reports whether more than one option is correct.
func (q Question) MultiCorrect() bool {
	return len(q.CorrectOptionIDs()) > 1
}

// HasOption reports whether id names one of the question's options.
func (q Question) HasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// TotalPoints sums the points of all questions.
func (q Quiz) TotalPoints() int {
	total := 0
	for _, question := range q.Questions {
		total += question.Points
	}
	return total
}

// Question returns a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}
