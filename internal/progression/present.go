package progression

import (
	"context"
	"fmt"
	"slices"
)

// AttemptView is the presentation of a learner's next attempt at a quiz.
type AttemptView struct {
	AttemptID         string         `json:"attempt_id"`
	QuizID            string         `json:"quiz_id"`
	Title             string         `json:"title"`
	AttemptNumber     int            `json:"attempt_number"`
	AttemptsRemaining *int           `json:"attempts_remaining,omitempty"` // nil = unlimited
	TimeLimitSeconds  int            `json:"time_limit_seconds"`
	Questions         []QuestionView `json:"questions"`
}

// QuestionView hides correctness.
type QuestionView struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Points      int          `json:"points"`
	MultiSelect bool         `json:"multi_select"`
	Options     []OptionView `json:"options"`
}

// OptionView is one answer option as the learner sees it.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AttemptReview replays a graded attempt in the order the learner saw it.
type AttemptReview struct {
	Attempt   QuizAttempt      `json:"attempt"`
	Questions []ReviewQuestion `json:"questions"`
}

// ReviewQuestion is one graded question with the learner's selection.
type ReviewQuestion struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	Points       int            `json:"points"`
	IsCorrect    bool           `json:"is_correct"`
	PointsEarned int            `json:"points_earned"`
	Options      []ReviewOption `json:"options"`
}

// ReviewOption.IsCorrect is only set when the quiz reveals correct answers.
type ReviewOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Selected  bool   `json:"selected"`
	IsCorrect *bool  `json:"is_correct,omitempty"`
}

// PresentQuiz returns the question order for the learner's next attempt.
func (e *Engine) PresentQuiz(ctx context.Context, learnerID, quizID string) (AttemptView, error) {
	qc, err := e.quizAccess(ctx, learnerID, quizID)
	if err != nil {
		return AttemptView{}, err
	}
	prior, err := e.store.CountAttempts(ctx, learnerID, quizID)
	if err != nil {
		return AttemptView{}, fmt.Errorf("count attempts: %w", err)
	}
	if qc.limit > 0 && prior >= qc.limit {
		return AttemptView{}, ErrAttemptLimitExceeded.withf("quiz %s allows %d attempts", quizID, qc.limit)
	}

	number := prior + 1
	view := AttemptView{
		AttemptID:        AttemptID(quizID, learnerID, number),
		QuizID:           quizID,
		Title:            qc.quiz.Title,
		AttemptNumber:    number,
		TimeLimitSeconds: qc.quiz.TimeLimitSeconds,
	}
	if qc.limit > 0 {
		remaining := qc.limit - prior
		view.AttemptsRemaining = &remaining
	}

	for _, q := range presentationOrder(qc.quiz, view.AttemptID) {
		qv := QuestionView{ID: q.ID, Text: q.Text, Points: q.Points, MultiSelect: q.MultiCorrect()}
		for _, o := range q.Options {
			qv.Options = append(qv.Options, OptionView{ID: o.ID, Text: o.Text})
		}
		view.Questions = append(view.Questions, qv)
	}
	return view, nil
}

// ReviewAttempt replays one of the learner's graded attempts.
func (e *Engine) ReviewAttempt(ctx context.Context, learnerID, attemptID string) (AttemptReview, error) {
	attempt, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return AttemptReview{}, err
	}
	if attempt.LearnerID != learnerID {
		return AttemptReview{}, notFound("attempt", attemptID)
	}
	quiz, ok := e.catalog.Quiz(attempt.QuizID)
	if !ok {
		return AttemptReview{}, notFound("quiz", attempt.QuizID)
	}

	graded := make(map[string]QuestionAnswer, len(attempt.Answers))
	for _, qa := range attempt.Answers {
		graded[qa.QuestionID] = qa
	}

	review := AttemptReview{Attempt: attempt}
	for _, q := range presentationOrder(quiz, attempt.ID) {
		qa := graded[q.ID]
		rq := ReviewQuestion{
			ID:           q.ID,
			Text:         q.Text,
			Points:       q.Points,
			IsCorrect:    qa.IsCorrect,
			PointsEarned: qa.PointsEarned,
		}
		for _, o := range q.Options {
			ro := ReviewOption{ID: o.ID, Text: o.Text, Selected: slices.Contains(qa.SelectedOptionIDs, o.ID)}
			if quiz.ShowCorrectAnswers {
				correct := o.IsCorrect
				ro.IsCorrect = &correct
			}
			rq.Options = append(rq.Options, ro)
		}
		review.Questions = append(review.Questions, rq)
	}
	return review, nil
}

// ListAttempts returns the learner's attempts at a quiz, oldest first.
func (e *Engine) ListAttempts(ctx context.Context, learnerID, quizID string) ([]QuizAttempt, error) {
	if _, ok := e.catalog.Quiz(quizID); !ok {
		return nil, notFound("quiz", quizID)
	}
	return e.store.ListAttempts(ctx, learnerID, quizID)
}
