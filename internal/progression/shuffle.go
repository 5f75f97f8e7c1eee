package progression

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/p-n-ai/pai-learn/internal/catalog"
)

var attemptNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("pai-learn/quiz-attempt"))

// AttemptID derives the id of a learner's n-th attempt at a quiz. The same
// inputs always give the same id, so the presentation shown before
// submission and the one replayed for review share a seed.
func AttemptID(quizID, learnerID string, attemptNumber int) string {
	name := fmt.Sprintf("%s/%s/%d", quizID, learnerID, attemptNumber)
	return uuid.NewSHA1(attemptNamespace, []byte(name)).String()
}

// seededRand returns a generator seeded by a blake2b hash of parts.
func seededRand(parts ...string) *rand.Rand {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x00")))
	return rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(sum[0:8]),
		binary.BigEndian.Uint64(sum[8:16]),
	))
}

// presentationOrder returns the questions, and their options, in the order
// the learner sees them for the given attempt. Grading never depends on it.
func presentationOrder(quiz catalog.Quiz, attemptID string) []catalog.Question {
	questions := slices.Clone(quiz.Questions)
	if quiz.ShuffleQuestions {
		r := seededRand(attemptID, "questions")
		r.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	if quiz.ShuffleOptions {
		for i := range questions {
			options := slices.Clone(questions[i].Options)
			r := seededRand(attemptID, "options", questions[i].ID)
			r.Shuffle(len(options), func(a, b int) {
				options[a], options[b] = options[b], options[a]
			})
			questions[i].Options = options
		}
	}
	return questions
}
