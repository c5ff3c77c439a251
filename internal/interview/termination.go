package interview

import (
	"time"

	"interview-agent/internal/domain"
)

// Termination tracks the turn budget and whether the interview is over.
type Termination struct {
	budget int
	done   bool
}

func newTermination(budget int, done bool) *Termination {
	return &Termination{budget: budget, done: done}
}

// Done reports whether no further agent calls may be made.
func (t *Termination) Done() bool {
	return t.done
}

// Check flips the done flag once the turn budget is reached. A non-positive budget never expires.
func (t *Termination) Check(turns int) bool {
	if t.budget > 0 && turns >= t.budget {
		t.done = true
	}
	return t.done
}

func (t *Termination) markDone() {
	t.done = true
}

// Terminate zips the ledgers into an interview record. When a question repeats,
// the answer recorded last wins.
func Terminate(id, name string, at time.Time, questions, answers []string, impression string) domain.InterviewRecord {
	qa := make(map[string]string, len(questions))
	for i, q := range questions {
		if i >= len(answers) {
			break
		}
		qa[q] = answers[i]
	}
	return domain.InterviewRecord{
		ID:             id,
		Name:           name,
		Time:           at,
		QuestionAnswer: qa,
		Impression:     impression,
	}
}
