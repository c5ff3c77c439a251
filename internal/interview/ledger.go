package interview

import (
	"slices"
	"strings"
)

// Ledger holds the asked questions and given answers in order.
type Ledger struct {
	questions []string
	answers   []string
}

func newLedger(questions, answers []string) *Ledger {
	return &Ledger{questions: slices.Clone(questions), answers: slices.Clone(answers)}
}

func (l *Ledger) appendAnswer(answer string) {
	l.answers = append(l.answers, answer)
}

func (l *Ledger) appendQuestion(question string) {
	l.questions = append(l.questions, question)
}

// Window joins the most recent k answers, oldest first. Fewer than k answers yields all of them.
func (l *Ledger) Window(k int) string {
	if k <= 0 {
		return ""
	}
	start := max(len(l.answers)-k, 0)
	return strings.Join(l.answers[start:], "\n")
}

func (l *Ledger) Questions() []string {
	return slices.Clone(l.questions)
}

func (l *Ledger) Answers() []string {
	return slices.Clone(l.answers)
}
