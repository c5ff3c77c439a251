package interview

import (
	"fmt"
	"strings"
)

const (
	// Greeting opens every interview.
	Greeting = "Hi! My name is SallyBot and I'm your questioner. I'd like to ask a few questions to get to know you. What brings you here today?"
	// Closing is returned for every turn once the interview is over.
	Closing = "You're all done! I've compiled a profile on you and I'm ready to direct you to some connections. Type 'Finish' to continue."
	// ContinueSentinel is the evaluator's way of saying there is no substantial gap.
	ContinueSentinel = "Continue"
	// StartSentinel opens the interview.
	StartSentinel = "start"

	initialEvaluation = "A person who is trying to find meaningful work."

	questionerPersona = "You are a friend who is interviewing someone to match them with meaningful work. Be as personable as possible."
	evaluatorPersona  = "You are a life coach who is trying to determine a person's values, future goals, personal interests. Your goal is to have a thorough understanding of the person."
	criticizerPersona = "You are a manager who is giving constructive criticism on how to make your worker's work better."
)

// PivotDirective replaces the critique on re-evaluation turns.
const PivotDirective = "We now have a refreshed picture of this person. Do not refine the last question. " +
	"Ask a genuinely new question about a different topic among their personal values, personal goals or personal interests."

// IsContinue reports whether an evaluator critique is the "no substantial gap" sentinel.
func IsContinue(s string) bool {
	return strings.EqualFold(strings.Trim(strings.TrimSpace(s), `."'`), ContinueSentinel)
}

// IsStart reports whether an input opens the interview.
func IsStart(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, StartSentinel)
}

func draftQuestionPrompt(response string) string {
	return strings.Join([]string{
		"Here is the latest response from the person you are interviewing:",
		response,
		"",
		"Ask one investigative follow-up question that opens a new angle on their values, goals or interests.",
		"Broaden the conversation instead of drilling into a single detail.",
		"Output only the question.",
	}, "\n")
}

func rewordQuestionPrompt(response, draft, critique string) string {
	return strings.Join([]string{
		"You are receiving feedback based on how much we know about this person:",
		critique,
		"",
		"Their latest response was:",
		response,
		"",
		"Here is the previous question:",
		draft,
		"",
		"Reword the question, taking into account:",
		"1) Incorporate the feedback above.",
		"2) Keep it about their personal values, personal goals or personal interests.",
		"3) Acknowledge what they just said.",
		"4) Ask exactly one question.",
		"5) Keep the tone friendly. Avoid investigative or speculative framing unless the feedback asks for a new topic.",
		"",
		"Just output the reworded question.",
	}, "\n")
}

func updateEvaluationPrompt(window, evaluation string) string {
	return fmt.Sprintf("Here are the latest responses from the user:\n%s\n\n"+
		"This is your past impression:\n%s\n\n"+
		"What is your current impression of this user? Combine the new information with the past impression "+
		"into one coherent rewrite, weighted towards their values, goals and interests. Output only the updated impression.",
		window, evaluation)
}

func evaluationCritiquePrompt(evaluation string) string {
	return fmt.Sprintf("Here is the current evaluation:\n%s\n\n"+
		"Give one improvement on how the evaluation can be more specific and holistic.\n"+
		"If there is no substantial critique, output exactly %q.", evaluation, ContinueSentinel)
}

func questionCritiquePrompt(question, evaluation string) string {
	return strings.Join([]string{
		"The following is the question from a conversation:",
		question,
		"",
		"Here is feedback on the current personality evaluation of this user:",
		evaluation,
		"",
		"Provide a meaningful critique of the question based on that feedback.",
		"What can the questioner change so the next evaluation is more specific and confident?",
		critiqueLimits,
	}, "\n")
}

func pivotCritiquePrompt(question string) string {
	return strings.Join([]string{
		"The following is the question from a conversation:",
		question,
		"",
		"The evaluation of this user needs no further refinement on the current topic.",
		"Ask for a materially different question about a new topic among personal values, personal goals or personal interests.",
		critiqueLimits,
	}, "\n")
}

const critiqueLimits = "Limit your critique to 1 paragraph (50 words) but do not suggest any questions directly."
