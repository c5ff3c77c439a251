package domain

import "time"

// InterviewRecord is the terminal output of an interview handed to the matcher.
type InterviewRecord struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Time           time.Time         `json:"time"`
	QuestionAnswer map[string]string `json:"question_answer"`
	Impression     string            `json:"impression"`
}

// Match is one ranked candidate returned by the matcher.
type Match struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Text   string            `json:"text"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields,omitempty"`
}
